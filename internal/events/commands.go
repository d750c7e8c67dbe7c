package events

import "encoding/json"

// Command is the closed set of state mutations an event can map to. The
// engine applies commands with a type switch; adding a command without a
// handler is caught by the default branch logging an unhandled kind.
type Command interface {
	isCommand()
}

// RefetchProjects asks the engine to re-fetch the full project list after
// the server finished refreshing repositories.
type RefetchProjects struct{}

// ProjectsRefreshError surfaces a failed repository refresh.
type ProjectsRefreshError struct {
	Message string
}

// UpsertProject merges a full project model into the store.
type UpsertProject struct {
	Model json.RawMessage
}

// ProjectError surfaces a failed project update alongside the delivered
// model.
type ProjectError struct {
	Model   json.RawMessage
	Message string
}

// UpsertEpic merges a full epic model into the store. Created marks a
// create event, which prepends instead of replacing.
type UpsertEpic struct {
	Model   json.RawMessage
	Created bool
}

// EpicPRFailed merges the delivered epic and reports the failed PR creation.
type EpicPRFailed struct {
	Model           json.RawMessage
	Message         string
	OriginatingUser string
}

// UpsertTask merges a full task model into the store. Created marks a
// create event, which prepends instead of replacing.
type UpsertTask struct {
	Model   json.RawMessage
	Created bool
}

// TaskPRFailed merges the delivered task and reports the failed PR creation.
type TaskPRFailed struct {
	Model           json.RawMessage
	Message         string
	OriginatingUser string
}

// OrgProvisioningUpdate merges an in-flight org and subscribes to its id for
// further provisioning updates.
type OrgProvisioningUpdate struct {
	Model json.RawMessage
}

// OrgProvisioned merges the now-ready org; toast-worthy for the originating
// user.
type OrgProvisioned struct {
	Model           json.RawMessage
	OriginatingUser string
}

// OrgProvisionFailedCmd removes the optimistic org and surfaces the failure,
// including a log link when the server provides one.
type OrgProvisionFailedCmd struct {
	Model           json.RawMessage
	Message         string
	OriginatingUser string
}

// UpsertOrg merges a full org model into the store.
type UpsertOrg struct {
	Model json.RawMessage
}

// OrgFlagsFailed merges the delivered org after a failed long-running
// operation; the delivered model carries the rolled-back in-flight flags.
// Op names the operation for the toast.
type OrgFlagsFailed struct {
	Op              string
	Model           json.RawMessage
	Message         string
	OriginatingUser string
}

// RemoveOrg removes the referenced org from the store.
type RemoveOrg struct {
	Model json.RawMessage
}

// OrgRemoved removes the org and notifies the originating user that it was
// deleted out from under them (expiry, external deletion).
type OrgRemoved struct {
	Model           json.RawMessage
	Message         string
	OriginatingUser string
}

// OrgCommitted merges the org after a successful commit; toast-worthy.
type OrgCommitted struct {
	Model           json.RawMessage
	OriginatingUser string
}

// OrgRecreated merges the org and re-subscribes to its id; the server is
// provisioning a replacement.
type OrgRecreated struct {
	Model json.RawMessage
}

// SoftDeleted removes the referenced entity from whichever collection it
// belongs to; the collection is determined by the model's structural shape.
type SoftDeleted struct {
	Model json.RawMessage
}

func (RefetchProjects) isCommand()       {}
func (ProjectsRefreshError) isCommand()  {}
func (UpsertProject) isCommand()         {}
func (ProjectError) isCommand()          {}
func (UpsertEpic) isCommand()            {}
func (EpicPRFailed) isCommand()          {}
func (UpsertTask) isCommand()            {}
func (TaskPRFailed) isCommand()          {}
func (OrgProvisioningUpdate) isCommand() {}
func (OrgProvisioned) isCommand()        {}
func (OrgProvisionFailedCmd) isCommand() {}
func (UpsertOrg) isCommand()             {}
func (OrgFlagsFailed) isCommand()        {}
func (RemoveOrg) isCommand()             {}
func (OrgRemoved) isCommand()            {}
func (OrgCommitted) isCommand()          {}
func (OrgRecreated) isCommand()          {}
func (SoftDeleted) isCommand()           {}
