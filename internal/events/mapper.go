package events

// entry describes how one event type maps to a command: whether a model is
// required, and the constructor that builds the command from the payload.
type entry struct {
	needsModel bool
	build      func(p Payload) Command
}

var table = map[Type]entry{
	UserReposRefresh: {build: func(Payload) Command {
		return RefetchProjects{}
	}},
	UserReposError: {build: func(p Payload) Command {
		return ProjectsRefreshError{Message: p.Message}
	}},

	ProjectUpdate: {needsModel: true, build: func(p Payload) Command {
		return UpsertProject{Model: p.Model}
	}},
	ProjectUpdateError: {needsModel: true, build: func(p Payload) Command {
		return ProjectError{Model: p.Model, Message: p.Message}
	}},

	EpicCreate: {needsModel: true, build: func(p Payload) Command {
		return UpsertEpic{Model: p.Model, Created: true}
	}},
	EpicUpdate: {needsModel: true, build: func(p Payload) Command {
		return UpsertEpic{Model: p.Model}
	}},
	EpicCreatePR: {needsModel: true, build: func(p Payload) Command {
		return UpsertEpic{Model: p.Model}
	}},
	EpicCreatePRFailed: {needsModel: true, build: func(p Payload) Command {
		return EpicPRFailed{Model: p.Model, Message: p.Message, OriginatingUser: p.OriginatingUser}
	}},

	TaskCreate: {needsModel: true, build: func(p Payload) Command {
		return UpsertTask{Model: p.Model, Created: true}
	}},
	TaskUpdate: {needsModel: true, build: func(p Payload) Command {
		return UpsertTask{Model: p.Model}
	}},
	TaskCreatePR: {needsModel: true, build: func(p Payload) Command {
		return UpsertTask{Model: p.Model}
	}},
	TaskCreatePRFailed: {needsModel: true, build: func(p Payload) Command {
		return TaskPRFailed{Model: p.Model, Message: p.Message, OriginatingUser: p.OriginatingUser}
	}},

	OrgProvisioning: {needsModel: true, build: func(p Payload) Command {
		return OrgProvisioningUpdate{Model: p.Model}
	}},
	OrgProvision: {needsModel: true, build: func(p Payload) Command {
		return OrgProvisioned{Model: p.Model, OriginatingUser: p.OriginatingUser}
	}},
	OrgProvisionFailed: {needsModel: true, build: func(p Payload) Command {
		return OrgProvisionFailedCmd{Model: p.Model, Message: p.Message, OriginatingUser: p.OriginatingUser}
	}},
	OrgUpdate: {needsModel: true, build: func(p Payload) Command {
		return UpsertOrg{Model: p.Model}
	}},
	OrgFetchChangesFailed: {needsModel: true, build: func(p Payload) Command {
		return OrgFlagsFailed{Op: "check", Model: p.Model, Message: p.Message, OriginatingUser: p.OriginatingUser}
	}},
	OrgDelete: {needsModel: true, build: func(p Payload) Command {
		return RemoveOrg{Model: p.Model}
	}},
	OrgDeleteFailed: {needsModel: true, build: func(p Payload) Command {
		return OrgFlagsFailed{Op: "delete", Model: p.Model, Message: p.Message, OriginatingUser: p.OriginatingUser}
	}},
	OrgRemove: {needsModel: true, build: func(p Payload) Command {
		return OrgRemoved{Model: p.Model, Message: p.Message, OriginatingUser: p.OriginatingUser}
	}},
	OrgRefresh: {needsModel: true, build: func(p Payload) Command {
		return UpsertOrg{Model: p.Model}
	}},
	OrgRefreshFailed: {needsModel: true, build: func(p Payload) Command {
		return OrgFlagsFailed{Op: "refresh", Model: p.Model, Message: p.Message, OriginatingUser: p.OriginatingUser}
	}},
	OrgCommitChanges: {needsModel: true, build: func(p Payload) Command {
		return OrgCommitted{Model: p.Model, OriginatingUser: p.OriginatingUser}
	}},
	OrgCommitFailed: {needsModel: true, build: func(p Payload) Command {
		return OrgFlagsFailed{Op: "commit", Model: p.Model, Message: p.Message, OriginatingUser: p.OriginatingUser}
	}},
	OrgRecreate: {needsModel: true, build: func(p Payload) Command {
		return OrgRecreated{Model: p.Model}
	}},
	OrgRefreshDatasets: {needsModel: true, build: func(p Payload) Command {
		return UpsertOrg{Model: p.Model}
	}},
	OrgReassign: {needsModel: true, build: func(p Payload) Command {
		return UpsertOrg{Model: p.Model}
	}},
	OrgReassignFailed: {needsModel: true, build: func(p Payload) Command {
		return OrgFlagsFailed{Op: "reassign", Model: p.Model, Message: p.Message, OriginatingUser: p.OriginatingUser}
	}},

	SoftDelete: {needsModel: true, build: func(p Payload) Command {
		return SoftDeleted{Model: p.Model}
	}},
}

// Map turns an inbound event into a command, or nil when the event carries
// nothing actionable: subscription acks, unknown types, and events missing a
// required model all map to nil rather than an error. The channel must stay
// resilient to protocol skew.
func Map(e Event) Command {
	if e.IsAck() {
		return nil
	}
	ent, ok := table[e.Type]
	if !ok {
		return nil
	}
	var p Payload
	if e.Payload != nil {
		p = *e.Payload
	}
	if ent.needsModel && len(p.Model) == 0 {
		return nil
	}
	return ent.build(p)
}
