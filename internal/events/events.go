// Package events defines the inbound socket protocol and the pure mapping
// from server-pushed events to store commands.
package events

import "encoding/json"

// Type identifies a server-pushed event.
type Type string

const (
	UserReposRefresh Type = "USER_REPOS_REFRESH"
	UserReposError   Type = "USER_REPOS_ERROR"

	ProjectUpdate      Type = "PROJECT_UPDATE"
	ProjectUpdateError Type = "PROJECT_UPDATE_ERROR"

	EpicCreate         Type = "EPIC_CREATE"
	EpicUpdate         Type = "EPIC_UPDATE"
	EpicCreatePR       Type = "EPIC_CREATE_PR"
	EpicCreatePRFailed Type = "EPIC_CREATE_PR_FAILED"

	TaskCreate         Type = "TASK_CREATE"
	TaskUpdate         Type = "TASK_UPDATE"
	TaskCreatePR       Type = "TASK_CREATE_PR"
	TaskCreatePRFailed Type = "TASK_CREATE_PR_FAILED"

	OrgProvisioning       Type = "SCRATCH_ORG_PROVISIONING"
	OrgProvision          Type = "SCRATCH_ORG_PROVISION"
	OrgProvisionFailed    Type = "SCRATCH_ORG_PROVISION_FAILED"
	OrgUpdate             Type = "SCRATCH_ORG_UPDATE"
	OrgFetchChangesFailed Type = "SCRATCH_ORG_FETCH_CHANGES_FAILED"
	OrgDelete             Type = "SCRATCH_ORG_DELETE"
	OrgDeleteFailed       Type = "SCRATCH_ORG_DELETE_FAILED"
	OrgRemove             Type = "SCRATCH_ORG_REMOVE"
	OrgRefresh            Type = "SCRATCH_ORG_REFRESH"
	OrgRefreshFailed      Type = "SCRATCH_ORG_REFRESH_FAILED"
	OrgCommitChanges      Type = "SCRATCH_ORG_COMMIT_CHANGES"
	OrgCommitFailed       Type = "SCRATCH_ORG_COMMIT_CHANGES_FAILED"
	OrgRecreate           Type = "SCRATCH_ORG_RECREATE"
	OrgRefreshDatasets    Type = "SCRATCH_ORG_REFRESH_DATASETS"
	OrgReassign           Type = "SCRATCH_ORG_REASSIGN"
	OrgReassignFailed     Type = "SCRATCH_ORG_REASSIGN_FAILED"

	SoftDelete Type = "SOFT_DELETE"
)

// Payload is the inner body of a domain event. Model holds the full updated
// object; Message carries diagnostic detail on failure events;
// OriginatingUser identifies whose action triggered the server-side
// operation, used to gate toasts.
type Payload struct {
	Model           json.RawMessage `json:"model"`
	Message         string          `json:"message,omitempty"`
	OriginatingUser string          `json:"originating_user_id,omitempty"`
}

// Event is one inbound socket frame. A frame with an empty Type is a
// subscription acknowledgment, not a domain event.
type Event struct {
	Type    Type     `json:"type"`
	Payload *Payload `json:"payload,omitempty"`

	// Ack fields, set only on frames without a type.
	OK    string `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// IsAck reports whether the frame is a subscribe/unsubscribe acknowledgment.
func (e *Event) IsAck() bool {
	return e.Type == ""
}

// SubscribeAction is the verb of an outbound subscription frame.
type SubscribeAction string

const (
	ActionSubscribe   SubscribeAction = "SUBSCRIBE"
	ActionUnsubscribe SubscribeAction = "UNSUBSCRIBE"
)

// SubscribeRequest is the outbound frame requesting event delivery for one
// object.
type SubscribeRequest struct {
	Model  string          `json:"model"`
	ID     string          `json:"id"`
	Action SubscribeAction `json:"action"`
}
