// Package orgs coordinates scratch org lifecycle operations: optimistic
// dispatch of create/delete/refresh/commit/reassign requests, and the
// check-before-destructive-action state machine that gates them.
package orgs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/orgsync/internal/api"
	"github.com/mistakeknot/orgsync/internal/model"
	"github.com/mistakeknot/orgsync/internal/notify"
	"github.com/mistakeknot/orgsync/internal/store"
)

// API is the slice of the REST client the org coordinator needs.
type API interface {
	CreateOrg(ctx context.Context, req api.CreateOrgRequest) (model.Org, error)
	DeleteOrg(ctx context.Context, id string) error
	RefreshOrg(ctx context.Context, id string) error
	CommitOrg(ctx context.Context, id string, req api.CommitRequest) error
	CheckOrgChanges(ctx context.Context, id string) error
	CanReassign(ctx context.Context, taskID string, role model.OrgType, ghUID string) (bool, error)
	UpdateTask(ctx context.Context, id string, fields map[string]any) (model.Task, error)
}

// Subscriber requests event delivery for one object.
type Subscriber interface {
	Subscribe(ctx context.Context, modelName, id string)
}

// WriteKind names an optimistic write awaiting out-of-band confirmation.
type WriteKind string

const (
	WriteProvision WriteKind = "provision"
	WriteDelete    WriteKind = "delete"
	WriteRefresh   WriteKind = "refresh"
	WriteCommit    WriteKind = "commit"
	WriteReassign  WriteKind = "reassign"
)

// PendingWrite is an optimistic mutation whose confirmation arrives via the
// event channel rather than the request's own response.
type PendingWrite struct {
	ID        string
	OrgID     string
	Kind      WriteKind
	StartedAt time.Time
}

// Dispatcher wraps user-triggered org mutations with optimistic store
// transitions and tracks them until the matching socket event lands.
type Dispatcher struct {
	api    API
	store  *store.Store
	subs   Subscriber
	notify notify.Notifier
	log    *slog.Logger

	// alive gates store writes after async returns; once the owning
	// context is torn down, late results must not touch state.
	alive atomic.Bool

	mu      sync.Mutex
	pending map[string]PendingWrite // keyed by orgID + "/" + kind
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(a API, st *store.Store, subs Subscriber, n notify.Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		api:     a,
		store:   st,
		subs:    subs,
		notify:  n,
		log:     log,
		pending: make(map[string]PendingWrite),
	}
	d.alive.Store(true)
	return d
}

// Close marks the dispatcher dead; in-flight requests finish but no longer
// apply results to the store.
func (d *Dispatcher) Close() {
	d.alive.Store(false)
}

func pendingKey(orgID string, kind WriteKind) string {
	return orgID + "/" + string(kind)
}

func (d *Dispatcher) track(orgID string, kind WriteKind) PendingWrite {
	w := PendingWrite{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Kind:      kind,
		StartedAt: time.Now(),
	}
	d.mu.Lock()
	d.pending[pendingKey(orgID, kind)] = w
	d.mu.Unlock()
	return w
}

// Resolve removes and returns the pending write matching an arriving
// confirmation or failure event. ok is false when no write was pending,
// e.g. the operation was triggered by another client.
func (d *Dispatcher) Resolve(orgID string, kind WriteKind) (PendingWrite, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.pending[pendingKey(orgID, kind)]
	if ok {
		delete(d.pending, pendingKey(orgID, kind))
	}
	return w, ok
}

func (d *Dispatcher) untrack(orgID string, kind WriteKind) {
	d.mu.Lock()
	delete(d.pending, pendingKey(orgID, kind))
	d.mu.Unlock()
}

// CreateOrg issues an org creation request and merges the returned,
// not-yet-ready org into the store. The org stays "creating" until a
// provision event arrives. subscribe additionally requests event delivery
// for the new org's id.
func (d *Dispatcher) CreateOrg(ctx context.Context, parent model.Ref, role model.OrgType, subscribe bool) (model.Org, error) {
	req := api.CreateOrgRequest{OrgType: role}
	switch parent.Kind {
	case model.ParentTask:
		req.Task = parent.ID
	case model.ParentEpic:
		req.Epic = parent.ID
	case model.ParentProject:
		req.Project = parent.ID
	default:
		return model.Org{}, fmt.Errorf("create org: unknown parent kind %q", parent.Kind)
	}

	org, err := d.api.CreateOrg(ctx, req)
	if err != nil {
		return model.Org{}, err
	}
	if !d.alive.Load() {
		return org, nil
	}
	d.store.UpsertOrg(org)
	d.track(org.ID, WriteProvision)
	if subscribe && d.subs != nil {
		d.subs.Subscribe(ctx, "scratchorg", org.ID)
	}
	return org, nil
}

// DeleteOrg queues an org for deletion: the soft-delete marker is set
// optimistically, and cleared again if the request itself fails. Actual
// removal arrives as a socket event.
func (d *Dispatcher) DeleteOrg(ctx context.Context, org model.Org) error {
	now := time.Now()
	org.DeleteQueuedAt = &now
	d.store.UpsertOrg(org)
	d.track(org.ID, WriteDelete)

	if err := d.api.DeleteOrg(ctx, org.ID); err != nil {
		d.untrack(org.ID, WriteDelete)
		if d.alive.Load() {
			org.DeleteQueuedAt = nil
			d.store.UpsertOrg(org)
			d.notify.Notify(notify.Toast{
				Level:   notify.LevelError,
				Summary: "org deletion failed",
				Detail:  err.Error(),
			})
		}
		return err
	}
	return nil
}

// RefreshOrg requests a rebuild of the org from its parent branch. The
// REST call only acknowledges; success or failure arrives by socket event,
// so the in-flight flag stays up until then.
func (d *Dispatcher) RefreshOrg(ctx context.Context, org model.Org) error {
	org.CurrentlyRefreshingOrg = true
	d.store.UpsertOrg(org)
	d.track(org.ID, WriteRefresh)

	if err := d.api.RefreshOrg(ctx, org.ID); err != nil {
		d.untrack(org.ID, WriteRefresh)
		if d.alive.Load() {
			org.CurrentlyRefreshingOrg = false
			d.store.UpsertOrg(org)
			d.notify.Notify(notify.Toast{
				Level:   notify.LevelError,
				Summary: "org refresh failed",
				Detail:  err.Error(),
			})
		}
		return err
	}
	return nil
}

// CommitOrg captures selected org changes to version control. Acknowledge
// only; the outcome is socket-delivered.
func (d *Dispatcher) CommitOrg(ctx context.Context, org model.Org, req api.CommitRequest) error {
	org.CurrentlyCapturingChanges = true
	d.store.UpsertOrg(org)
	d.track(org.ID, WriteCommit)

	if err := d.api.CommitOrg(ctx, org.ID, req); err != nil {
		d.untrack(org.ID, WriteCommit)
		if d.alive.Load() {
			org.CurrentlyCapturingChanges = false
			d.store.UpsertOrg(org)
			d.notify.Notify(notify.Toast{
				Level:   notify.LevelError,
				Summary: "commit failed",
				Detail:  err.Error(),
			})
		}
		return err
	}
	return nil
}

// ReassignTask writes a task's role assignment directly. Unlike refresh and
// delete this is synchronous: the patched task in the response is final.
// ghUID empty removes the assignee. When an org exists for the role, its
// reassigning flag is raised optimistically; the org-side transfer outcome
// still arrives by socket event.
func (d *Dispatcher) ReassignTask(ctx context.Context, task model.Task, role model.OrgType, ghUID string) error {
	field := assignmentField(role)
	if field == "" {
		return fmt.Errorf("reassign: role %q has no assignment field", role)
	}

	org, hasOrg := d.store.OrgForParent(model.Ref{Kind: model.ParentTask, ID: task.ID}, role)
	if hasOrg && ghUID != "" {
		org.CurrentlyReassigningUser = true
		d.store.UpsertOrg(org)
		d.track(org.ID, WriteReassign)
	}

	var value any
	if ghUID != "" {
		value = ghUID
	}
	updated, err := d.api.UpdateTask(ctx, task.ID, map[string]any{field: value})
	if err != nil {
		if hasOrg && ghUID != "" {
			d.untrack(org.ID, WriteReassign)
		}
		if d.alive.Load() {
			if hasOrg && ghUID != "" {
				org.CurrentlyReassigningUser = false
				d.store.UpsertOrg(org)
			}
			d.notify.Notify(notify.Toast{
				Level:   notify.LevelError,
				Summary: "reassignment failed",
				Detail:  err.Error(),
			})
		}
		return err
	}
	if d.alive.Load() {
		d.store.UpsertTask(updated)
	}
	return nil
}

func assignmentField(role model.OrgType) string {
	switch role {
	case model.OrgTypeDev:
		return "assigned_dev"
	case model.OrgTypeQA:
		return "assigned_qa"
	default:
		return ""
	}
}
