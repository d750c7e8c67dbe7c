package orgs

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mistakeknot/orgsync/internal/model"
)

// Operation is a destructive org action gated by the unsaved-changes check.
type Operation string

const (
	OpDelete   Operation = "delete"
	OpRefresh  Operation = "refresh"
	OpReassign Operation = "reassign"
)

// State is the lifecycle of one pending operation.
type State int

const (
	// StateIdle means no operation is pending.
	StateIdle State = iota
	// StateChecking means the changes-check has been issued and its
	// completion is awaited via the org's currently_refreshing_changes
	// flag transitioning back to false.
	StateChecking
	// StateAwaitingConfirmation means the check found unsaved changes and
	// the operation is held for explicit user approval.
	StateAwaitingConfirmation
)

// Confirmation is handed to the Confirmer when a check finds unsaved
// changes. The operation proceeds only on a later Confirm call.
type Confirmation struct {
	Org model.Org
	Op  Operation
	// ReassignTarget is the new assignee for OpReassign.
	ReassignTarget string
	// RemoveOnly frames the reassign confirmation as removing the current
	// assignee: the server denied transferring the org's unsaved work.
	RemoveOnly bool
}

// Confirmer presents a destructive-action confirmation to the user. The
// machine does not wait on it; the user's decision comes back through
// Confirm or Cancel.
type Confirmer interface {
	RequestConfirmation(c Confirmation)
}

// tracker remembers one pending operation between the check and the
// decision. The id correlates log lines across the async gap.
type tracker struct {
	id         string
	op         Operation
	state      State
	task       model.Task
	role       model.OrgType
	target     string
	removeOnly bool
}

// Machine drives the check-before-destructive-action flow. Each (org,
// operation) pair is tracked independently; at most one outstanding check
// per pair is allowed, a second trigger while one is pending is ignored.
type Machine struct {
	api       API
	dispatch  *Dispatcher
	confirmer Confirmer

	// mu guards pending: ObserveOrg runs on the engine's event-handling
	// goroutine while Request*/Confirm/Cancel arrive from user-action
	// goroutines. mu is never held across API, confirmer, or dispatcher
	// calls.
	mu      sync.Mutex
	pending map[string]map[Operation]*tracker // keyed by org id, then operation
}

// NewMachine builds a lifecycle machine.
func NewMachine(a API, d *Dispatcher, c Confirmer) *Machine {
	return &Machine{
		api:       a,
		dispatch:  d,
		confirmer: c,
		pending:   make(map[string]map[Operation]*tracker),
	}
}

// StateOf reports the pending state for one (org, operation) pair.
func (m *Machine) StateOf(orgID string, op Operation) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.pending[orgID][op]; ok {
		return t.state
	}
	return StateIdle
}

// put and clear require mu to be held.

func (m *Machine) put(orgID string, t *tracker) {
	if m.pending[orgID] == nil {
		m.pending[orgID] = make(map[Operation]*tracker)
	}
	m.pending[orgID][t.op] = t
}

func (m *Machine) clear(orgID string, op Operation) {
	delete(m.pending[orgID], op)
	if len(m.pending[orgID]) == 0 {
		delete(m.pending, orgID)
	}
}

// RequestDelete starts the delete flow: issue the changes-check and record
// the pending operation. If the check request itself fails the operation
// reverts to idle; work that could not be verified is never destroyed.
func (m *Machine) RequestDelete(ctx context.Context, org model.Org) error {
	return m.startCheck(ctx, org, &tracker{id: uuid.New().String(), op: OpDelete, state: StateChecking})
}

// RequestRefresh starts the refresh flow under the same gating.
func (m *Machine) RequestRefresh(ctx context.Context, org model.Org) error {
	return m.startCheck(ctx, org, &tracker{id: uuid.New().String(), op: OpRefresh, state: StateChecking})
}

// RequestReassign starts the reassign flow. Before checking the current
// owner's unsaved work, the server is asked whether transferring the org is
// permitted at all; if not, the flow continues but the confirmation is
// framed as removing the current assignee.
func (m *Machine) RequestReassign(ctx context.Context, org model.Org, task model.Task, role model.OrgType, ghUID string) error {
	if m.StateOf(org.ID, OpReassign) != StateIdle {
		return nil
	}
	can, err := m.api.CanReassign(ctx, task.ID, role, ghUID)
	if err != nil {
		return fmt.Errorf("reassign capability check: %w", err)
	}
	return m.startCheck(ctx, org, &tracker{
		id:         uuid.New().String(),
		op:         OpReassign,
		state:      StateChecking,
		task:       task,
		role:       role,
		target:     ghUID,
		removeOnly: !can,
	})
}

func (m *Machine) startCheck(ctx context.Context, org model.Org, t *tracker) error {
	m.mu.Lock()
	if _, ok := m.pending[org.ID][t.op]; ok {
		m.mu.Unlock()
		return nil
	}
	m.put(org.ID, t)
	m.mu.Unlock()

	if err := m.api.CheckOrgChanges(ctx, org.ID); err != nil {
		m.mu.Lock()
		m.clear(org.ID, t.op)
		m.mu.Unlock()
		return fmt.Errorf("changes check: %w", err)
	}

	// Raise the in-progress flag locally so a single flag-false update
	// completes the check even when the server's flag-true update is
	// coalesced away or lost across a reconnect.
	org.CurrentlyRefreshingChanges = true
	m.dispatch.store.UpsertOrg(org)
	return nil
}

// ObserveOrg is called for every org update merged into the store. The
// check is considered finished when currently_refreshing_changes goes from
// true to false; every operation in Checking state then branches on
// has_unsaved_changes. Overlapping checks on the same org would make this
// transition ambiguous; one check per (org, operation) is enforced at
// request time.
func (m *Machine) ObserveOrg(ctx context.Context, before, after model.Org) {
	if !(before.CurrentlyRefreshingChanges && !after.CurrentlyRefreshingChanges) {
		return
	}

	var (
		confirmations []Confirmation
		ready         []*tracker
	)
	m.mu.Lock()
	for op, t := range m.pending[after.ID] {
		if t.state != StateChecking {
			continue
		}
		if after.HasUnsavedChanges {
			t.state = StateAwaitingConfirmation
			confirmations = append(confirmations, Confirmation{
				Org:            after,
				Op:             op,
				ReassignTarget: t.target,
				RemoveOnly:     t.removeOnly,
			})
			continue
		}
		ready = append(ready, t)
	}
	m.mu.Unlock()

	if m.confirmer != nil {
		for _, c := range confirmations {
			m.confirmer.RequestConfirmation(c)
		}
	}
	for _, t := range ready {
		m.execute(ctx, after, t)
	}
}

// CheckFailed reverts every checking operation on the org to idle. Called
// when the changes-check itself fails server-side.
func (m *Machine) CheckFailed(orgID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for op, t := range m.pending[orgID] {
		if t.state == StateChecking {
			m.clear(orgID, op)
		}
	}
}

// Confirm proceeds with an operation held for user approval.
func (m *Machine) Confirm(ctx context.Context, orgID string, op Operation) error {
	m.mu.Lock()
	t, ok := m.pending[orgID][op]
	if !ok || t.state != StateAwaitingConfirmation {
		m.mu.Unlock()
		return fmt.Errorf("confirm %s: no operation awaiting confirmation for org %s", op, orgID)
	}
	m.mu.Unlock()

	org, ok := m.dispatch.store.OrgByID(orgID)
	if !ok {
		m.mu.Lock()
		m.clear(orgID, op)
		m.mu.Unlock()
		return fmt.Errorf("confirm %s: org %s no longer in store", op, orgID)
	}
	m.execute(ctx, org, t)
	return nil
}

// Cancel abandons an operation held for user approval.
func (m *Machine) Cancel(orgID string, op Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear(orgID, op)
}

// execute clears the tracker immediately and issues the underlying request;
// the subsequent success or failure is the event channel's business, not
// the machine's.
func (m *Machine) execute(ctx context.Context, org model.Org, t *tracker) {
	m.mu.Lock()
	m.clear(org.ID, t.op)
	m.mu.Unlock()
	switch t.op {
	case OpDelete:
		_ = m.dispatch.DeleteOrg(ctx, org)
	case OpRefresh:
		_ = m.dispatch.RefreshOrg(ctx, org)
	case OpReassign:
		target := t.target
		if t.removeOnly {
			target = ""
		}
		_ = m.dispatch.ReassignTask(ctx, t.task, t.role, target)
	}
}
