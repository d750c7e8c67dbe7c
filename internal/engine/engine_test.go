package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mistakeknot/orgsync/internal/api"
	"github.com/mistakeknot/orgsync/internal/events"
	"github.com/mistakeknot/orgsync/internal/model"
	"github.com/mistakeknot/orgsync/internal/notify"
	"github.com/mistakeknot/orgsync/internal/orgs"
	"github.com/mistakeknot/orgsync/internal/store"
)

type fakeOrgAPI struct {
	calls []string
}

func (f *fakeOrgAPI) CreateOrg(ctx context.Context, req api.CreateOrgRequest) (model.Org, error) {
	f.calls = append(f.calls, "create")
	return model.Org{}, nil
}

func (f *fakeOrgAPI) DeleteOrg(ctx context.Context, id string) error {
	f.calls = append(f.calls, "delete")
	return nil
}

func (f *fakeOrgAPI) RefreshOrg(ctx context.Context, id string) error {
	f.calls = append(f.calls, "refresh")
	return nil
}

func (f *fakeOrgAPI) CommitOrg(ctx context.Context, id string, req api.CommitRequest) error {
	f.calls = append(f.calls, "commit")
	return nil
}

func (f *fakeOrgAPI) CheckOrgChanges(ctx context.Context, id string) error {
	f.calls = append(f.calls, "check")
	return nil
}

func (f *fakeOrgAPI) CanReassign(ctx context.Context, taskID string, role model.OrgType, ghUID string) (bool, error) {
	return true, nil
}

func (f *fakeOrgAPI) UpdateTask(ctx context.Context, id string, fields map[string]any) (model.Task, error) {
	f.calls = append(f.calls, "update_task")
	return model.Task{ID: id}, nil
}

func (f *fakeOrgAPI) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	projects []model.Project
	fetches  int
}

func (f *fakeFetcher) ListProjects(ctx context.Context) ([]model.Project, error) {
	f.fetches++
	return f.projects, nil
}

type fakeSubscriber struct {
	subs   [][2]string
	unsubs [][2]string
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, modelName, id string) {
	s.subs = append(s.subs, [2]string{modelName, id})
}

func (s *fakeSubscriber) Unsubscribe(ctx context.Context, modelName, id string) {
	s.unsubs = append(s.unsubs, [2]string{modelName, id})
}

type fakeNotifier struct {
	toasts       []notify.Toast
	connectivity []bool
}

func (n *fakeNotifier) Notify(t notify.Toast) { n.toasts = append(n.toasts, t) }
func (n *fakeNotifier) Connectivity(up bool)  { n.connectivity = append(n.connectivity, up) }

type fakeJournal struct {
	appends int
}

func (j *fakeJournal) Append(evt events.Event) error {
	j.appends++
	return nil
}

type testRig struct {
	engine  *Engine
	store   *store.Store
	api     *fakeOrgAPI
	fetcher *fakeFetcher
	subs    *fakeSubscriber
	notes   *fakeNotifier
	journal *fakeJournal
	machine *orgs.Machine
}

func newRig(currentUser string) *testRig {
	st := store.New()
	a := &fakeOrgAPI{}
	notes := &fakeNotifier{}
	subs := &fakeSubscriber{}
	fetcher := &fakeFetcher{}
	jnl := &fakeJournal{}
	dispatch := orgs.NewDispatcher(a, st, subs, notes, nil)
	machine := orgs.NewMachine(a, dispatch, nil)
	eng := New(Config{
		Store:       st,
		Dispatcher:  dispatch,
		Machine:     machine,
		Fetcher:     fetcher,
		Subscriber:  subs,
		Notifier:    notes,
		Journal:     jnl,
		CurrentUser: currentUser,
	})
	return &testRig{
		engine:  eng,
		store:   st,
		api:     a,
		fetcher: fetcher,
		subs:    subs,
		notes:   notes,
		journal: jnl,
		machine: machine,
	}
}

func orgEvent(t *testing.T, typ events.Type, org model.Org, user string) events.Event {
	t.Helper()
	raw, err := json.Marshal(org)
	if err != nil {
		t.Fatalf("marshal org: %v", err)
	}
	return events.Event{Type: typ, Payload: &events.Payload{Model: raw, OriginatingUser: user}}
}

func TestHandleEventUpsertsAndJournals(t *testing.T) {
	rig := newRig("")
	ctx := context.Background()

	org := model.Org{ID: "o1", Task: "t1", OrgType: model.OrgTypeDev}
	rig.engine.HandleEvent(ctx, orgEvent(t, events.OrgUpdate, org, ""))

	if _, ok := rig.store.OrgByID("o1"); !ok {
		t.Fatalf("expected org merged into store")
	}
	if rig.journal.appends != 1 {
		t.Fatalf("expected one journal append, got %d", rig.journal.appends)
	}
}

func TestUnknownEventIsHarmless(t *testing.T) {
	rig := newRig("")
	ctx := context.Background()

	rig.engine.HandleEvent(ctx, events.Event{Type: "SOMETHING_NEW", Payload: &events.Payload{
		Model: json.RawMessage(`{"id":"x"}`),
	}})
	rig.engine.HandleEvent(ctx, events.Event{OK: "subscribed"})

	if len(rig.store.Projects()) != 0 || len(rig.notes.toasts) != 0 {
		t.Fatalf("expected no state change from unknown events")
	}
}

func TestProvisionToastGatedByUser(t *testing.T) {
	org := model.Org{ID: "o1", Task: "t1", OrgType: model.OrgTypeDev, URL: "https://org.example"}

	rig := newRig("u1")
	rig.engine.HandleEvent(context.Background(), orgEvent(t, events.OrgProvision, org, "u1"))
	if len(rig.notes.toasts) != 1 {
		t.Fatalf("expected toast for originating user, got %d", len(rig.notes.toasts))
	}
	if rig.notes.toasts[0].LinkURL != "https://org.example" {
		t.Fatalf("expected org link in toast, got %+v", rig.notes.toasts[0])
	}

	other := newRig("u1")
	other.engine.HandleEvent(context.Background(), orgEvent(t, events.OrgProvision, org, "u2"))
	if len(other.notes.toasts) != 0 {
		t.Fatalf("expected no toast for another user's org")
	}
}

func TestProvisionFailedRemovesOptimisticOrg(t *testing.T) {
	rig := newRig("u1")
	ctx := context.Background()

	org := model.Org{ID: "o1", Task: "t1", OrgType: model.OrgTypeDev, LogURL: "https://logs.example/o1"}
	rig.store.UpsertOrg(org)

	rig.engine.HandleEvent(ctx, orgEvent(t, events.OrgProvisionFailed, org, "u1"))
	if _, ok := rig.store.OrgByID("o1"); ok {
		t.Fatalf("expected failed org removed")
	}
	if len(rig.notes.toasts) != 1 || rig.notes.toasts[0].Level != notify.LevelError {
		t.Fatalf("expected error toast, got %+v", rig.notes.toasts)
	}
	if rig.notes.toasts[0].LinkURL != "https://logs.example/o1" {
		t.Fatalf("expected failure log link, got %+v", rig.notes.toasts[0])
	}
}

func TestProvisioningSubscribesToOrg(t *testing.T) {
	rig := newRig("")
	ctx := context.Background()

	org := model.Org{ID: "o1", Task: "t1", OrgType: model.OrgTypeDev}
	rig.engine.HandleEvent(ctx, orgEvent(t, events.OrgProvisioning, org, ""))

	if len(rig.subs.subs) != 1 || rig.subs.subs[0] != [2]string{"scratchorg", "o1"} {
		t.Fatalf("expected subscription for provisioning org, got %v", rig.subs.subs)
	}
}

func TestSoftDeleteDiscriminatesByShape(t *testing.T) {
	rig := newRig("")
	ctx := context.Background()
	rig.store.SetEpics("p1", []model.Epic{{ID: "e1", Project: "p1"}}, true)
	rig.store.SetTasks("p1", []model.Task{{ID: "t1", Project: "p1", Epic: "e1"}}, true)

	// Task models carry both project and epic keys.
	taskRaw, _ := json.Marshal(model.Task{ID: "t1", Project: "p1", Epic: "e1"})
	rig.engine.HandleEvent(ctx, events.Event{Type: events.SoftDelete, Payload: &events.Payload{Model: taskRaw}})
	if len(rig.store.Tasks("p1")) != 0 {
		t.Fatalf("expected task removed")
	}
	if len(rig.store.Epics("p1")) != 1 {
		t.Fatalf("epic must be untouched by task soft-delete")
	}

	// Epic models carry a project key but no epic key.
	epicRaw, _ := json.Marshal(model.Epic{ID: "e1", Project: "p1"})
	rig.engine.HandleEvent(ctx, events.Event{Type: events.SoftDelete, Payload: &events.Payload{Model: epicRaw}})
	if len(rig.store.Epics("p1")) != 0 {
		t.Fatalf("expected epic removed")
	}
}

func TestCreatedEventsPrepend(t *testing.T) {
	rig := newRig("")
	ctx := context.Background()
	rig.store.SetTasks("p1", []model.Task{{ID: "t1", Project: "p1"}}, true)

	raw, _ := json.Marshal(model.Task{ID: "t2", Project: "p1"})
	rig.engine.HandleEvent(ctx, events.Event{Type: events.TaskCreate, Payload: &events.Payload{Model: raw}})

	tasks := rig.store.Tasks("p1")
	if len(tasks) != 2 || tasks[0].ID != "t2" {
		t.Fatalf("expected created task prepended, got %+v", tasks)
	}
}

func TestDeleteFlowDrivenByEvents(t *testing.T) {
	rig := newRig("")
	ctx := context.Background()

	org := model.Org{ID: "o1", Task: "t1", OrgType: model.OrgTypeDev}
	rig.store.UpsertOrg(org)

	if err := rig.machine.RequestDelete(ctx, org); err != nil {
		t.Fatalf("request delete: %v", err)
	}
	if rig.api.count("check") != 1 {
		t.Fatalf("expected changes check issued")
	}

	// The server raises the refreshing flag, then drops it with no unsaved
	// changes found; the delete proceeds without confirmation.
	checking := org
	checking.CurrentlyRefreshingChanges = true
	rig.engine.HandleEvent(ctx, orgEvent(t, events.OrgUpdate, checking, ""))

	done := org
	rig.engine.HandleEvent(ctx, orgEvent(t, events.OrgUpdate, done, ""))

	if rig.api.count("delete") != 1 {
		t.Fatalf("expected delete issued after clean check, got calls %v", rig.api.calls)
	}
	got, _ := rig.store.OrgByID("o1")
	if !got.DeleteQueued() {
		t.Fatalf("expected org queued for deletion")
	}

	// Actual removal arrives as its own event.
	rig.engine.HandleEvent(ctx, orgEvent(t, events.OrgDelete, org, ""))
	if _, ok := rig.store.OrgByID("o1"); ok {
		t.Fatalf("expected org removed after delete event")
	}
}

func TestCheckFailedEventClearsMachine(t *testing.T) {
	rig := newRig("")
	ctx := context.Background()

	org := model.Org{ID: "o1", Task: "t1", OrgType: model.OrgTypeDev}
	rig.store.UpsertOrg(org)
	if err := rig.machine.RequestDelete(ctx, org); err != nil {
		t.Fatalf("request delete: %v", err)
	}

	rig.engine.HandleEvent(ctx, orgEvent(t, events.OrgFetchChangesFailed, org, ""))
	if rig.machine.StateOf("o1", orgs.OpDelete) != orgs.StateIdle {
		t.Fatalf("expected machine idle after failed check event")
	}
	if rig.api.count("delete") != 0 {
		t.Fatalf("delete must not run after failed check")
	}
}

func TestReposRefreshTriggersRefetch(t *testing.T) {
	rig := newRig("")
	rig.fetcher.projects = []model.Project{{ID: "p1"}}

	rig.engine.HandleEvent(context.Background(), events.Event{Type: events.UserReposRefresh})
	if rig.fetcher.fetches != 1 {
		t.Fatalf("expected one refetch, got %d", rig.fetcher.fetches)
	}
	if len(rig.store.Projects()) != 1 {
		t.Fatalf("expected refetched projects in store")
	}
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	rig := newRig("")
	ctx := context.Background()

	rig.engine.Subscribe(ctx, "scratchorg", "o1")
	rig.engine.Subscribe(ctx, "task", "t1")
	rig.engine.Unsubscribe(ctx, "task", "t1")
	rig.subs.subs = nil

	rig.engine.OnReconnect(ctx)

	if len(rig.subs.subs) != 1 || rig.subs.subs[0] != [2]string{"scratchorg", "o1"} {
		t.Fatalf("expected only the active subscription replayed, got %v", rig.subs.subs)
	}
	if len(rig.notes.connectivity) != 1 || !rig.notes.connectivity[0] {
		t.Fatalf("expected connectivity-restored notification")
	}
	if rig.fetcher.fetches != 1 {
		t.Fatalf("expected refetch after reconnect")
	}
}
