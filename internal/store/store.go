// Package store holds the normalized client-side view of projects, epics,
// tasks, and orgs. It is the single source of truth; callers get copies from
// selectors and never hold live references into the store.
package store

import (
	"sync"

	"github.com/mistakeknot/orgsync/internal/model"
)

// Store is a mutex-guarded set of per-parent collections. Collections keep
// insertion order; newly created entities are prepended because the server
// orders newest-first.
type Store struct {
	mu sync.RWMutex

	projects        []model.Project
	projectsFetched bool

	epics        map[string][]model.Epic // keyed by project id
	epicsFetched map[string]bool

	tasks        map[string][]model.Task // keyed by project id
	tasksFetched map[string]bool

	orgs map[string][]model.Org // keyed by parent key
}

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.projects = nil
	s.projectsFetched = false
	s.epics = make(map[string][]model.Epic)
	s.epicsFetched = make(map[string]bool)
	s.tasks = make(map[string][]model.Task)
	s.tasksFetched = make(map[string]bool)
	s.orgs = make(map[string][]model.Org)
}

// Reset clears every collection back to its empty default. Dispatched on
// logout and session refetch.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func parentKey(r model.Ref) string {
	return string(r.Kind) + ":" + r.ID
}

// mergeByID implements fetch semantics: on reset the incoming slice replaces
// the collection; otherwise entries whose id is already present are skipped
// (first-seen wins) and new entries are appended in server order.
func mergeByID[T any](existing, incoming []T, id func(T) string, reset bool) []T {
	if reset {
		return append([]T(nil), incoming...)
	}
	seen := make(map[string]bool, len(existing))
	for _, it := range existing {
		seen[id(it)] = true
	}
	out := append([]T(nil), existing...)
	for _, it := range incoming {
		if seen[id(it)] {
			continue
		}
		seen[id(it)] = true
		out = append(out, it)
	}
	return out
}

// prependNew prepends item unless an entry with its id already exists, which
// makes create idempotent against duplicate delivery (REST response plus
// socket echo).
func prependNew[T any](existing []T, item T, id func(T) string) []T {
	for _, it := range existing {
		if id(it) == id(item) {
			return existing
		}
	}
	return append([]T{item}, existing...)
}

// upsert replaces the entry matching item's id, or appends when absent. An
// update for an unknown entity is an implicit insert: it may have been
// created by another user and this is the first delivery to this client.
func upsert[T any](existing []T, item T, id func(T) string) []T {
	for i, it := range existing {
		if id(it) == id(item) {
			out := append([]T(nil), existing...)
			out[i] = item
			return out
		}
	}
	return append(append([]T(nil), existing...), item)
}

func removeByID[T any](existing []T, target string, id func(T) string) []T {
	out := existing[:0:0]
	for _, it := range existing {
		if id(it) != target {
			out = append(out, it)
		}
	}
	return out
}

func projectID(p model.Project) string { return p.ID }
func epicID(e model.Epic) string       { return e.ID }
func taskID(t model.Task) string       { return t.ID }
func orgID(o model.Org) string         { return o.ID }

// Projects

// SetProjects applies a fetch result. reset replaces the collection and
// marks it fully fetched.
func (s *Store) SetProjects(items []model.Project, reset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = mergeByID(s.projects, items, projectID, reset)
	if reset {
		s.projectsFetched = true
	}
}

// UpsertProject merges one project by id.
func (s *Store) UpsertProject(p model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = upsert(s.projects, p, projectID)
}

// Projects returns a copy of the project collection.
func (s *Store) Projects() []model.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Project(nil), s.projects...)
}

// ProjectsFetched reports whether a full project fetch has landed.
func (s *Store) ProjectsFetched() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectsFetched
}

// Epics

// SetEpics applies a fetch result for one project's epics.
func (s *Store) SetEpics(project string, items []model.Epic, reset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epics[project] = mergeByID(s.epics[project], items, epicID, reset)
	if reset {
		s.epicsFetched[project] = true
	}
}

// AddEpic prepends a newly created epic to its project's collection.
func (s *Store) AddEpic(e model.Epic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epics[e.Project] = prependNew(s.epics[e.Project], e, epicID)
}

// UpsertEpic merges one epic by id.
func (s *Store) UpsertEpic(e model.Epic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epics[e.Project] = upsert(s.epics[e.Project], e, epicID)
}

// RemoveEpic drops an epic from its project's collection. Missing bucket is
// a no-op.
func (s *Store) RemoveEpic(e model.Epic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.epics[e.Project]; ok {
		s.epics[e.Project] = removeByID(bucket, e.ID, epicID)
	}
}

// Epics returns a copy of one project's epic collection.
func (s *Store) Epics(project string) []model.Epic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Epic(nil), s.epics[project]...)
}

// Tasks

// SetTasks applies a fetch result for one project's tasks.
func (s *Store) SetTasks(project string, items []model.Task, reset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[project] = mergeByID(s.tasks[project], items, taskID, reset)
	if reset {
		s.tasksFetched[project] = true
	}
}

// AddTask prepends a newly created task to its project's collection.
func (s *Store) AddTask(t model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.Project] = prependNew(s.tasks[t.Project], t, taskID)
}

// UpsertTask merges one task by id.
func (s *Store) UpsertTask(t model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.Project] = upsert(s.tasks[t.Project], t, taskID)
}

// RemoveTask drops a task from its project's collection. Missing bucket is a
// no-op.
func (s *Store) RemoveTask(t model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.tasks[t.Project]; ok {
		s.tasks[t.Project] = removeByID(bucket, t.ID, taskID)
	}
}

// Tasks returns a copy of one project's task collection.
func (s *Store) Tasks(project string) []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Task(nil), s.tasks[project]...)
}

// TaskByID scans all buckets for a task. Used by reassignment, which only
// knows the task id carried on the org.
func (s *Store) TaskByID(id string) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bucket := range s.tasks {
		for _, t := range bucket {
			if t.ID == id {
				return t, true
			}
		}
	}
	return model.Task{}, false
}

// Orgs

// UpsertOrg merges one org by id. When the org is new, any existing org for
// the same (parent, role) pair is replaced: at most one org per pair exists
// in client state.
func (s *Store) UpsertOrg(o model.Org) {
	parent, ok := o.Parent()
	if !ok {
		return
	}
	key := parentKey(parent)
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.orgs[key]
	for i, existing := range bucket {
		if existing.ID == o.ID {
			out := append([]model.Org(nil), bucket...)
			out[i] = o
			s.orgs[key] = out
			return
		}
	}
	bucket = removeWhere(bucket, func(existing model.Org) bool {
		return existing.OrgType == o.OrgType
	})
	s.orgs[key] = append([]model.Org{o}, bucket...)
}

// RemoveOrg drops an org from its parent's collection. Missing bucket or
// invalid parent is a no-op.
func (s *Store) RemoveOrg(o model.Org) {
	parent, ok := o.Parent()
	if !ok {
		return
	}
	key := parentKey(parent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.orgs[key]; ok {
		s.orgs[key] = removeByID(bucket, o.ID, orgID)
	}
}

// Orgs returns a copy of one parent's org collection.
func (s *Store) Orgs(parent model.Ref) []model.Org {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Org(nil), s.orgs[parentKey(parent)]...)
}

// OrgForParent returns the org of the given role under a parent, if any.
func (s *Store) OrgForParent(parent model.Ref, role model.OrgType) (model.Org, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orgs[parentKey(parent)] {
		if o.OrgType == role {
			return o, true
		}
	}
	return model.Org{}, false
}

// OrgByID scans all buckets for an org.
func (s *Store) OrgByID(id string) (model.Org, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, bucket := range s.orgs {
		for _, o := range bucket {
			if o.ID == id {
				return o, true
			}
		}
	}
	return model.Org{}, false
}

func removeWhere(bucket []model.Org, match func(model.Org) bool) []model.Org {
	out := bucket[:0:0]
	for _, o := range bucket {
		if !match(o) {
			out = append(out, o)
		}
	}
	return out
}
