package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mistakeknot/orgsync/internal/model"
)

// Snapshot is a serializable copy of the store, used by the snapshot
// command for offline inspection and by tests for fixtures.
type Snapshot struct {
	Projects []model.Project         `yaml:"projects"`
	Epics    map[string][]model.Epic `yaml:"epics"`
	Tasks    map[string][]model.Task `yaml:"tasks"`
	Orgs     map[string][]model.Org  `yaml:"orgs"`
}

// Snapshot copies the current store contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Projects: append([]model.Project(nil), s.projects...),
		Epics:    make(map[string][]model.Epic, len(s.epics)),
		Tasks:    make(map[string][]model.Task, len(s.tasks)),
		Orgs:     make(map[string][]model.Org, len(s.orgs)),
	}
	for k, v := range s.epics {
		snap.Epics[k] = append([]model.Epic(nil), v...)
	}
	for k, v := range s.tasks {
		snap.Tasks[k] = append([]model.Task(nil), v...)
	}
	for k, v := range s.orgs {
		snap.Orgs[k] = append([]model.Org(nil), v...)
	}
	return snap
}

// Restore replaces the store contents with a snapshot.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.projects = append([]model.Project(nil), snap.Projects...)
	for k, v := range snap.Epics {
		s.epics[k] = append([]model.Epic(nil), v...)
	}
	for k, v := range snap.Tasks {
		s.tasks[k] = append([]model.Task(nil), v...)
	}
	for k, v := range snap.Orgs {
		s.orgs[k] = append([]model.Org(nil), v...)
	}
}

// WriteFile writes the snapshot as YAML.
func (s *Store) WriteFile(path string) error {
	data, err := yaml.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadFile loads a YAML snapshot into the store, replacing its contents.
func (s *Store) ReadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	s.Restore(snap)
	return nil
}
