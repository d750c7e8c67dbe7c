package journal

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mistakeknot/orgsync/internal/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func orgEvent(id string) events.Event {
	return events.Event{
		Type:    events.OrgUpdate,
		Payload: &events.Payload{Model: json.RawMessage(`{"id":"` + id + `"}`)},
	}
}

func TestAppendAndList(t *testing.T) {
	j := openTestJournal(t)

	if err := j.Append(orgEvent("o1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(events.Event{Type: events.UserReposRefresh}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := j.List(Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].EventType != events.UserReposRefresh {
		t.Fatalf("expected newest entry first, got %s", entries[0].EventType)
	}
	if entries[1].EntityID != "o1" {
		t.Fatalf("expected entity id extracted from model, got %q", entries[1].EntityID)
	}
}

func TestAcksNotJournaled(t *testing.T) {
	j := openTestJournal(t)

	if err := j.Append(events.Event{OK: "subscribed"}); err != nil {
		t.Fatalf("append ack: %v", err)
	}
	entries, err := j.List(Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected acks skipped, got %d entries", len(entries))
	}
}

func TestListFilters(t *testing.T) {
	j := openTestJournal(t)
	j.Append(orgEvent("o1"))
	j.Append(orgEvent("o2"))
	j.Append(events.Event{Type: events.UserReposRefresh})

	byEntity, err := j.List(Filter{EntityID: "o1"})
	if err != nil {
		t.Fatalf("list by entity: %v", err)
	}
	if len(byEntity) != 1 || byEntity[0].EntityID != "o1" {
		t.Fatalf("unexpected entity filter result %+v", byEntity)
	}

	byType, err := j.List(Filter{EventTypes: []events.Type{events.OrgUpdate}})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("expected 2 org updates, got %d", len(byType))
	}

	limited, err := j.List(Filter{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit respected, got %d", len(limited))
	}

	future := time.Now().Add(time.Hour)
	none, err := j.List(Filter{Since: &future})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no entries after future cutoff, got %d", len(none))
	}
}
