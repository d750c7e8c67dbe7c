// Package engine wires the event channel, the event-to-command mapper, the
// normalized store, and the org coordinator into one synchronization loop.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mistakeknot/orgsync/internal/events"
	"github.com/mistakeknot/orgsync/internal/model"
	"github.com/mistakeknot/orgsync/internal/notify"
	"github.com/mistakeknot/orgsync/internal/orgs"
	"github.com/mistakeknot/orgsync/internal/store"
)

// Fetcher is the slice of the REST client the engine uses to re-fetch
// state after a reconnect.
type Fetcher interface {
	ListProjects(ctx context.Context) ([]model.Project, error)
}

// Journal records every decoded inbound event for diagnostics. Append must
// be cheap; errors are logged, never propagated.
type Journal interface {
	Append(evt events.Event) error
}

// Subscriber is where the engine sends subscription requests; satisfied by
// *channel.Channel.
type Subscriber interface {
	Subscribe(ctx context.Context, modelName, id string)
	Unsubscribe(ctx context.Context, modelName, id string)
}

type subKey struct {
	model string
	id    string
}

// Engine applies mapped commands to the store and coordinates the org
// lifecycle machinery. All event handling runs on the channel's read
// goroutine; user actions arrive on their own goroutines and only touch
// the store and REST client, both safe for concurrent use.
type Engine struct {
	store    *store.Store
	dispatch *orgs.Dispatcher
	machine  *orgs.Machine
	fetch    Fetcher
	subs     Subscriber
	notify   notify.Notifier
	journal  Journal
	log      *slog.Logger

	// currentUser gates toast side effects: only the user whose action
	// triggered the server-side operation sees a toast.
	currentUser string

	mu     sync.Mutex
	active map[subKey]struct{}
}

// Config collects the engine's collaborators.
type Config struct {
	Store       *store.Store
	Dispatcher  *orgs.Dispatcher
	Machine     *orgs.Machine
	Fetcher     Fetcher
	Subscriber  Subscriber
	Notifier    notify.Notifier
	Journal     Journal
	CurrentUser string
	Log         *slog.Logger
}

// New builds an engine.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:       cfg.Store,
		dispatch:    cfg.Dispatcher,
		machine:     cfg.Machine,
		fetch:       cfg.Fetcher,
		subs:        cfg.Subscriber,
		notify:      cfg.Notifier,
		journal:     cfg.Journal,
		log:         log,
		currentUser: cfg.CurrentUser,
		active:      make(map[subKey]struct{}),
	}
}

// Subscribe requests event delivery and records the subscription so it can
// be replayed after a reconnect.
func (e *Engine) Subscribe(ctx context.Context, modelName, id string) {
	e.mu.Lock()
	e.active[subKey{modelName, id}] = struct{}{}
	e.mu.Unlock()
	e.subs.Subscribe(ctx, modelName, id)
}

// Unsubscribe stops delivery and drops the replay record.
func (e *Engine) Unsubscribe(ctx context.Context, modelName, id string) {
	e.mu.Lock()
	delete(e.active, subKey{modelName, id})
	e.mu.Unlock()
	e.subs.Unsubscribe(ctx, modelName, id)
}

// OnOpen runs the initial full fetch once the channel first connects.
func (e *Engine) OnOpen(ctx context.Context) {
	e.refetchProjects(ctx)
}

// OnReconnect re-fetches state that may have changed while disconnected and
// replays every active subscription; requests sent while connected are not
// replayed by the channel itself.
func (e *Engine) OnReconnect(ctx context.Context) {
	e.notify.Connectivity(true)
	e.mu.Lock()
	keys := make([]subKey, 0, len(e.active))
	for k := range e.active {
		keys = append(keys, k)
	}
	e.mu.Unlock()
	for _, k := range keys {
		e.subs.Subscribe(ctx, k.model, k.id)
	}
	e.refetchProjects(ctx)
}

func (e *Engine) refetchProjects(ctx context.Context) {
	projects, err := e.fetch.ListProjects(ctx)
	if err != nil {
		e.log.Warn("project refetch failed", "err", err)
		return
	}
	e.store.SetProjects(projects, true)
}

// HandleEvent journals the inbound event, maps it to a command, and applies
// it. Unknown and malformed events apply nothing.
func (e *Engine) HandleEvent(ctx context.Context, evt events.Event) {
	if e.journal != nil {
		if err := e.journal.Append(evt); err != nil {
			e.log.Warn("journal append failed", "err", err)
		}
	}
	cmd := events.Map(evt)
	if cmd == nil {
		return
	}
	e.Apply(ctx, cmd)
}

func (e *Engine) isMine(user string) bool {
	return user != "" && user == e.currentUser
}

func decode[T any](e *Engine, raw json.RawMessage, what string) (T, bool) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		e.log.Warn("undecodable model", "what", what, "err", err)
		return v, false
	}
	return v, true
}

// Apply executes one command against the store and side-effect sinks.
func (e *Engine) Apply(ctx context.Context, cmd events.Command) {
	switch c := cmd.(type) {
	case events.RefetchProjects:
		e.refetchProjects(ctx)

	case events.ProjectsRefreshError:
		e.notify.Notify(notify.Toast{
			Level:   notify.LevelError,
			Summary: "repository refresh failed",
			Detail:  c.Message,
		})

	case events.UpsertProject:
		if p, ok := decode[model.Project](e, c.Model, "project"); ok {
			e.store.UpsertProject(p)
		}

	case events.ProjectError:
		if p, ok := decode[model.Project](e, c.Model, "project"); ok {
			e.store.UpsertProject(p)
		}
		e.notify.Notify(notify.Toast{
			Level:   notify.LevelError,
			Summary: "project update failed",
			Detail:  c.Message,
		})

	case events.UpsertEpic:
		if ep, ok := decode[model.Epic](e, c.Model, "epic"); ok {
			if c.Created {
				e.store.AddEpic(ep)
			} else {
				e.store.UpsertEpic(ep)
			}
		}

	case events.EpicPRFailed:
		if ep, ok := decode[model.Epic](e, c.Model, "epic"); ok {
			e.store.UpsertEpic(ep)
			if e.isMine(c.OriginatingUser) {
				e.notify.Notify(notify.Toast{
					Level:   notify.LevelError,
					Summary: "pull request creation failed for epic " + ep.Name,
					Detail:  c.Message,
				})
			}
		}

	case events.UpsertTask:
		if t, ok := decode[model.Task](e, c.Model, "task"); ok {
			if c.Created {
				e.store.AddTask(t)
			} else {
				e.store.UpsertTask(t)
			}
		}

	case events.TaskPRFailed:
		if t, ok := decode[model.Task](e, c.Model, "task"); ok {
			e.store.UpsertTask(t)
			if e.isMine(c.OriginatingUser) {
				e.notify.Notify(notify.Toast{
					Level:   notify.LevelError,
					Summary: "pull request creation failed for task " + t.Name,
					Detail:  c.Message,
				})
			}
		}

	case events.OrgProvisioningUpdate:
		if org, ok := decode[model.Org](e, c.Model, "org"); ok {
			e.applyOrgUpsert(ctx, org)
			e.Subscribe(ctx, "scratchorg", org.ID)
		}

	case events.OrgProvisioned:
		if org, ok := decode[model.Org](e, c.Model, "org"); ok {
			e.applyOrgUpsert(ctx, org)
			e.dispatch.Resolve(org.ID, orgs.WriteProvision)
			if e.isMine(c.OriginatingUser) {
				e.notify.Notify(notify.Toast{
					Level:    notify.LevelSuccess,
					Summary:  "scratch org ready",
					LinkURL:  org.URL,
					LinkText: "open org",
				})
			}
		}

	case events.OrgProvisionFailedCmd:
		if org, ok := decode[model.Org](e, c.Model, "org"); ok {
			e.store.RemoveOrg(org)
			e.dispatch.Resolve(org.ID, orgs.WriteProvision)
			if e.isMine(c.OriginatingUser) {
				e.notify.Notify(notify.Toast{
					Level:    notify.LevelError,
					Summary:  "scratch org creation failed",
					Detail:   c.Message,
					LinkURL:  org.LogURL,
					LinkText: "download log",
				})
			}
		}

	case events.UpsertOrg:
		if org, ok := decode[model.Org](e, c.Model, "org"); ok {
			e.applyOrgUpsert(ctx, org)
		}

	case events.OrgFlagsFailed:
		if org, ok := decode[model.Org](e, c.Model, "org"); ok {
			// Clear checking trackers before the upsert: the rolled-back
			// flags would otherwise read as a completed clean check.
			if c.Op == "check" {
				e.machine.CheckFailed(org.ID)
			}
			// The delivered model carries the rolled-back in-flight flags.
			e.applyOrgUpsert(ctx, org)
			if kind, ok := writeKindForOp(c.Op); ok {
				e.dispatch.Resolve(org.ID, kind)
			}
			if e.isMine(c.OriginatingUser) {
				e.notify.Notify(notify.Toast{
					Level:   notify.LevelError,
					Summary: "org " + c.Op + " failed",
					Detail:  c.Message,
				})
			}
		}

	case events.RemoveOrg:
		if org, ok := decode[model.Org](e, c.Model, "org"); ok {
			e.store.RemoveOrg(org)
			e.dispatch.Resolve(org.ID, orgs.WriteDelete)
		}

	case events.OrgRemoved:
		if org, ok := decode[model.Org](e, c.Model, "org"); ok {
			e.store.RemoveOrg(org)
			e.dispatch.Resolve(org.ID, orgs.WriteDelete)
			if e.isMine(c.OriginatingUser) {
				e.notify.Notify(notify.Toast{
					Level:   notify.LevelInfo,
					Summary: "scratch org removed",
					Detail:  c.Message,
				})
			}
		}

	case events.OrgCommitted:
		if org, ok := decode[model.Org](e, c.Model, "org"); ok {
			e.applyOrgUpsert(ctx, org)
			e.dispatch.Resolve(org.ID, orgs.WriteCommit)
			if e.isMine(c.OriginatingUser) {
				e.notify.Notify(notify.Toast{
					Level:   notify.LevelSuccess,
					Summary: "changes committed",
				})
			}
		}

	case events.OrgRecreated:
		if org, ok := decode[model.Org](e, c.Model, "org"); ok {
			e.applyOrgUpsert(ctx, org)
			e.Subscribe(ctx, "scratchorg", org.ID)
		}

	case events.SoftDeleted:
		e.applySoftDelete(c.Model)

	default:
		e.log.Warn("unhandled command", "kind", fmt.Sprintf("%T", cmd))
	}
}

// applyOrgUpsert merges an org, lets the lifecycle machine observe the
// flag transition, and resolves pending long-running writes whose in-flight
// flag has dropped.
func (e *Engine) applyOrgUpsert(ctx context.Context, org model.Org) {
	before, _ := e.store.OrgByID(org.ID)
	e.store.UpsertOrg(org)
	e.machine.ObserveOrg(ctx, before, org)
	if !org.CurrentlyRefreshingOrg {
		e.dispatch.Resolve(org.ID, orgs.WriteRefresh)
	}
	if !org.CurrentlyReassigningUser {
		e.dispatch.Resolve(org.ID, orgs.WriteReassign)
	}
}

// applySoftDelete removes an entity from whichever collection its shape
// indicates. Tasks carry both project and epic fields, so the epic-field
// check must run first.
func (e *Engine) applySoftDelete(raw json.RawMessage) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(raw, &shape); err != nil {
		e.log.Warn("undecodable soft-delete model", "err", err)
		return
	}
	if _, ok := shape["epic"]; ok {
		if t, ok := decode[model.Task](e, raw, "task"); ok {
			e.store.RemoveTask(t)
		}
		return
	}
	if _, ok := shape["project"]; ok {
		if ep, ok := decode[model.Epic](e, raw, "epic"); ok {
			e.store.RemoveEpic(ep)
		}
		return
	}
	e.log.Warn("soft-delete model matches no known shape")
}

func writeKindForOp(op string) (orgs.WriteKind, bool) {
	switch op {
	case "delete":
		return orgs.WriteDelete, true
	case "refresh":
		return orgs.WriteRefresh, true
	case "commit":
		return orgs.WriteCommit, true
	case "reassign":
		return orgs.WriteReassign, true
	default:
		return "", false
	}
}
