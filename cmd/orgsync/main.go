package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/orgsync/internal/api"
	"github.com/mistakeknot/orgsync/internal/channel"
	"github.com/mistakeknot/orgsync/internal/config"
	"github.com/mistakeknot/orgsync/internal/engine"
	"github.com/mistakeknot/orgsync/internal/events"
	"github.com/mistakeknot/orgsync/internal/journal"
	"github.com/mistakeknot/orgsync/internal/notify"
	"github.com/mistakeknot/orgsync/internal/orgs"
	"github.com/mistakeknot/orgsync/internal/store"
)

var cfgPath string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "orgsync",
		Short: "Synchronize projects, epics, tasks, and scratch orgs with the server",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	root.AddCommand(watchCmd(), snapshotCmd(), journalCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Connect to the event channel and mirror server state until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			socketURL, err := cfg.SocketURL()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st := store.New()
			notifier := notify.LogNotifier{Log: slog.Default()}
			client := api.New(cfg.Server.URL,
				api.WithToken(cfg.Server.Token),
				api.WithTimeout(cfg.Server.Timeout),
			)

			var jnl engine.Journal
			if cfg.Journal.Path != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
					return fmt.Errorf("create journal dir: %w", err)
				}
				j, err := journal.Open(cfg.Journal.Path)
				if err != nil {
					return err
				}
				defer j.Close()
				jnl = j
			}

			// The handlers close over the engine, which itself needs the
			// channel for subscriptions; eng is assigned before Run starts
			// delivering events.
			var eng *engine.Engine
			ch := channel.New(channel.Config{
				URL:           socketURL,
				DialTimeout:   cfg.Channel.DialTimeout,
				RetryInterval: cfg.Channel.RetryInterval,
				CloseGrace:    cfg.Channel.CloseGrace,
			}, channel.Handlers{
				OnMessage:   func(evt events.Event) { eng.HandleEvent(ctx, evt) },
				OnOpen:      func() { eng.OnOpen(ctx) },
				OnReconnect: func() { eng.OnReconnect(ctx) },
				OnDown:      func() { notifier.Connectivity(false) },
			}, nil, slog.Default())

			// Org subscriptions go through the engine so they are replayed
			// after a reconnect.
			dispatch := orgs.NewDispatcher(client, st, subscribeFunc(func(ctx context.Context, modelName, id string) {
				eng.Subscribe(ctx, modelName, id)
			}), notifier, slog.Default())
			defer dispatch.Close()
			machine := orgs.NewMachine(client, dispatch, logConfirmer{})

			eng = engine.New(engine.Config{
				Store:       st,
				Dispatcher:  dispatch,
				Machine:     machine,
				Fetcher:     client,
				Subscriber:  channelSubscriber{ch},
				Notifier:    notifier,
				Journal:     jnl,
				CurrentUser: cfg.User.ID,
				Log:         slog.Default(),
			})

			slog.Info("connecting", "url", socketURL)
			err = ch.Run(ctx)
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func snapshotCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch current server state and write it as a YAML snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			client := api.New(cfg.Server.URL,
				api.WithToken(cfg.Server.Token),
				api.WithTimeout(cfg.Server.Timeout),
			)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			st := store.New()
			projects, err := client.ListProjects(ctx)
			if err != nil {
				return err
			}
			st.SetProjects(projects, true)
			for _, p := range projects {
				epics, err := client.ListEpics(ctx, p.ID)
				if err != nil {
					return err
				}
				st.SetEpics(p.ID, epics, true)
				tasks, err := client.ListTasks(ctx, p.ID)
				if err != nil {
					return err
				}
				st.SetTasks(p.ID, tasks, true)
			}
			if err := st.WriteFile(out); err != nil {
				return err
			}
			slog.Info("snapshot written", "path", out, "projects", len(projects))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "orgsync-snapshot.yaml", "output path")
	return cmd
}

func journalCmd() *cobra.Command {
	var (
		entity string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent events from the local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.List(journal.Filter{EntityID: entity, Limit: limit})
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s  %-36s %s\n", e.CreatedAt.Format(time.RFC3339), e.EventType, e.EntityID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "filter by entity id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

// subscribeFunc adapts a closure to the org dispatcher's subscriber
// interface.
type subscribeFunc func(ctx context.Context, modelName, id string)

func (f subscribeFunc) Subscribe(ctx context.Context, modelName, id string) {
	f(ctx, modelName, id)
}

// channelSubscriber adapts the channel to the subscriber interfaces.
type channelSubscriber struct {
	ch *channel.Channel
}

func (s channelSubscriber) Subscribe(ctx context.Context, modelName, id string) {
	s.ch.Subscribe(ctx, modelName, id)
}

func (s channelSubscriber) Unsubscribe(ctx context.Context, modelName, id string) {
	s.ch.Unsubscribe(ctx, modelName, id)
}

// logConfirmer auto-confirms nothing: it records that a confirmation was
// requested and leaves the operation parked, which is the safe default for
// a headless watcher.
type logConfirmer struct{}

func (logConfirmer) RequestConfirmation(c orgs.Confirmation) {
	slog.Warn("operation held for confirmation",
		"org", c.Org.ID, "op", string(c.Op), "remove_only", c.RemoveOnly)
}
