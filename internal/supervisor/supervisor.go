// Package supervisor wires the autohost controller's components
// together and owns process-lifetime concerns: the lobby client's
// reconnect-forever loop, the versions watcher, and the two-signal
// graceful/hard shutdown (spec §4.7 Graceful shutdown, §9).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beyond-all-reason/autohost-go/internal/adapter"
	"github.com/beyond-all-reason/autohost-go/internal/config"
	"github.com/beyond-all-reason/autohost-go/internal/eventbuffer"
	"github.com/beyond-all-reason/autohost-go/internal/lobbyclient"
	"github.com/beyond-all-reason/autohost-go/internal/lobbywire"
	"github.com/beyond-all-reason/autohost-go/internal/versions"
)

// Supervisor owns one Adapter, one Lobby Client and one Versions
// Registry for the life of the process.
type Supervisor struct {
	cfg      config.Config
	adapter  *adapter.Adapter
	client   *lobbyclient.Client
	versions *versions.Registry
}

// New constructs the full dependency graph: Versions Registry → Events
// Buffer → Adapter → Lobby Client, with the Lobby Client's outbound
// Send wired as the Adapter's Sender and the Adapter's dispatch
// Registry wired as the Lobby Client's inbound message handler.
func New(ctx context.Context, cfg config.Config) *Supervisor {
	s := &Supervisor{cfg: cfg}

	s.versions = versions.New(cfg, func(versionList []string) {
		if s.adapter != nil {
			s.adapter.OnVersionsChanged(versionList)
		}
	})

	buffer := eventbuffer.New(
		time.Duration(cfg.MaxUpdatesSubscriptionAgeSeconds)*time.Second,
		0,
	)

	var send adapter.Sender
	s.adapter = adapter.New(ctx, cfg, s.versions, buffer, func(env lobbywire.OutEnvelope) error {
		return send(env)
	})

	registry := s.adapter.Registry()
	s.client = lobbyclient.New(cfg, lobbyclient.Events{
		OnConnected: s.adapter.PublishStatus,
		OnMessage: func(env lobbywire.InEnvelope) {
			if env.Type != "request" {
				return
			}
			resp := lobbywire.Dispatch(ctx, registry, env)
			if err := s.client.Send(resp); err != nil {
				slog.Warn("supervisor: sending response failed", "err", err)
			}
		},
		OnError: func(err error) { slog.Warn("supervisor: lobby client error", "err", err) },
	})
	send = s.client.Send

	return s
}

// Run blocks until ctx is cancelled by the first shutdown signal,
// running the versions watcher and the lobby client's reconnect loop
// concurrently, then performs the graceful drain (spec §4.7 Graceful
// shutdown): stop admitting new battles, wait for the running ones to
// finish, and return. A caller that observes a second shutdown signal
// should call Kill instead of waiting on Run to return.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.versions.Start()
	defer s.versions.Stop()

	g.Go(func() error {
		s.client.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	slog.Info("supervisor: draining battles before exit")
	s.adapter.Shutdown(context.Background())
	slog.Info("supervisor: drain complete, exiting")
	return nil
}

// Kill hard-kills every running battle immediately (spec §4.7 Graceful
// shutdown: "Second signal → hard kill all runners and exit
// immediately"), for use when a second shutdown signal arrives while
// Run's drain is still in progress.
func (s *Supervisor) Kill() {
	s.adapter.Kill()
}
