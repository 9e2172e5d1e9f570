// Package cmd implements the aquila-auth command modes: interactive login,
// logout, status, refresh, the local control bridge and the terminal UI.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/aquila-desktop/aquila-auth/internal/auth/discord"
	"github.com/aquila-desktop/aquila-auth/internal/browser"
	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/metrics"
	"github.com/aquila-desktop/aquila-auth/internal/session"
	sdkAuth "github.com/aquila-desktop/aquila-auth/sdk/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

const stopTimeout = 5 * time.Second

// LoginOptions contains options shared by the command modes.
type LoginOptions struct {
	// NoBrowser prints the authorization URL instead of opening a browser.
	NoBrowser bool

	// CallbackPort overrides the local OAuth callback port when set (>0).
	CallbackPort int
}

// authRuntime bundles a started coordinator with the registry its metrics live in.
type authRuntime struct {
	coord    *sdkAuth.Coordinator
	registry *prometheus.Registry
}

// newAuthRuntime wires the Discord client, session store and metrics into a
// coordinator and restores any persisted session.
func newAuthRuntime(ctx context.Context, cfg *config.Config, options *LoginOptions) (*authRuntime, error) {
	if options == nil {
		options = &LoginOptions{}
	}
	if options.CallbackPort > 0 {
		cfg.Callback.Port = options.CallbackPort
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	store, err := session.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	provider := discord.NewDiscordAuth(cfg, discord.WithRetryHook(func(operation string, _ error, _ time.Duration) {
		m.IncrementTokenRetry(operation)
	}))

	coord, err := sdkAuth.NewCoordinator(sdkAuth.Options{
		Provider:     provider,
		Store:        store,
		Listen:       sdkAuth.DiscordListener(cfg.Callback.Host, cfg.Callback.Port, cfg.Callback.Path),
		Browser:      browser.System{},
		Metrics:      m,
		Policy:       cfg.Login.ConcurrentPolicy,
		LoginTimeout: cfg.Login.Timeout,
		RefreshLead:  cfg.Session.RefreshLead,
		NoBrowser:    options.NoBrowser || cfg.Login.NoBrowser,
	})
	if err != nil {
		return nil, err
	}
	if err = coord.Start(ctx); err != nil {
		stopCoordinator(coord)
		return nil, err
	}
	log.Debugf("login coordinator ready (backend=%s, policy=%s)", cfg.Session.Backend, cfg.Login.ConcurrentPolicy)
	return &authRuntime{coord: coord, registry: registry}, nil
}

func stopCoordinator(coord *sdkAuth.Coordinator) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := coord.Stop(ctx); err != nil {
		log.Warnf("coordinator did not stop cleanly: %v", err)
	}
}

func (r *authRuntime) close() {
	stopCoordinator(r.coord)
}
