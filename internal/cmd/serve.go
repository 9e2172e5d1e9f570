package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aquila-desktop/aquila-auth/internal/api"
	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/logging"
	"github.com/aquila-desktop/aquila-auth/internal/tui"
	log "github.com/sirupsen/logrus"
)

// StartService runs the local control bridge until ctx is cancelled.
func StartService(ctx context.Context, cfg *config.Config, options *LoginOptions) error {
	rt, err := newAuthRuntime(ctx, cfg, options)
	if err != nil {
		return err
	}
	defer rt.close()

	server := api.NewServer(cfg, rt.coord, rt.registry)
	if err = server.Listen(); err != nil {
		return err
	}
	if cfg.API.SecretKey == "" {
		log.Warn("control bridge has no secret-key configured; any local process can drive logins")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down control bridge")
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err = server.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop control bridge: %w", err)
	}
	if err = <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunTUI starts the terminal UI. Log output is redirected into its logs tab
// while it runs.
func RunTUI(ctx context.Context, cfg *config.Config, options *LoginOptions) error {
	rt, err := newAuthRuntime(ctx, cfg, options)
	if err != nil {
		return err
	}
	defer rt.close()

	hook := tui.NewLogHook(2000)
	hook.SetFormatter(&logging.LogFormatter{})
	log.AddHook(hook)

	previous := log.StandardLogger().Out
	if !cfg.LoggingToFile {
		log.SetOutput(io.Discard)
	}
	defer log.SetOutput(previous)

	return tui.Run(rt.coord, hook, os.Stdout)
}
