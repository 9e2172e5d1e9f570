// Package main provides the entry point for aquila-auth, the Discord sign-in
// helper for the Aquila desktop application. It can run a single login from the
// terminal, manage the stored session, serve the local control bridge used by
// the desktop UI, or start an interactive terminal UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/buildinfo"
	"github.com/aquila-desktop/aquila-auth/internal/cmd"
	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/logging"
	"github.com/aquila-desktop/aquila-auth/internal/util"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var login bool
	var logout bool
	var status bool
	var refresh bool
	var serve bool
	var tuiMode bool
	var noBrowser bool
	var showVersion bool
	var oauthCallbackPort int
	var configPath string

	flag.BoolVar(&login, "login", false, "Log in with Discord")
	flag.BoolVar(&logout, "logout", false, "Remove the stored session")
	flag.BoolVar(&status, "status", false, "Show the stored session")
	flag.BoolVar(&refresh, "refresh", false, "Refresh the access token now")
	flag.BoolVar(&serve, "serve", false, "Run the local control bridge for the desktop UI")
	flag.BoolVar(&tuiMode, "tui", false, "Start the terminal UI")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	flag.IntVar(&oauthCallbackPort, "oauth-callback-port", 0, "Override OAuth callback port (default 53682)")
	flag.StringVar(&configPath, "config", "", "Configure File Path (default config.yaml in the working directory when present)")
	flag.Parse()

	if showVersion {
		fmt.Printf("aquila-auth Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		os.Exit(1)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	optional := configPath == ""
	if optional {
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfigOptional(configPath, optional)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}

	util.SetLogLevel(cfg)
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}
	log.Debugf("aquila-auth %s", buildinfo.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	options := &cmd.LoginOptions{
		NoBrowser:    noBrowser,
		CallbackPort: oauthCallbackPort,
	}

	switch {
	case login:
		err = cmd.DoLogin(ctx, cfg, options)
	case logout:
		err = cmd.DoLogout(ctx, cfg)
	case status:
		err = cmd.DoStatus(ctx, cfg)
	case refresh:
		err = cmd.DoRefresh(ctx, cfg)
	case tuiMode:
		err = cmd.RunTUI(ctx, cfg, options)
	case serve:
		err = cmd.StartService(ctx, cfg, options)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		if auth.IsAuthenticationError(err) {
			fmt.Fprintln(os.Stderr, auth.GetUserFriendlyMessage(err))
			log.Debugf("command failed: %v", err)
		} else {
			fmt.Fprintf(os.Stderr, "aquila-auth: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
