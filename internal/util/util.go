// Package util provides utility functions for the Aquila login service.
// It includes helper functions for logging configuration, file system paths,
// secret masking and outbound HTTP proxy setup.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aquila-desktop/aquila-auth/internal/config"
	log "github.com/sirupsen/logrus"
)

// SetLogLevel configures the logrus log level based on the configuration.
// It sets the log level to DebugLevel if debug mode is enabled, otherwise to InfoLevel.
func SetLogLevel(cfg *config.Config) {
	currentLevel := log.GetLevel()
	var newLevel log.Level
	if cfg.Debug {
		newLevel = log.DebugLevel
	} else {
		newLevel = log.InfoLevel
	}

	if currentLevel != newLevel {
		log.SetLevel(newLevel)
		log.Infof("log level changed from %s to %s (debug=%t)", currentLevel, newLevel, cfg.Debug)
	}
}

// ExpandPath normalizes a configured directory for consistent reuse throughout the app.
// It expands a leading tilde (~) to the user's home directory and returns a cleaned path.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		remainder := strings.TrimPrefix(path, "~")
		remainder = strings.TrimLeft(remainder, "/\\")
		if remainder == "" {
			return filepath.Clean(home), nil
		}
		normalized := strings.ReplaceAll(remainder, "\\", "/")
		return filepath.Clean(filepath.Join(home, filepath.FromSlash(normalized))), nil
	}
	return filepath.Clean(path), nil
}

// ResolveDataDir returns the directory holding logs and file-backed session data.
// Precedence: the configured data-dir, WRITABLE_PATH, then the user config directory.
func ResolveDataDir(cfg *config.Config) (string, error) {
	if cfg != nil && strings.TrimSpace(cfg.DataDir) != "" {
		return ExpandPath(cfg.DataDir)
	}
	if writable := WritablePath(); writable != "" {
		return writable, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	return filepath.Join(base, "aquila"), nil
}

// ResolveSessionDir returns the directory of the encrypted file session backend.
func ResolveSessionDir(cfg *config.Config) (string, error) {
	if cfg != nil && strings.TrimSpace(cfg.Session.Dir) != "" {
		return ExpandPath(cfg.Session.Dir)
	}
	dataDir, err := ResolveDataDir(cfg)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "session"), nil
}

// WritablePath returns the cleaned WRITABLE_PATH environment variable when it is set.
// It accepts both uppercase and lowercase variants for compatibility with existing conventions.
func WritablePath() string {
	for _, key := range []string{"WRITABLE_PATH", "writable_path"} {
		if value, ok := os.LookupEnv(key); ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return filepath.Clean(trimmed)
			}
		}
	}
	return ""
}
