package misc

import (
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Separator used to visually group related log lines.
var credentialSeparator = strings.Repeat("-", 67)

// LogSavingSession emits a consistent message when persisting session material.
// location is a file path for the file backend or a keyring service name.
func LogSavingSession(backend, location string) {
	if location == "" {
		return
	}
	if backend == "file" {
		location = filepath.Clean(location)
	}
	log.Debugf("saving session to %s backend (%s)", backend, location)
}

// LogCredentialSeparator adds a visual separator to group auth processing logs.
func LogCredentialSeparator() {
	log.Debug(credentialSeparator)
}

// PrintAuthURL writes the authorization URL for users without a browser.
func PrintAuthURL(authURL string) {
	fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
}
