package util

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// getOutboundIP returns the local address used for outbound traffic. No packet
// is sent; dialing UDP only selects a route.
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Warnf("Failed to close UDP connection: %v", closeErr)
		}
	}()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("could not assert UDP address type")
	}
	return localAddr.IP.String(), nil
}

// CallbackPortFromAuthURL extracts the loopback port from the redirect_uri
// parameter of an authorization URL. It returns 0 when none is present.
func CallbackPortFromAuthURL(authURL string) int {
	parsed, err := url.Parse(authURL)
	if err != nil {
		return 0
	}
	redirect, err := url.Parse(parsed.Query().Get("redirect_uri"))
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(redirect.Port())
	if err != nil {
		return 0
	}
	return port
}

// PrintSSHTunnelInstructions writes the commands a user on another machine
// runs so their browser can reach the loopback callback port on this one.
func PrintSSHTunnelInstructions(w io.Writer, port int) {
	if port <= 0 {
		return
	}
	host, err := getOutboundIP()
	if err != nil {
		log.Debugf("outbound IP unavailable: %v", err)
		host = "<this-machine>"
	}
	border := strings.Repeat("=", 80)
	_, _ = fmt.Fprintln(w, "To sign in from a browser on another machine, forward the callback port first.")
	_, _ = fmt.Fprintln(w, border)
	_, _ = fmt.Fprintln(w, "  Run this on the machine with the browser:")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "  ssh -L %d:127.0.0.1:%d <user>@%s\n", port, port, host)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "  Or paste the final redirect URL from the browser's address bar below.")
	_, _ = fmt.Fprintln(w, border)
}
