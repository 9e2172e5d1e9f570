// Package access guards the local control bridge with an optional shared secret.
package access

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Source names where a presented credential was found.
const (
	SourceAuthorization = "authorization"
	SourceQueryKey      = "query-key"
)

const principalSourceKey = "accessSource"

// Authenticate reports whether r carries secret, and where it was found.
// The query parameter exists for WebSocket clients that cannot set headers.
func Authenticate(secret string, r *http.Request) (string, bool) {
	type candidate struct {
		value  string
		source string
	}
	candidates := []candidate{{extractBearerToken(r.Header.Get("Authorization")), SourceAuthorization}}
	if r.URL != nil {
		candidates = append(candidates, candidate{r.URL.Query().Get("key"), SourceQueryKey})
	}
	for _, c := range candidates {
		if c.value == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(c.value), []byte(secret)) == 1 {
			return c.source, true
		}
	}
	return "", false
}

// Middleware rejects requests that do not present secret. An empty secret
// disables the check.
func Middleware(secret string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		source, ok := Authenticate(secret, c.Request)
		if !ok {
			log.Debugf("rejected bridge request to %s: missing or invalid secret", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "unauthorized"})
			return
		}
		c.Set(principalSourceKey, source)
		c.Next()
	}
}

// SourceFrom returns where the request's credential was found, or "".
func SourceFrom(c *gin.Context) string {
	return c.GetString(principalSourceKey)
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return header
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return header
	}
	return strings.TrimSpace(parts[1])
}
