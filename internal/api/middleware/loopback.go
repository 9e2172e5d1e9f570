// Package middleware holds Gin middleware shared by the control bridge routes.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// LoopbackOnly rejects requests whose Host header does not name a loopback
// address, which defeats DNS rebinding from pages open in the user's browser.
func LoopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsLoopbackHost(c.Request.Host) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"status": "error", "error": "forbidden host"})
			return
		}
		c.Next()
	}
}

// NoStore marks every response as uncacheable.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

// IsLoopbackHost reports whether host, with or without a port, is localhost or
// a loopback IP.
func IsLoopbackHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
