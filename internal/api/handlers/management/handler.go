// Package management implements the control bridge consumed by the desktop UI:
// JSON endpoints for the login lifecycle and a WebSocket stream of
// authentication notifications.
package management

import (
	"context"
	"net/http"

	coreauth "github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/logging"
	sdkauth "github.com/aquila-desktop/aquila-auth/sdk/auth"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Coordinator is the subset of *sdkauth.Coordinator the bridge drives.
type Coordinator interface {
	StartLogin(ctx context.Context) (string, error)
	CancelLogin(ctx context.Context) error
	SubmitCallbackURL(ctx context.Context, rawURL string) error
	Logout(ctx context.Context) error
	Refresh(ctx context.Context) error
	Status(ctx context.Context) (sdkauth.Status, error)
	Subscribe() (<-chan sdkauth.Notification, func())
}

// Handler serves the bridge endpoints.
type Handler struct {
	coord Coordinator
}

// NewHandler returns a Handler bound to coord.
func NewHandler(coord Coordinator) *Handler {
	return &Handler{coord: coord}
}

// respondError writes {"status":"error","error":<reason>,"message":<text>}.
func respondError(c *gin.Context, err error) {
	status := coreauth.StatusCode(err)
	if status >= http.StatusInternalServerError {
		log.WithField("request_id", logging.GetGinRequestID(c)).Warnf("%s failed: %v", c.FullPath(), err)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"status":  "error",
		"error":   coreauth.ReasonFor(err),
		"message": coreauth.GetUserFriendlyMessage(err),
	})
}
