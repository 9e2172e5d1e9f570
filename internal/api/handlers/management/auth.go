package management

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type callbackRequest struct {
	RedirectURL string `json:"redirect_url"`
}

// PostLogin starts a login attempt and returns its ID and authorization URL.
// The outcome is delivered on the events stream.
func (h *Handler) PostLogin(c *gin.Context) {
	id, err := h.coord.StartLogin(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"status": "ok", "attempt_id": id}
	if st, errStatus := h.coord.Status(c.Request.Context()); errStatus == nil && st.AttemptID == id {
		resp["auth_url"] = st.AuthURL
	}
	c.JSON(http.StatusAccepted, resp)
}

// PostCancel cancels the pending login attempt.
func (h *Handler) PostCancel(c *gin.Context) {
	if err := h.coord.CancelLogin(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PostCallback accepts a redirect URL pasted by the user when the browser
// could not reach the loopback listener.
func (h *Handler) PostCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RedirectURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_request", "message": "redirect_url is required"})
		return
	}
	if err := h.coord.SubmitCallbackURL(c.Request.Context(), req.RedirectURL); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

// PostLogout ends the active session.
func (h *Handler) PostLogout(c *gin.Context) {
	if err := h.coord.Logout(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PostRefresh forces an access token refresh and returns the new status.
func (h *Handler) PostRefresh(c *gin.Context) {
	if err := h.coord.Refresh(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	h.GetStatus(c)
}

// GetStatus returns the session and pending attempt snapshot.
func (h *Handler) GetStatus(c *gin.Context) {
	st, err := h.coord.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
