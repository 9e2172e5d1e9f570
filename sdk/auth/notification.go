package auth

import (
	"time"

	coreauth "github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/tidwall/sjson"
)

// Kind tags a Notification.
type Kind string

// Notification kinds, named after the events consumed by the desktop UI.
const (
	KindPending   Kind = "auth:pending"
	KindSucceeded Kind = "auth:succeeded"
	KindFailed    Kind = "auth:failed"
	KindLoggedOut Kind = "auth:logged_out"
)

// Notification is one lifecycle event. Profile is a copy; it never aliases the live session.
type Notification struct {
	Kind      Kind
	AttemptID string
	Profile   *coreauth.Profile
	Reason    string
	AuthURL   string
	At        time.Time
}

// Terminal reports whether the notification resolves a login attempt.
func (n Notification) Terminal() bool {
	return n.Kind == KindSucceeded || n.Kind == KindFailed
}

// Payload returns the event body in the shape the UI consumes.
func (n Notification) Payload() map[string]any {
	switch n.Kind {
	case KindPending:
		return map[string]any{"auth_url": n.AuthURL}
	case KindSucceeded:
		payload := map[string]any{"username": "", "avatar_url": ""}
		if n.Profile != nil {
			payload["id"] = n.Profile.ID
			payload["username"] = n.Profile.Username
			payload["global_name"] = n.Profile.GlobalName
			payload["avatar_url"] = n.Profile.AvatarURL
		}
		return payload
	case KindFailed:
		return map[string]any{"reason": n.Reason}
	default:
		return map[string]any{}
	}
}

// Encode renders the wire form {"event", "attempt_id", "payload", "at"}.
func (n Notification) Encode() ([]byte, error) {
	out := []byte(`{}`)
	var err error
	if out, err = sjson.SetBytes(out, "event", string(n.Kind)); err != nil {
		return nil, err
	}
	if n.AttemptID != "" {
		if out, err = sjson.SetBytes(out, "attempt_id", n.AttemptID); err != nil {
			return nil, err
		}
	}
	if out, err = sjson.SetBytes(out, "payload", n.Payload()); err != nil {
		return nil, err
	}
	if !n.At.IsZero() {
		if out, err = sjson.SetBytes(out, "at", n.At.UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
