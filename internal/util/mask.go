package util

import (
	"net/url"
	"strings"
)

// maskedValue replaces sensitive query values in log output.
const maskedValue = "***"

// MaskSensitiveQuery replaces the values of OAuth parameters such as code,
// state and tokens within a raw query string. Nothing of the original value
// is kept.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		keyPart := part
		hasValue := false
		if idx := strings.Index(part, "="); idx >= 0 {
			keyPart = part[:idx]
			hasValue = idx < len(part)-1
		}
		decodedKey, err := url.QueryUnescape(keyPart)
		if err != nil {
			decodedKey = keyPart
		}
		if !hasValue || !shouldMaskQueryParam(decodedKey) {
			continue
		}
		parts[i] = keyPart + "=" + maskedValue
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

func shouldMaskQueryParam(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	key = strings.TrimSuffix(key, "[]")
	switch key {
	case "code", "state", "code_verifier", "code_challenge", "key":
		return true
	}
	return strings.Contains(key, "token") || strings.Contains(key, "secret")
}
