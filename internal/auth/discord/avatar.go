package discord

import (
	"fmt"
	"strconv"
	"strings"
)

// AvatarURL returns the CDN URL of a user's avatar. Animated hashes (prefix a_)
// resolve to a gif. Users without an avatar get the default embed avatar.
func AvatarURL(userID, avatarHash, discriminator string) string {
	if avatarHash == "" {
		return DefaultAvatarURL(userID, discriminator)
	}
	ext := "png"
	if strings.HasPrefix(avatarHash, "a_") {
		ext = "gif"
	}
	return fmt.Sprintf("%s/avatars/%s/%s.%s", CDNBaseURL, userID, avatarHash, ext)
}

// DefaultAvatarURL picks the embed avatar. Legacy accounts with a discriminator
// use discriminator mod 5; migrated accounts use (id >> 22) mod 6.
func DefaultAvatarURL(userID, discriminator string) string {
	index := uint64(0)
	if disc, err := strconv.ParseUint(discriminator, 10, 64); err == nil && disc != 0 {
		index = disc % 5
	} else if id, errID := strconv.ParseUint(userID, 10, 64); errID == nil {
		index = (id >> 22) % 6
	}
	return fmt.Sprintf("%s/embed/avatars/%d.png", CDNBaseURL, index)
}
