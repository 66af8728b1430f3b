package httpapi

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const avatarTTL = 30 * time.Minute

type avatarEntry struct {
	url       string
	expiresAt time.Time
}

// AvatarCache resolves a user's profile photo URL through the bot API and
// caches it for avatarTTL. The cache is in-memory only; losing it on restart
// just costs one extra API call per user.
type AvatarCache struct {
	bot *tgbotapi.BotAPI

	mu      sync.Mutex
	entries map[int64]avatarEntry
	now     func() time.Time
}

func NewAvatarCache(bot *tgbotapi.BotAPI) *AvatarCache {
	return &AvatarCache{
		bot:     bot,
		entries: make(map[int64]avatarEntry),
		now:     time.Now,
	}
}

// AvatarURL returns the user's current profile photo URL, or "" when the
// profile has no photo.
func (c *AvatarCache) AvatarURL(_ context.Context, telegramID int64) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[telegramID]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.url, nil
	}
	c.mu.Unlock()

	photos, err := c.bot.GetUserProfilePhotos(tgbotapi.UserProfilePhotosConfig{UserID: telegramID, Limit: 1})
	if err != nil {
		return "", err
	}
	var url string
	if photos.TotalCount > 0 && len(photos.Photos) > 0 && len(photos.Photos[0]) > 0 {
		// Sizes are ordered small to large; the last is the original.
		sizes := photos.Photos[0]
		url, err = c.bot.GetFileDirectURL(sizes[len(sizes)-1].FileID)
		if err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.entries[telegramID] = avatarEntry{url: url, expiresAt: c.now().Add(avatarTTL)}
	c.mu.Unlock()
	return url, nil
}
