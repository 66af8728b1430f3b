// Package artifact persists generated media under stable public URLs.
package artifact

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/digkill/TGMediaGen/internal/models"
)

// Store writes produced bytes and returns a storage path plus the public URL
// the user can download from.
type Store interface {
	Write(ctx context.Context, kind models.MediaKind, data []byte) (path string, publicURL string, err error)
}

// LocalStore keeps artifacts on the local disk under the static directory
// served by the HTTP surface.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	for _, kind := range []models.MediaKind{models.KindImage, models.KindVideo, models.KindAudio} {
		if err := os.MkdirAll(filepath.Join(dir, subdir(kind)), 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return &LocalStore{dir: dir, baseURL: baseURL}, nil
}

func (s *LocalStore) Write(ctx context.Context, kind models.MediaKind, data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("no data to write")
	}

	name := randomName() + Extension(kind)
	finalPath := filepath.Join(s.dir, subdir(kind), name)

	// Temp file plus rename keeps half-written files out of the public dir.
	tmp, err := os.CreateTemp(filepath.Join(s.dir, subdir(kind)), ".tmp-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", "", fmt.Errorf("publish artifact: %w", err)
	}

	publicURL := fmt.Sprintf("%s/static/%s/%s", s.baseURL, subdir(kind), name)
	return finalPath, publicURL, nil
}

func randomName() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

func subdir(kind models.MediaKind) string {
	switch kind {
	case models.KindVideo:
		return "videos"
	case models.KindAudio:
		return "audios"
	default:
		return "images"
	}
}

// Extension picks the file extension for a media kind.
func Extension(kind models.MediaKind) string {
	switch kind {
	case models.KindVideo:
		return ".mp4"
	case models.KindAudio:
		return ".mp3"
	default:
		return ".png"
	}
}

// ContentType picks the MIME type for a media kind.
func ContentType(kind models.MediaKind) string {
	switch kind {
	case models.KindVideo:
		return "video/mp4"
	case models.KindAudio:
		return "audio/mpeg"
	default:
		return "image/png"
	}
}
