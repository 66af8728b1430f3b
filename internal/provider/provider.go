// Package provider abstracts the third-party generation APIs behind a uniform
// create/poll/fetch contract. One adapter per tool; the orchestrator drives
// the poll loop.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/models"
)

var (
	// ErrRejected marks a terminal provider failure (policy, nsfw, bad
	// prompt). It is never retried.
	ErrRejected = errors.New("provider rejected")
	// ErrTransient marks a network-level or 5xx/429 failure worth retrying.
	ErrTransient = errors.New("provider transient failure")
	// ErrBadParams marks request parameters outside the tool's accepted
	// bounds; detected before any side effect.
	ErrBadParams = errors.New("bad parameters")
)

// Params carries user-supplied generation parameters. A single shape serves
// all tools; each adapter validates the subset it cares about.
type Params struct {
	Prompt      string `json:"prompt"`
	ImageCount  int    `json:"image_count"`
	Quality     string `json:"quality"`
	DurationSec int    `json:"duration"`
	Pro         bool   `json:"pro"`
	Premium     bool   `json:"premium"`
	AspectRatio string `json:"aspect_ratio"`
	ImageURL    string `json:"image_url"`
	VideoURL    string `json:"video_url"`
	Voice       string `json:"voice"`
}

// Status is the outcome of one poll. A finished task carries every artifact
// URL the provider produced; batch image requests yield more than one.
type Status struct {
	Done         bool
	ArtifactURLs []string
}

// Adapter is the uniform contract over heterogeneous generation providers.
//
// Create returns a remote task handle. Poll reports PENDING as (!Done, nil),
// success as (Done, artifact URLs) and terminal failure as an ErrRejected
// error; transient poll failures wrap ErrTransient. Fetch dereferences one
// artifact location into bytes.
type Adapter interface {
	Key() string
	Kind() models.MediaKind
	Cost(p Params) decimal.Decimal
	Validate(p Params) error
	Create(ctx context.Context, p Params) (string, error)
	Poll(ctx context.Context, taskID string) (Status, error)
	Fetch(ctx context.Context, artifactURL string) ([]byte, error)
	PollDeadline() time.Duration
}

// Rejectedf builds a terminal error with a provider-supplied reason.
func Rejectedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// Transientf builds a retryable error.
func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}
