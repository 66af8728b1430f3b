package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/config"
	"github.com/digkill/TGMediaGen/internal/models"
)

// Poll deadlines by media kind.
const (
	imageDeadline = 4 * time.Minute
	audioDeadline = 6 * time.Minute
	videoDeadline = 12 * time.Minute
)

// Registry maps tool keys to their adapters.
type Registry struct {
	adapters map[string]Adapter
}

func (r *Registry) Lookup(key string) (Adapter, bool) {
	a, ok := r.adapters[key]
	return a, ok
}

func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewRegistry wires the full tool catalog from provider credentials.
func NewRegistry(cfg config.Config, log *slog.Logger, callbacks *CallbackStore) *Registry {
	timeouts := func(c ClientConfig) ClientConfig {
		c.CreateTimeout = cfg.CreateTimeout
		c.PollTimeout = cfg.PollTimeout
		c.DownloadTimeout = cfg.DownloadTimeout
		return c
	}

	kie := NewClient(timeouts(ClientConfig{BaseURL: cfg.KieBaseURL, APIKey: cfg.KieAPIKey}), log)
	kling := NewClient(timeouts(ClientConfig{BaseURL: cfg.KlingBaseURL, AccessKey: cfg.KlingAccessKey, SecretKey: cfg.KlingSecretKey}), log)
	pixverse := NewClient(timeouts(ClientConfig{BaseURL: cfg.PixverseBaseURL, APIKey: cfg.PixverseAPIKey}), log)
	hailuo := NewClient(timeouts(ClientConfig{BaseURL: cfg.HailuoBaseURL, APIKey: cfg.HailuoAPIKey}), log)
	veo := NewClient(timeouts(ClientConfig{BaseURL: cfg.VeoBaseURL, APIKey: cfg.VeoAPIKey}), log)
	runway := NewClient(timeouts(ClientConfig{BaseURL: cfg.RunwayBaseURL, APIKey: cfg.RunwayAPIKey}), log)
	speechify := NewClient(timeouts(ClientConfig{BaseURL: cfg.SpeechifyBaseURL, APIKey: cfg.SpeechifyAPIKey}), log)
	suno := NewClient(timeouts(ClientConfig{BaseURL: cfg.SunoBaseURL, APIKey: cfg.SunoAPIKey}), log)

	promptImageInput := func(p Params) map[string]any {
		input := map[string]any{
			"prompt": p.Prompt,
		}
		if p.AspectRatio != "" {
			input["aspect_ratio"] = p.AspectRatio
		}
		if p.ImageCount > 1 {
			input["image_count"] = p.ImageCount
		}
		if p.ImageURL != "" {
			input["image_input"] = []string{p.ImageURL}
		}
		return input
	}

	videoInput := func(p Params) map[string]any {
		input := map[string]any{
			"prompt": p.Prompt,
		}
		if p.AspectRatio != "" {
			input["aspect_ratio"] = p.AspectRatio
		}
		if p.DurationSec > 0 {
			input["duration"] = p.DurationSec
		}
		if p.ImageURL != "" {
			input["image_url"] = p.ImageURL
		}
		return input
	}

	adapters := []Adapter{
		&taskAdapter{
			key: "flux", kind: models.KindImage, model: "flux-2/std-text-to-image",
			client: kie, deadline: imageDeadline,
			cost: func(p Params) decimal.Decimal { return CostCheapImage(p.ImageCount) },
			validate: func(p Params) error {
				if err := validatePrompt(p.Prompt, maxPromptChars); err != nil {
					return err
				}
				if err := validateImageCount(p.ImageCount, 4); err != nil {
					return err
				}
				return validateAspectRatio(p.AspectRatio)
			},
			buildInput: promptImageInput,
		},
		&taskAdapter{
			key: "flux-pro", kind: models.KindImage, model: "flux-2/pro-text-to-image",
			client: kie, deadline: imageDeadline,
			cost: func(p Params) decimal.Decimal { return CostProImage(p.ImageCount) },
			validate: func(p Params) error {
				if err := validatePrompt(p.Prompt, maxPromptChars); err != nil {
					return err
				}
				if err := validateImageCount(p.ImageCount, 4); err != nil {
					return err
				}
				return validateAspectRatio(p.AspectRatio)
			},
			buildInput: promptImageInput,
		},
		&taskAdapter{
			key: "gpt-image", kind: models.KindImage, model: "gpt-image/generate",
			client: kie, deadline: imageDeadline,
			cost: func(p Params) decimal.Decimal { return CostTieredImage(p.Quality) },
			validate: func(p Params) error {
				if err := validatePrompt(p.Prompt, maxPromptChars); err != nil {
					return err
				}
				switch p.Quality {
				case "", "low", "medium", "high":
				default:
					return fmt.Errorf("%w: unknown quality %q", ErrBadParams, p.Quality)
				}
				return validateAspectRatio(p.AspectRatio)
			},
			buildInput: func(p Params) map[string]any {
				input := promptImageInput(p)
				if p.Quality != "" {
					input["quality"] = p.Quality
				}
				return input
			},
		},
		&taskAdapter{
			key: "nano-banana", kind: models.KindImage, model: "nano-banana-pro",
			client: kie, deadline: imageDeadline,
			cost: func(p Params) decimal.Decimal { return CostAltImage(p.ImageCount) },
			validate: func(p Params) error {
				if err := validatePrompt(p.Prompt, maxPromptChars); err != nil {
					return err
				}
				if err := validateImageCount(p.ImageCount, 5); err != nil {
					return err
				}
				return validateAspectRatio(p.AspectRatio)
			},
			buildInput: promptImageInput,
		},

		&taskAdapter{
			key: "kling", kind: models.KindVideo, model: "kling/video",
			client: kling, deadline: videoDeadline,
			cost: func(p Params) decimal.Decimal { return CostKling(p.DurationSec, p.Pro) },
			validate: func(p Params) error {
				if err := validatePrompt(p.Prompt, maxPromptChars); err != nil {
					return err
				}
				if err := validateDuration(p.DurationSec, 5, 10); err != nil {
					return err
				}
				return validateAspectRatio(p.AspectRatio)
			},
			buildInput: func(p Params) map[string]any {
				input := videoInput(p)
				if p.Pro {
					input["mode"] = "pro"
				} else {
					input["mode"] = "std"
				}
				return input
			},
		},
		&taskAdapter{
			key: "pixverse", kind: models.KindVideo, model: "pixverse/v4",
			client: pixverse, deadline: videoDeadline,
			cost: func(Params) decimal.Decimal { return CostPixverse() },
			validate: func(p Params) error {
				if err := validatePrompt(p.Prompt, maxPromptChars); err != nil {
					return err
				}
				return validateAspectRatio(p.AspectRatio)
			},
			buildInput: videoInput,
		},
		&taskAdapter{
			key: "hailuo", kind: models.KindVideo, model: "hailuo/video-01",
			client: hailuo, deadline: videoDeadline,
			cost: func(p Params) decimal.Decimal { return CostHailuo(p.Premium) },
			validate: func(p Params) error {
				if err := validatePrompt(p.Prompt, maxPromptChars); err != nil {
					return err
				}
				if p.Premium {
					return validateDuration(p.DurationSec, 5, 10, 15)
				}
				return validateDuration(p.DurationSec, 5)
			},
			buildInput: func(p Params) map[string]any {
				input := videoInput(p)
				if p.Premium {
					input["tier"] = "premium"
				}
				return input
			},
		},
		&taskAdapter{
			key: "avatar", kind: models.KindVideo, model: "avatar/talking-head",
			client: hailuo, deadline: videoDeadline,
			cost: func(p Params) decimal.Decimal { return CostAvatar(p.DurationSec) },
			validate: func(p Params) error {
				if err := validatePrompt(p.Prompt, maxPromptChars); err != nil {
					return err
				}
				if p.ImageURL == "" {
					return fmt.Errorf("%w: image_url is required", ErrBadParams)
				}
				return validateDuration(p.DurationSec, 5, 10)
			},
			buildInput: videoInput,
		},
		&taskAdapter{
			key: "veo", kind: models.KindVideo, model: "veo/3",
			client: veo, deadline: videoDeadline,
			cost: func(p Params) decimal.Decimal { return CostVeo(p.DurationSec, p.ImageURL != "") },
			validate: func(p Params) error {
				if err := validatePrompt(p.Prompt, maxPromptChars); err != nil {
					return err
				}
				if err := validateDuration(p.DurationSec, 5, 10, 15, 20, 25, 30, 35, 40); err != nil {
					return err
				}
				return validateAspectRatio(p.AspectRatio)
			},
			buildInput: videoInput,
		},
		&taskAdapter{
			key: "upscale", kind: models.KindVideo, model: "runway/upscale-v1",
			client: runway, deadline: videoDeadline,
			cost:     func(Params) decimal.Decimal { return CostUpscale() },
			validate: requireVideoURL,
			buildInput: func(p Params) map[string]any {
				return map[string]any{"video_url": p.VideoURL}
			},
		},
		&taskAdapter{
			key: "aleph", kind: models.KindVideo, model: "runway/aleph",
			client: runway, deadline: videoDeadline,
			cost: func(Params) decimal.Decimal { return CostAleph() },
			validate: func(p Params) error {
				if err := requireVideoURL(p); err != nil {
					return err
				}
				return validatePrompt(p.Prompt, maxPromptChars)
			},
			buildInput: func(p Params) map[string]any {
				return map[string]any{"prompt": p.Prompt, "video_url": p.VideoURL}
			},
		},

		&taskAdapter{
			key: "tts", kind: models.KindAudio, model: "speechify/tts",
			client: speechify, deadline: audioDeadline,
			cost: func(p Params) decimal.Decimal { return CostTTS(p.Prompt) },
			validate: func(p Params) error {
				return validatePrompt(p.Prompt, maxTTSChars)
			},
			buildInput: func(p Params) map[string]any {
				input := map[string]any{"text": p.Prompt}
				if p.Voice != "" {
					input["voice"] = p.Voice
				}
				return input
			},
		},
		&callbackAdapter{
			taskAdapter: taskAdapter{
				key: "music", kind: models.KindAudio, model: "suno/v4",
				client: suno, deadline: audioDeadline,
				cost: func(Params) decimal.Decimal { return CostMusic() },
				validate: func(p Params) error {
					return validatePrompt(p.Prompt, maxPromptChars)
				},
				buildInput: func(p Params) map[string]any {
					return map[string]any{"prompt": p.Prompt}
				},
			},
			callbacks:   callbacks,
			callbackURL: cfg.PublicBaseURL + "/api/provider/callback",
		},
	}

	reg := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		reg.adapters[a.Key()] = a
	}
	return reg
}
