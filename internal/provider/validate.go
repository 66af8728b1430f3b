package provider

import (
	"fmt"
	"unicode/utf8"
)

const (
	maxPromptChars = 2000
	maxTTSChars    = 5000
)

var allowedAspectRatios = map[string]bool{
	"":     true, // provider default
	"1:1":  true,
	"16:9": true,
	"9:16": true,
	"4:3":  true,
	"3:4":  true,
}

func validatePrompt(prompt string, maxChars int) error {
	n := utf8.RuneCountInString(prompt)
	if n == 0 {
		return fmt.Errorf("%w: prompt is required", ErrBadParams)
	}
	if n > maxChars {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrBadParams, maxChars)
	}
	return nil
}

func validateImageCount(n, max int) error {
	if n < 0 || n > max {
		return fmt.Errorf("%w: image count must be between 1 and %d", ErrBadParams, max)
	}
	return nil
}

// validateDuration accepts zero (provider default) or one of the enumerated
// values.
func validateDuration(d int, allowed ...int) error {
	if d == 0 {
		return nil
	}
	for _, a := range allowed {
		if d == a {
			return nil
		}
	}
	return fmt.Errorf("%w: duration %d not in allowed set %v", ErrBadParams, d, allowed)
}

func validateAspectRatio(ar string) error {
	if !allowedAspectRatios[ar] {
		return fmt.Errorf("%w: unsupported aspect ratio %q", ErrBadParams, ar)
	}
	return nil
}

func requireVideoURL(p Params) error {
	if p.VideoURL == "" {
		return fmt.Errorf("%w: video_url is required", ErrBadParams)
	}
	return nil
}
