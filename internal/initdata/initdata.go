// Package initdata validates the signed payload a Telegram mini-app hands to
// the backend on every request. The payload proves the caller's chat identity
// without a password.
package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrInvalid = errors.New("invalid init data")

// UserInfo is the caller identity carried inside the payload.
type UserInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Data is the verified content of an init payload.
type Data struct {
	User       UserInfo
	StartParam string
	AuthDate   time.Time
}

// Verify checks the payload signature against the bot token and extracts the
// caller identity. Any defect in the payload surfaces as ErrInvalid.
func Verify(botToken, raw string) (*Data, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalid)
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse payload: %v", ErrInvalid, err)
	}

	received := values.Get("hash")
	if received == "" {
		return nil, fmt.Errorf("%w: missing hash", ErrInvalid)
	}
	values.Del("hash")

	expected := computeHash(botToken, values)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return nil, fmt.Errorf("%w: hash mismatch", ErrInvalid)
	}

	userJSON := values.Get("user")
	if userJSON == "" {
		return nil, fmt.Errorf("%w: missing user field", ErrInvalid)
	}
	var user UserInfo
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, fmt.Errorf("%w: parse user: %v", ErrInvalid, err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: user id missing", ErrInvalid)
	}

	data := &Data{
		User:       user,
		StartParam: values.Get("start_param"),
	}
	if ad := values.Get("auth_date"); ad != "" {
		if unix, err := strconv.ParseInt(ad, 10, 64); err == nil {
			data.AuthDate = time.Unix(unix, 0)
		}
	}
	return data, nil
}

// computeHash builds the canonical key=value string (keys sorted, joined by
// line feeds) and signs it with HMAC-SHA256 keyed by
// HMAC-SHA256("WebAppData", botToken).
func computeHash(botToken string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		// Duplicate fields keep the first occurrence only.
		pairs = append(pairs, k+"="+values[k][0])
	}
	canonical := strings.Join(pairs, "\n")

	keyMAC := hmac.New(sha256.New, []byte("WebAppData"))
	keyMAC.Write([]byte(botToken))
	signingKey := keyMAC.Sum(nil)

	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
