package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
	"testing"
)

const testBotToken = "1234567890:TEST-TOKEN-abcdef"

// signPayload reproduces the Telegram signing chain independently of the
// implementation under test.
func signPayload(botToken string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}

	keyMAC := hmac.New(sha256.New, []byte("WebAppData"))
	keyMAC.Write([]byte(botToken))
	mac := hmac.New(sha256.New, keyMAC.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func validPayload(t *testing.T) string {
	t.Helper()
	values := url.Values{}
	values.Set("user", `{"id":42,"username":"alice","first_name":"Alice"}`)
	values.Set("auth_date", "1700000000")
	values.Set("start_param", "ref123")
	values.Set("hash", signPayload(testBotToken, values))
	return values.Encode()
}

func TestVerify_ValidPayload(t *testing.T) {
	data, err := Verify(testBotToken, validPayload(t))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if data.User.ID != 42 {
		t.Errorf("user id = %d, want 42", data.User.ID)
	}
	if data.User.Username != "alice" {
		t.Errorf("username = %q, want alice", data.User.Username)
	}
	if data.StartParam != "ref123" {
		t.Errorf("start_param = %q, want ref123", data.StartParam)
	}
	if data.AuthDate.Unix() != 1700000000 {
		t.Errorf("auth_date = %d, want 1700000000", data.AuthDate.Unix())
	}
}

func TestVerify_TamperedHash(t *testing.T) {
	raw := validPayload(t)
	values, _ := url.ParseQuery(raw)
	h := values.Get("hash")
	// Flip one nibble.
	flipped := "0"
	if h[0] == '0' {
		flipped = "1"
	}
	values.Set("hash", flipped+h[1:])

	if _, err := Verify(testBotToken, values.Encode()); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestVerify_TamperedField(t *testing.T) {
	raw := validPayload(t)
	values, _ := url.ParseQuery(raw)
	values.Set("user", `{"id":43,"username":"mallory","first_name":"Mallory"}`)

	if _, err := Verify(testBotToken, values.Encode()); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestVerify_Defects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty payload", ""},
		{"missing hash", "user=%7B%22id%22%3A42%7D&auth_date=1700000000"},
		{"garbage", "%zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Verify(testBotToken, tt.raw); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestVerify_MalformedUserJSON(t *testing.T) {
	values := url.Values{}
	values.Set("user", `{not json`)
	values.Set("auth_date", "1700000000")
	values.Set("hash", signPayload(testBotToken, values))

	if _, err := Verify(testBotToken, values.Encode()); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestVerify_WrongBotToken(t *testing.T) {
	raw := validPayload(t)
	if _, err := Verify("other:token", raw); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
