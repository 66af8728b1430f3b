package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrBadSignature is returned when a webhook payload fails HMAC verification.
var ErrBadSignature = errors.New("bad webhook signature")

const (
	stripeAPIBase      = "https://api.stripe.com"
	signatureTolerance = 5 * time.Minute
)

// StripeClient drives card checkouts. It talks to the sessions API directly
// with form-encoded requests.
type StripeClient struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func NewStripeClient(secretKey, webhookSecret string) *StripeClient {
	return &StripeClient{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       stripeAPIBase,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

type checkoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckout opens a hosted checkout session and returns its id and
// redirect URL. The order id and sku travel in session metadata so the
// webhook can settle the right order.
func (c *StripeClient) CreateCheckout(ctx context.Context, orderID int64, sku, title string, priceEUR decimal.Decimal, successURL, cancelURL string) (string, string, error) {
	cents := priceEUR.Mul(decimal.NewFromInt(100)).IntPart()
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", "eur")
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(cents, 10))
	form.Set("line_items[0][price_data][product_data][name]", title)
	form.Set("metadata[order_id]", strconv.FormatInt(orderID, 10))
	form.Set("metadata[sku]", sku)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("build checkout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("read checkout response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("checkout session failed: status %d", resp.StatusCode)
	}
	var session checkoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return "", "", fmt.Errorf("decode checkout session: %w", err)
	}
	if session.URL == "" {
		return "", "", errors.New("checkout session has no redirect url")
	}
	return session.ID, session.URL, nil
}

// VerifySignature checks the Stripe-Signature header against the raw body.
// The header carries a unix timestamp and one or more v1 HMAC digests over
// "<timestamp>.<body>"; the timestamp must be within tolerance.
func (c *StripeClient) VerifySignature(header string, body []byte, now time.Time) error {
	var ts string
	var digests []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			digests = append(digests, kv[1])
		}
	}
	if ts == "" || len(digests) == 0 {
		return ErrBadSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	at := time.Unix(unix, 0)
	if at.Before(now.Add(-signatureTolerance)) || at.After(now.Add(signatureTolerance)) {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	for _, d := range digests {
		if hmac.Equal([]byte(want), []byte(d)) {
			return nil
		}
	}
	return ErrBadSignature
}

type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// parseStripeEvent maps a webhook event to the order it settles or cancels.
// Event types the gateway does not act on return orderIgnore and should be
// acknowledged without action.
func parseStripeEvent(body []byte) (orderAction, int64, string, error) {
	var ev stripeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return orderIgnore, 0, "", fmt.Errorf("decode event: %w", err)
	}
	var action orderAction
	switch ev.Type {
	case "checkout.session.completed":
		action = orderPaid
	case "checkout.session.expired":
		action = orderCancelled
	default:
		return orderIgnore, 0, "", nil
	}
	raw := ev.Data.Object.Metadata["order_id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return orderIgnore, 0, "", fmt.Errorf("bad order_id %q: %w", raw, err)
	}
	return action, id, ev.Data.Object.ID, nil
}
