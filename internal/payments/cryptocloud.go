package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const cryptoCloudAPIBase = "https://api.cryptocloud.plus"

// CryptoCloudClient drives crypto invoices.
type CryptoCloudClient struct {
	apiKey        string
	shopID        string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func NewCryptoCloudClient(apiKey, shopID, webhookSecret string) *CryptoCloudClient {
	return &CryptoCloudClient{
		apiKey:        apiKey,
		shopID:        shopID,
		webhookSecret: webhookSecret,
		baseURL:       cryptoCloudAPIBase,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

type cryptoInvoiceResponse struct {
	Status string `json:"status"`
	Result struct {
		UUID string `json:"uuid"`
		Link string `json:"link"`
	} `json:"result"`
}

// CreateInvoice opens a crypto invoice and returns its uuid and payment link.
// The order id travels in the invoice's order_id field.
func (c *CryptoCloudClient) CreateInvoice(ctx context.Context, orderID int64, priceEUR decimal.Decimal) (string, string, error) {
	payload, err := json.Marshal(map[string]any{
		"shop_id":  c.shopID,
		"amount":   priceEUR.InexactFloat64(),
		"currency": "EUR",
		"order_id": strconv.FormatInt(orderID, 10),
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal invoice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/invoice/create", bytes.NewReader(payload))
	if err != nil {
		return "", "", fmt.Errorf("build invoice request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("create invoice: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("read invoice response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("invoice create failed: status %d", resp.StatusCode)
	}
	var invoice cryptoInvoiceResponse
	if err := json.Unmarshal(body, &invoice); err != nil {
		return "", "", fmt.Errorf("decode invoice: %w", err)
	}
	if invoice.Result.Link == "" {
		return "", "", errors.New("invoice has no payment link")
	}
	return invoice.Result.UUID, invoice.Result.Link, nil
}

// VerifySignature compares the webhook's signature header with the HMAC of
// the raw body.
func (c *CryptoCloudClient) VerifySignature(signature string, body []byte) error {
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

type cryptoEvent struct {
	Status    string `json:"status"`
	InvoiceID string `json:"invoice_id"`
	OrderID   string `json:"order_id"`
}

// parseCryptoEvent maps an invoice postback to the order it settles or
// cancels.
func parseCryptoEvent(body []byte) (orderAction, int64, string, error) {
	var ev cryptoEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return orderIgnore, 0, "", fmt.Errorf("decode event: %w", err)
	}
	var action orderAction
	switch ev.Status {
	case "success", "paid":
		action = orderPaid
	case "fail", "canceled", "cancelled":
		action = orderCancelled
	default:
		return orderIgnore, 0, "", nil
	}
	id, err := strconv.ParseInt(ev.OrderID, 10, 64)
	if err != nil {
		return orderIgnore, 0, "", fmt.Errorf("bad order_id %q: %w", ev.OrderID, err)
	}
	return action, id, ev.InvoiceID, nil
}
