package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/models"
)

type grant struct {
	userID int64
	amount decimal.Decimal
	ref    string
}

type fakeOrders struct {
	orders map[int64]*models.Order
	nextID int64
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: map[int64]*models.Order{}}
}

func (f *fakeOrders) Create(_ context.Context, order *models.Order) error {
	f.nextID++
	order.ID = f.nextID
	clone := *order
	f.orders[order.ID] = &clone
	return nil
}

func (f *fakeOrders) SetProviderRef(_ context.Context, orderID int64, ref string) error {
	if o, ok := f.orders[orderID]; ok {
		o.ProviderRef = ref
	}
	return nil
}

func (f *fakeOrders) SetStatus(_ context.Context, orderID int64, status models.OrderStatus) error {
	if o, ok := f.orders[orderID]; ok && o.Status == models.OrderPending {
		o.Status = status
	}
	return nil
}

func (f *fakeOrders) MarkPaidOnce(_ context.Context, orderID int64) (*models.Order, bool, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, false, nil
	}
	if o.Status != models.OrderPending {
		clone := *o
		return &clone, false, nil
	}
	o.Status = models.OrderPaid
	clone := *o
	return &clone, true, nil
}

type fakeGranter struct {
	grants []grant
}

func (f *fakeGranter) Grant(_ context.Context, userID int64, amount decimal.Decimal, _, _, providerRef string) (decimal.Decimal, error) {
	f.grants = append(f.grants, grant{userID: userID, amount: amount, ref: providerRef})
	return amount, nil
}

type fakePlans struct {
	set map[int64]string
}

func (f *fakePlans) SetPlan(_ context.Context, userID int64, sku string) error {
	if f.set == nil {
		f.set = map[int64]string{}
	}
	f.set[userID] = sku
	return nil
}

type fakeReferrals struct {
	inviterID int64
	purchases []decimal.Decimal
}

func (f *fakeReferrals) AddPurchase(_ context.Context, _ int64, amountEUR decimal.Decimal) (int64, error) {
	f.purchases = append(f.purchases, amountEUR)
	return f.inviterID, nil
}

type fakeStripe struct {
	sigErr error
}

func (f *fakeStripe) CreateCheckout(_ context.Context, orderID int64, _, _ string, _ decimal.Decimal, _, _ string) (string, string, error) {
	return fmt.Sprintf("cs_%d", orderID), "https://checkout.example/session", nil
}

func (f *fakeStripe) VerifySignature(_ string, _ []byte, _ time.Time) error {
	return f.sigErr
}

type fakeCrypto struct {
	sigErr error
}

func (f *fakeCrypto) CreateInvoice(_ context.Context, orderID int64, _ decimal.Decimal) (string, string, error) {
	return fmt.Sprintf("inv_%d", orderID), "https://pay.example/invoice", nil
}

func (f *fakeCrypto) VerifySignature(_ string, _ []byte) error {
	return f.sigErr
}

func newTestService(orders *fakeOrders, granter *fakeGranter, plans *fakePlans, refs *fakeReferrals) *Service {
	return &Service{
		orders:        orders,
		granter:       granter,
		plans:         plans,
		referrals:     refs,
		stripe:        &fakeStripe{},
		crypto:        &fakeCrypto{},
		publicBaseURL: "https://app.example",
		log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func stripeBody(orderID int64, sessionID string) []byte {
	return []byte(fmt.Sprintf(`{"type":"checkout.session.completed","data":{"object":{"id":%q,"metadata":{"order_id":"%d","sku":"CREDITS_100"}}}}`, sessionID, orderID))
}

func TestStripeWebhookReplayCreditsOnce(t *testing.T) {
	orders := newFakeOrders()
	granter := &fakeGranter{}
	svc := newTestService(orders, granter, &fakePlans{}, &fakeReferrals{})

	order := &models.Order{UserID: 42, Kind: models.OrderKindCredits, SKU: "CREDITS_100", AmountEUR: decimal.NewFromFloat(8.99), Currency: "EUR", Status: models.OrderPending, Provider: "stripe"}
	if err := orders.Create(context.Background(), order); err != nil {
		t.Fatal(err)
	}

	body := stripeBody(order.ID, "session_xxx")
	for i := 0; i < 3; i++ {
		if err := svc.HandleStripeWebhook(context.Background(), "sig", body); err != nil {
			t.Fatalf("webhook delivery %d: %v", i+1, err)
		}
	}

	if len(granter.grants) != 1 {
		t.Fatalf("grants = %d, want exactly 1", len(granter.grants))
	}
	g := granter.grants[0]
	if g.userID != 42 || !g.amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("grant = %+v, want 100 credits to user 42", g)
	}
	if g.ref != "session_xxx" {
		t.Errorf("grant ref = %q, want session_xxx", g.ref)
	}
	if orders.orders[order.ID].Status != models.OrderPaid {
		t.Errorf("order status = %q, want paid", orders.orders[order.ID].Status)
	}
}

func TestStripeWebhookIgnoresOtherEvents(t *testing.T) {
	granter := &fakeGranter{}
	svc := newTestService(newFakeOrders(), granter, &fakePlans{}, &fakeReferrals{})

	body := []byte(`{"type":"invoice.payment_failed","data":{"object":{}}}`)
	if err := svc.HandleStripeWebhook(context.Background(), "sig", body); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if len(granter.grants) != 0 {
		t.Errorf("grants = %d, want none", len(granter.grants))
	}
}

func TestStripeExpiredSessionCancelsOrder(t *testing.T) {
	orders := newFakeOrders()
	granter := &fakeGranter{}
	svc := newTestService(orders, granter, &fakePlans{}, &fakeReferrals{})

	order := &models.Order{UserID: 42, Kind: models.OrderKindCredits, SKU: "CREDITS_100", AmountEUR: decimal.NewFromFloat(8.99), Currency: "EUR", Status: models.OrderPending, Provider: "stripe"}
	if err := orders.Create(context.Background(), order); err != nil {
		t.Fatal(err)
	}

	expired := []byte(fmt.Sprintf(`{"type":"checkout.session.expired","data":{"object":{"id":"s","metadata":{"order_id":"%d","sku":"CREDITS_100"}}}}`, order.ID))
	if err := svc.HandleStripeWebhook(context.Background(), "sig", expired); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if orders.orders[order.ID].Status != models.OrderCancelled {
		t.Errorf("order status = %q, want cancelled", orders.orders[order.ID].Status)
	}
	if len(granter.grants) != 0 {
		t.Errorf("grants = %d, want none", len(granter.grants))
	}

	// Completion arriving after cancellation settles nothing.
	if err := svc.HandleStripeWebhook(context.Background(), "sig", stripeBody(order.ID, "s")); err != nil {
		t.Fatalf("late completion webhook: %v", err)
	}
	if len(granter.grants) != 0 {
		t.Errorf("grants after late completion = %d, want none", len(granter.grants))
	}

	// And a late expiry cannot unpay a settled order.
	paid := &models.Order{UserID: 42, Kind: models.OrderKindCredits, SKU: "CREDITS_100", AmountEUR: decimal.NewFromFloat(8.99), Currency: "EUR", Status: models.OrderPending, Provider: "stripe"}
	if err := orders.Create(context.Background(), paid); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleStripeWebhook(context.Background(), "sig", stripeBody(paid.ID, "s2")); err != nil {
		t.Fatalf("completion webhook: %v", err)
	}
	lateExpiry := []byte(fmt.Sprintf(`{"type":"checkout.session.expired","data":{"object":{"id":"s2","metadata":{"order_id":"%d","sku":"CREDITS_100"}}}}`, paid.ID))
	if err := svc.HandleStripeWebhook(context.Background(), "sig", lateExpiry); err != nil {
		t.Fatalf("late expiry webhook: %v", err)
	}
	if orders.orders[paid.ID].Status != models.OrderPaid {
		t.Errorf("order status = %q, want paid to survive a late expiry", orders.orders[paid.ID].Status)
	}
}

func TestCryptoFailedInvoiceCancelsOrder(t *testing.T) {
	orders := newFakeOrders()
	granter := &fakeGranter{}
	svc := newTestService(orders, granter, &fakePlans{}, &fakeReferrals{})

	order := &models.Order{UserID: 7, Kind: models.OrderKindCredits, SKU: "CREDITS_50", AmountEUR: decimal.NewFromFloat(4.99), Currency: "EUR", Status: models.OrderPending, Provider: "cryptocloud"}
	if err := orders.Create(context.Background(), order); err != nil {
		t.Fatal(err)
	}

	body := []byte(fmt.Sprintf(`{"status":"fail","invoice_id":"inv_1","order_id":"%d"}`, order.ID))
	if err := svc.HandleCryptoWebhook(context.Background(), "sig", body); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if orders.orders[order.ID].Status != models.OrderCancelled {
		t.Errorf("order status = %q, want cancelled", orders.orders[order.ID].Status)
	}
	if len(granter.grants) != 0 {
		t.Errorf("grants = %d, want none", len(granter.grants))
	}
}

func TestStripeWebhookUnknownOrderAcked(t *testing.T) {
	granter := &fakeGranter{}
	svc := newTestService(newFakeOrders(), granter, &fakePlans{}, &fakeReferrals{})

	if err := svc.HandleStripeWebhook(context.Background(), "sig", stripeBody(999, "s")); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if len(granter.grants) != 0 {
		t.Errorf("grants = %d, want none", len(granter.grants))
	}
}

func TestStripeWebhookBadSignature(t *testing.T) {
	svc := newTestService(newFakeOrders(), &fakeGranter{}, &fakePlans{}, &fakeReferrals{})
	svc.stripe = &fakeStripe{sigErr: ErrBadSignature}

	err := svc.HandleStripeWebhook(context.Background(), "bad", stripeBody(1, "s"))
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestPlanPurchaseSetsPlan(t *testing.T) {
	orders := newFakeOrders()
	granter := &fakeGranter{}
	plans := &fakePlans{}
	svc := newTestService(orders, granter, plans, &fakeReferrals{})

	order := &models.Order{UserID: 7, Kind: models.OrderKindPlan, SKU: "PLAN_PRO", AmountEUR: decimal.NewFromFloat(29.99), Currency: "EUR", Status: models.OrderPending, Provider: "cryptocloud"}
	if err := orders.Create(context.Background(), order); err != nil {
		t.Fatal(err)
	}
	body := []byte(fmt.Sprintf(`{"status":"success","invoice_id":"inv_1","order_id":"%d"}`, order.ID))
	if err := svc.HandleCryptoWebhook(context.Background(), "sig", body); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	if plans.set[7] != "PLAN_PRO" {
		t.Errorf("plan = %q, want PLAN_PRO", plans.set[7])
	}
	if len(granter.grants) != 1 || !granter.grants[0].amount.Equal(decimal.NewFromInt(400)) {
		t.Errorf("grants = %+v, want 400 credits", granter.grants)
	}
}

func TestReferralBonusGranted(t *testing.T) {
	orders := newFakeOrders()
	granter := &fakeGranter{}
	refs := &fakeReferrals{inviterID: 99}
	svc := newTestService(orders, granter, &fakePlans{}, refs)

	order := &models.Order{UserID: 42, Kind: models.OrderKindCredits, SKU: "CREDITS_50", AmountEUR: decimal.NewFromFloat(4.99), Currency: "EUR", Status: models.OrderPending, Provider: "stripe"}
	if err := orders.Create(context.Background(), order); err != nil {
		t.Fatal(err)
	}
	body := []byte(fmt.Sprintf(`{"type":"checkout.session.completed","data":{"object":{"id":"s","metadata":{"order_id":"%d","sku":"CREDITS_50"}}}}`, order.ID))
	if err := svc.HandleStripeWebhook(context.Background(), "sig", body); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	if len(refs.purchases) != 1 || !refs.purchases[0].Equal(decimal.NewFromFloat(4.99)) {
		t.Errorf("recorded purchases = %v", refs.purchases)
	}
	if len(granter.grants) != 2 {
		t.Fatalf("grants = %d, want purchase + bonus", len(granter.grants))
	}
	bonus := granter.grants[1]
	if bonus.userID != 99 || !bonus.amount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("bonus = %+v, want 5 credits to user 99", bonus)
	}
}

func TestCreateStripeCheckout(t *testing.T) {
	orders := newFakeOrders()
	svc := newTestService(orders, &fakeGranter{}, &fakePlans{}, &fakeReferrals{})

	url, err := svc.CreateStripeCheckout(context.Background(), 42, "CREDITS_100")
	if err != nil {
		t.Fatalf("CreateStripeCheckout: %v", err)
	}
	if url != "https://checkout.example/session" {
		t.Errorf("url = %q", url)
	}
	o := orders.orders[1]
	if o == nil || o.Status != models.OrderPending || o.ProviderRef != "cs_1" {
		t.Errorf("order = %+v, want pending with session ref", o)
	}

	if _, err := svc.CreateStripeCheckout(context.Background(), 42, "NOPE"); !errors.Is(err, ErrUnknownSKU) {
		t.Errorf("unknown sku err = %v", err)
	}
}

func signStripe(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifySignature(t *testing.T) {
	client := NewStripeClient("sk_test", "whsec_test")
	body := []byte(`{"type":"checkout.session.completed"}`)
	now := time.Unix(1_700_000_000, 0)

	t.Run("valid", func(t *testing.T) {
		header := signStripe("whsec_test", now.Unix(), body)
		if err := client.VerifySignature(header, body, now); err != nil {
			t.Fatalf("VerifySignature: %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := signStripe("whsec_other", now.Unix(), body)
		if err := client.VerifySignature(header, body, now); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err = %v, want ErrBadSignature", err)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		header := signStripe("whsec_test", now.Unix(), body)
		if err := client.VerifySignature(header, []byte(`{}`), now); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err = %v, want ErrBadSignature", err)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := now.Add(-10 * time.Minute)
		header := signStripe("whsec_test", old.Unix(), body)
		if err := client.VerifySignature(header, body, now); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err = %v, want ErrBadSignature", err)
		}
	})

	t.Run("garbage header", func(t *testing.T) {
		if err := client.VerifySignature("not-a-header", body, now); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err = %v, want ErrBadSignature", err)
		}
	})

	t.Run("second v1 accepted", func(t *testing.T) {
		header := signStripe("whsec_test", now.Unix(), body)
		i := strings.Index(header, ",v1=")
		withExtra := header[:i] + ",v1=deadbeef" + header[i:]
		if err := client.VerifySignature(withExtra, body, now); err != nil {
			t.Fatalf("VerifySignature: %v", err)
		}
	})
}

func TestCryptoVerifySignature(t *testing.T) {
	client := NewCryptoCloudClient("key", "shop", "secret")
	body := []byte(`{"status":"success","order_id":"1"}`)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	if err := client.VerifySignature(good, body); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if err := client.VerifySignature(good, []byte(`{}`)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered body err = %v, want ErrBadSignature", err)
	}
	if err := client.VerifySignature("ffff", body); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("bad digest err = %v, want ErrBadSignature", err)
	}
}
