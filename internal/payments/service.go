package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/models"
)

// ErrUnknownSKU is returned when a checkout names a sku outside the catalog.
var ErrUnknownSKU = errors.New("unknown sku")

var referralBonusRate = decimal.NewFromFloat(0.10)

// orderAction is what a webhook event asks of its order.
type orderAction int

const (
	orderIgnore orderAction = iota
	orderPaid
	orderCancelled
)

type Orders interface {
	Create(ctx context.Context, order *models.Order) error
	SetProviderRef(ctx context.Context, orderID int64, ref string) error
	SetStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
	MarkPaidOnce(ctx context.Context, orderID int64) (*models.Order, bool, error)
}

type Granter interface {
	Grant(ctx context.Context, userID int64, amount decimal.Decimal, reason, provider, providerRef string) (decimal.Decimal, error)
}

type PlanSetter interface {
	SetPlan(ctx context.Context, userID int64, sku string) error
}

type Referrals interface {
	AddPurchase(ctx context.Context, inviteeUserID int64, amountEUR decimal.Decimal) (int64, error)
}

type stripeGateway interface {
	CreateCheckout(ctx context.Context, orderID int64, sku, title string, priceEUR decimal.Decimal, successURL, cancelURL string) (string, string, error)
	VerifySignature(header string, body []byte, now time.Time) error
}

type cryptoGateway interface {
	CreateInvoice(ctx context.Context, orderID int64, priceEUR decimal.Decimal) (string, string, error)
	VerifySignature(signature string, body []byte) error
}

// Service ties checkout creation and webhook settlement together. Settlement
// is idempotent: only the call that flips the order to paid grants credits.
type Service struct {
	orders        Orders
	granter       Granter
	plans         PlanSetter
	referrals     Referrals
	stripe        stripeGateway
	crypto        cryptoGateway
	publicBaseURL string
	log           *slog.Logger
}

func NewService(orders Orders, granter Granter, plans PlanSetter, referrals Referrals, stripe *StripeClient, crypto *CryptoCloudClient, publicBaseURL string, log *slog.Logger) *Service {
	return &Service{
		orders:        orders,
		granter:       granter,
		plans:         plans,
		referrals:     referrals,
		stripe:        stripe,
		crypto:        crypto,
		publicBaseURL: publicBaseURL,
		log:           log,
	}
}

// skuInfo resolves a sku from either half of the catalog.
func skuInfo(sku string) (kind models.OrderKind, title string, credits, price decimal.Decimal, err error) {
	if pack, ok := FindPack(sku); ok {
		return models.OrderKindCredits, pack.Title, pack.Credits, pack.PriceEUR, nil
	}
	if plan, ok := FindPlan(sku); ok {
		return models.OrderKindPlan, plan.Title, plan.Credits, plan.PriceEUR, nil
	}
	return "", "", decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSKU, sku)
}

// CreateStripeCheckout inserts a pending order and opens a card checkout for
// it, returning the redirect URL.
func (s *Service) CreateStripeCheckout(ctx context.Context, userID int64, sku string) (string, error) {
	kind, title, _, price, err := skuInfo(sku)
	if err != nil {
		return "", err
	}
	order := &models.Order{
		UserID:    userID,
		Kind:      kind,
		SKU:       sku,
		AmountEUR: price,
		Currency:  "EUR",
		Status:    models.OrderPending,
		Provider:  "stripe",
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return "", err
	}
	sessionID, redirectURL, err := s.stripe.CreateCheckout(ctx, order.ID, sku, title, price,
		s.publicBaseURL+"/payment/success", s.publicBaseURL+"/payment/cancel")
	if err != nil {
		return "", err
	}
	if err := s.orders.SetProviderRef(ctx, order.ID, sessionID); err != nil {
		s.log.Error("save session ref", "order_id", order.ID, "err", err)
	}
	return redirectURL, nil
}

// CreateCryptoInvoice inserts a pending order and opens a crypto invoice for
// it, returning the payment link.
func (s *Service) CreateCryptoInvoice(ctx context.Context, userID int64, sku string) (string, error) {
	kind, _, _, price, err := skuInfo(sku)
	if err != nil {
		return "", err
	}
	order := &models.Order{
		UserID:    userID,
		Kind:      kind,
		SKU:       sku,
		AmountEUR: price,
		Currency:  "EUR",
		Status:    models.OrderPending,
		Provider:  "cryptocloud",
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return "", err
	}
	invoiceID, link, err := s.crypto.CreateInvoice(ctx, order.ID, price)
	if err != nil {
		return "", err
	}
	if err := s.orders.SetProviderRef(ctx, order.ID, invoiceID); err != nil {
		s.log.Error("save invoice ref", "order_id", order.ID, "err", err)
	}
	return link, nil
}

// HandleStripeWebhook verifies a card webhook and applies it: completed
// sessions settle their order, expired sessions cancel it. Unknown event
// types are acknowledged without action.
func (s *Service) HandleStripeWebhook(ctx context.Context, signatureHeader string, body []byte) error {
	if err := s.stripe.VerifySignature(signatureHeader, body, time.Now()); err != nil {
		return err
	}
	action, orderID, sessionID, err := parseStripeEvent(body)
	if err != nil {
		return err
	}
	return s.apply(ctx, action, orderID, sessionID)
}

// HandleCryptoWebhook verifies and applies a crypto invoice postback.
func (s *Service) HandleCryptoWebhook(ctx context.Context, signature string, body []byte) error {
	if err := s.crypto.VerifySignature(signature, body); err != nil {
		return err
	}
	action, orderID, invoiceID, err := parseCryptoEvent(body)
	if err != nil {
		return err
	}
	return s.apply(ctx, action, orderID, invoiceID)
}

func (s *Service) apply(ctx context.Context, action orderAction, orderID int64, providerRef string) error {
	switch action {
	case orderPaid:
		return s.settle(ctx, orderID, providerRef)
	case orderCancelled:
		return s.cancel(ctx, orderID)
	default:
		return nil
	}
}

// cancel marks an abandoned checkout so its order is not left pending. The
// transition only applies to pending orders, so a late expiry event cannot
// touch a paid one.
func (s *Service) cancel(ctx context.Context, orderID int64) error {
	if err := s.orders.SetStatus(ctx, orderID, models.OrderCancelled); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	s.log.Info("order cancelled", "order_id", orderID)
	return nil
}

// settle flips the order to paid and grants its credits exactly once.
// Missing orders and replays are no-ops.
func (s *Service) settle(ctx context.Context, orderID int64, providerRef string) error {
	order, transitioned, err := s.orders.MarkPaidOnce(ctx, orderID)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	if order == nil {
		s.log.Warn("webhook for unknown order", "order_id", orderID)
		return nil
	}
	if !transitioned {
		s.log.Info("webhook replay ignored", "order_id", orderID, "status", order.Status)
		return nil
	}

	_, _, credits, _, err := skuInfo(order.SKU)
	if err != nil {
		return err
	}
	if order.Kind == models.OrderKindPlan {
		if err := s.plans.SetPlan(ctx, order.UserID, order.SKU); err != nil {
			return fmt.Errorf("set plan: %w", err)
		}
	}
	if _, err := s.granter.Grant(ctx, order.UserID, credits, "Purchase: "+order.SKU, order.Provider, providerRef); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	s.log.Info("order settled", "order_id", order.ID, "user_id", order.UserID, "sku", order.SKU, "credits", credits.StringFixed(2))

	s.payReferralBonus(ctx, order, credits, providerRef)
	return nil
}

// payReferralBonus records the purchase against the invitee's referral and
// grants the inviter a share of the purchased credits. Failures are logged,
// never surfaced to the webhook caller.
func (s *Service) payReferralBonus(ctx context.Context, order *models.Order, credits decimal.Decimal, providerRef string) {
	inviterID, err := s.referrals.AddPurchase(ctx, order.UserID, order.AmountEUR)
	if err != nil {
		s.log.Error("record referral purchase", "order_id", order.ID, "err", err)
		return
	}
	if inviterID == 0 {
		return
	}
	bonus := credits.Mul(referralBonusRate).Round(2)
	if _, err := s.granter.Grant(ctx, inviterID, bonus, "Referral bonus", order.Provider, fmt.Sprintf("%s:ref:%d", providerRef, order.ID)); err != nil {
		s.log.Error("grant referral bonus", "inviter_id", inviterID, "err", err)
		return
	}
	s.log.Info("referral bonus granted", "inviter_id", inviterID, "bonus", bonus.StringFixed(2))
}
