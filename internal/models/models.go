package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MediaKind classifies a tool's output for delivery and storage routing.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

type HoldState string

const (
	HoldHeld     HoldState = "HELD"
	HoldCaptured HoldState = "CAPTURED"
	HoldReleased HoldState = "RELEASED"
)

type OrderKind string

const (
	OrderKindCredits OrderKind = "credits"
	OrderKindPlan    OrderKind = "plan"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type User struct {
	ID           int64
	TelegramID   int64
	Username     string
	FirstName    string
	Credits      decimal.Decimal
	ExtraCredits decimal.Decimal
	PlanSKU      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LedgerEntry is append-only; the sum of deltas for a user always equals
// the user's credits column.
type LedgerEntry struct {
	ID          int64
	UserID      int64
	Delta       decimal.Decimal
	Reason      string
	Provider    string
	ProviderRef string
	CreatedAt   time.Time
}

type CreditHold struct {
	ID             int64
	UserID         int64
	Amount         decimal.Decimal
	State          HoldState
	Reason         string
	Provider       string
	ProviderRef    string
	IdempotencyKey string
	CreatedAt      time.Time
}

type Order struct {
	ID          int64
	UserID      int64
	Kind        OrderKind
	SKU         string
	AmountEUR   decimal.Decimal
	Currency    string
	Status      OrderStatus
	Provider    string
	ProviderRef string
	CreatedAt   time.Time
}

type GenerationJob struct {
	ID         string
	UserID     int64
	Tool       string
	ParamsJSON string
	Cost       decimal.Decimal
	HoldID     *int64
	Status     JobStatus
	ResultURL  string
	ErrorCode  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type LastResult struct {
	UserID    int64
	Tool      string
	ResultURL string
	UpdatedAt time.Time
}

type ReferralLink struct {
	Code          string
	InviterUserID int64
	CreatedAt     time.Time
}

type Referral struct {
	InviterUserID      int64
	InviteeUserID      int64
	FirstSeenAt        time.Time
	PurchasesAmountEUR decimal.Decimal
}
