package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderCompletedRequest is the payload the storefront posts when an order
// reaches the completed state.
type OrderCompletedRequest struct {
	UserID       int64             `json:"user_id"`
	BillingEmail string            `json:"billing_email"`
	BillingName  string            `json:"billing_name"`
	Lines        []*OrderLine      `json:"lines"`
	Meta         map[string]string `json:"meta"`
}

type OrderLine struct {
	ProductID   int64           `json:"product_id"`
	ParentID    int64           `json:"parent_id"`
	ProductName string          `json:"product_name"`
	Category    string          `json:"category"`
	Level       string          `json:"level"`
	FundID      string          `json:"fund_id"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// MembershipRequest is one membership line item resolved by the router.
type MembershipRequest struct {
	OrderID        int64
	UserID         int64
	ProductID      int64
	ProductName    string
	Level          string
	FundID         string
	Quantity       int
	Amount         decimal.Decimal
	SubmittedEmail string
}

// FamilySlotRequest is a family add-on line item on a membership order.
type FamilySlotRequest struct {
	OrderID  int64
	UserID   int64
	Quantity int
	Amount   decimal.Decimal
}

// ClassRequest is one language-class line item.
type ClassRequest struct {
	OrderID     int64
	UserID      int64
	ProductID   int64
	ProductName string
	FundID      string
	Amount      decimal.Decimal
}

// EventRequest groups all attendees for one event parent product. The
// router emits exactly one EventRequest per parent product per order.
type EventRequest struct {
	OrderID     int64
	UserID      int64
	ProductID   int64
	ProductName string
	FundID      string
	Amount      decimal.Decimal
	Attendees   []Attendee
}

type Attendee struct {
	Name  string
	Email string
}

// SyncStatusResponse is the admin view of one order's sync record.
type SyncStatusResponse struct {
	OrderID           int64      `json:"order_id"`
	Status            string     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	PermanentlyFailed bool       `json:"permanently_failed"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	QueuedAt          *time.Time `json:"queued_at,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	ConstituentID     string     `json:"constituent_id,omitempty"`
	MatchMethod       string     `json:"match_method,omitempty"`
	PaymentID         string     `json:"payment_id,omitempty"`
}

// ReconcileSlotsResponse reports family-slot accounting after reconciling
// the used counter against ground truth.
type ReconcileSlotsResponse struct {
	UserID    int64 `json:"user_id"`
	Purchased int   `json:"purchased"`
	Used      int   `json:"used"`
	Available int   `json:"available"`
}
