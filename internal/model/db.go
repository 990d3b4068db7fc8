package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Sync status values for OrderSyncRecord.Status.
const (
	SyncStatusUnsynced          = "unsynced"
	SyncStatusQueued            = "queued"
	SyncStatusProcessing        = "processing"
	SyncStatusSynced            = "synced"
	SyncStatusFailed            = "failed"
	SyncStatusPermanentlyFailed = "permanently_failed"
)

// Line item categories recognized by the order router.
const (
	CategoryMembership = "membership"
	CategoryFamilySlot = "family-slot"
	CategoryClass      = "language-class"
	CategoryEvent      = "event"
)

// Order mirrors the storefront order as delivered by the completed-order
// trigger. The storefront owns the order; this copy exists so the sync
// pipeline can re-read it on retries without another round-trip.
type Order struct {
	OrderID      int64  `gorm:"primaryKey;not null"`
	UserID       int64  `gorm:"index"` // 0 for guest checkout
	BillingEmail string `gorm:"size:255"`
	BillingName  string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type OrderLine struct {
	ID uint `gorm:"primaryKey"`
	// FK → orders.order_id
	OrderID     int64  `gorm:"index;not null"`
	ProductID   int64  `gorm:"index;not null"`
	ParentID    int64  `gorm:"index"` // variation parent, 0 if none
	ProductName string `gorm:"size:255;not null"`
	// Category is the storefront taxonomy term; blank when the product is
	// untagged and the router falls back to name-pattern matching.
	Category string          `gorm:"size:64;index"`
	Level    string          `gorm:"size:64"` // "Level" variation attribute
	FundID   string          `gorm:"size:64"` // CRM fund id meta, if set
	Quantity int             `gorm:"not null"`
	Price    decimal.Decimal `gorm:"type:decimal(10,2);not null"`

	CreatedAt time.Time
}

// OrderMeta carries the order-level named fields the storefront attaches at
// checkout (attendee_name, attendee_name_1, submitted_email, ...).
type OrderMeta struct {
	ID      uint   `gorm:"primaryKey"`
	OrderID int64  `gorm:"index;not null"`
	Key     string `gorm:"size:128;index;not null"`
	Value   string `gorm:"size:512"`
}

// OrderSyncRecord tracks the CRM synchronization lifecycle of one order.
// Created when the completed-order trigger fires, mutated only by the sync
// queue, never deleted.
type OrderSyncRecord struct {
	OrderID int64  `gorm:"primaryKey;not null"`
	Status  string `gorm:"size:32;index;not null"`

	QueuedAt    *time.Time
	ProcessedAt *time.Time
	FailedAt    *time.Time
	RetryCount  int `gorm:"not null;default:0"`

	PermanentlyFailed bool   `gorm:"index;not null;default:false"`
	FailureReason     string `gorm:"size:512"`

	// LockedAt is the durable half of the processing lock; the fast half
	// lives in memory. A non-null value older than the staleness bound is
	// treated as a crashed holder.
	LockedAt *time.Time

	// Per-substep audit trail so an operator can see how far a partially
	// failed order got.
	ConstituentID   string `gorm:"size:64;index"`
	MatchMethod     string `gorm:"size:64"`
	PaymentID       string `gorm:"size:64"`
	PaymentRecorded bool   `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProcessedTrigger deduplicates completed-order notifications from the
// storefront.
type ProcessedTrigger struct {
	OrderID     int64 `gorm:"primaryKey;not null"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}

// Scheduled task status values.
const (
	TaskStatusPending   = "pending"
	TaskStatusDone      = "done"
	TaskStatusCancelled = "cancelled"
)

// ScheduledTask is one deferred callback: run Hook with Args at or after
// RunAt. At most one pending task exists per (hook, args) pair.
type ScheduledTask struct {
	ID     string         `gorm:"primaryKey;size:36;not null"`
	Hook   string         `gorm:"size:64;index;not null"`
	Args   datatypes.JSON `gorm:"not null"`
	RunAt  time.Time      `gorm:"index;not null"`
	Status string         `gorm:"size:16;index;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MembershipAuditEntry records membership status transitions for operator
// visibility (old status → new status, what triggered it).
type MembershipAuditEntry struct {
	ID        uint           `gorm:"primaryKey"`
	UserID    int64          `gorm:"index;not null"`
	OldStatus string         `gorm:"size:32"`
	NewStatus string         `gorm:"size:32"`
	Trigger   string         `gorm:"size:64;not null"`
	Detail    datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time
}
