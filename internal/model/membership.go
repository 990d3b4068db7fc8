package model

import (
	"encoding/json"
	"time"
)

// Member roles assigned in the storefront user base.
const (
	RoleMember      = "ui_member"
	RoleFamilyOwner = "ui_family_member"
)

// Subscription status values for Membership.SubscriptionStatus.
const (
	SubStatusOneTime         = "one-time"
	SubStatusWCSubscription  = "wc-subscription"
	SubStatusCurrent         = "current"
	SubStatusCancelled       = "cancelled"
	SubStatusExpired         = "expired"
	SubStatusInactiveDeleted = "inactive_deleted"
)

// Renewal stage stamps written by the daily sweep.
const (
	Renewal30Days      = "renewal_30_days"
	Renewal14Days      = "renewal_14_days"
	Renewal7Days       = "renewal_7_days"
	RenewalDueToday    = "due_today"
	RenewalOverdue     = "overdue"
	RenewalDeactivated = "deactivated"
)

type User struct {
	ID          int64  `gorm:"primaryKey;not null"`
	Email       string `gorm:"size:255;index;not null"`
	DisplayName string `gorm:"size:255"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership is the one logical membership record per user.
type Membership struct {
	UserID int64  `gorm:"primaryKey;not null"`
	Tier   string `gorm:"size:128"`
	// Roles is a JSON list of role slugs; role grants accumulate, they are
	// only removed on deactivation.
	Roles              string `gorm:"size:255"`
	SubscriptionStatus string `gorm:"size:32;index"`

	StartDate    *time.Time
	RenewalDate  *time.Time `gorm:"index"`
	RenewalStage string     `gorm:"size:32"`

	// ConstituentID is blank until the first successful CRM sync.
	ConstituentID string `gorm:"size:64;index"`

	FamilySlotsPurchased int `gorm:"not null;default:0"`
	FamilySlotsUsed      int `gorm:"not null;default:0"`

	// SweepFailures counts consecutive daily-sweep failures for this user;
	// reset on the first clean evaluation.
	SweepFailures int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleList decodes the Roles column.
func (m *Membership) RoleList() []string {
	if m.Roles == "" {
		return nil
	}
	var roles []string
	if err := json.Unmarshal([]byte(m.Roles), &roles); err != nil {
		return nil
	}
	return roles
}

// HasRole reports whether the membership carries the given role.
func (m *Membership) HasRole(role string) bool {
	for _, r := range m.RoleList() {
		if r == role {
			return true
		}
	}
	return false
}

// AddRole appends a role if not already present.
func (m *Membership) AddRole(role string) {
	if m.HasRole(role) {
		return
	}
	roles := append(m.RoleList(), role)
	b, _ := json.Marshal(roles)
	m.Roles = string(b)
}

// RemoveRole drops a role if present.
func (m *Membership) RemoveRole(role string) {
	roles := m.RoleList()
	out := roles[:0]
	for _, r := range roles {
		if r != role {
			out = append(out, r)
		}
	}
	b, _ := json.Marshal([]string(out))
	m.Roles = string(b)
}

// Subscription is a recurring-billing agreement owned by the storefront's
// subscription engine. An ACTIVE row short-circuits both one-time renewal
// date assignment and sweep deactivation.
type Subscription struct {
	SubscriptionID string `gorm:"primaryKey;size:64;not null"`
	UserID         int64  `gorm:"index;not null"`
	Status         string `gorm:"size:32;index;not null"` // ACTIVE, CANCELLED
	StartedAt      *time.Time
	EndedAt        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FamilyMember is the ground-truth record of one used family slot: a child
// user attached to an owning member. The two relationship ids are the only
// local copy of the CRM-side link.
type FamilyMember struct {
	ID          uint  `gorm:"primaryKey"`
	OwnerUserID int64 `gorm:"index;not null"`
	ChildUserID int64 `gorm:"uniqueIndex;not null"`

	ChildToParentRelID string `gorm:"size:64"`
	ParentToChildRelID string `gorm:"size:64"`

	// Retry bookkeeping for the async relationship processor.
	RelationshipSynced bool   `gorm:"not null;default:false"`
	RetryCount         int    `gorm:"not null;default:0"`
	LastError          string `gorm:"size:512"`
	LockedAt           *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TierConfig maps a CRM fund to a membership tier and its role/slot rules.
type TierConfig struct {
	ID               uint   `gorm:"primaryKey"`
	FundID           string `gorm:"size:64;uniqueIndex;not null"`
	TierName         string `gorm:"size:128;index;not null"`
	MaxFamilyMembers int    `gorm:"not null;default:0"`
	CreatedAt        time.Time
}

// Registration is a structured content record for a class enrollment or an
// event attendance created during the immediate phase.
type Registration struct {
	ID            uint   `gorm:"primaryKey"`
	OrderID       int64  `gorm:"index;not null"`
	UserID        int64  `gorm:"index"`
	Type          string `gorm:"size:32;not null"` // class, event
	ProductID     int64  `gorm:"index;not null"`
	ProductName   string `gorm:"size:255"`
	AttendeeName  string `gorm:"size:255"`
	AttendeeEmail string `gorm:"size:255"`
	PaymentID     string `gorm:"size:64"`
	CreatedAt     time.Time
}
