package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"lgl-sync/internal/client"
	"lgl-sync/internal/config"
	"lgl-sync/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Order{},
		&model.OrderLine{},
		&model.OrderMeta{},
		&model.OrderSyncRecord{},
		&model.ProcessedTrigger{},
		&model.ScheduledTask{},
		&model.Membership{},
		&model.Subscription{},
		&model.FamilyMember{},
		&model.TierConfig{},
		&model.Registration{},
		&model.MembershipAuditEntry{},
	))

	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testQueueConfig() config.Queue {
	return config.Queue{
		MaxRetries:         5,
		RetryDelay:         5 * time.Minute,
		LockStaleness:      5 * time.Minute,
		StuckSweepInterval: 30 * time.Second,
		StuckThreshold:     time.Minute,
		PollInterval:       time.Second,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeCRM is an in-memory LGL gateway that records every write.
type fakeCRM struct {
	mu sync.Mutex

	nextConstituentID string
	nextPaymentID     string
	nextRelID         int

	constituents map[string]*client.Constituent // keyed by lowercase email
	updates      map[string]client.ConstituentFields
	payments     []fakePayment
	groups       map[string][]string
	rels         map[string][]client.Relationship

	searchErr  error
	createErr  error
	paymentErr error
}

type fakePayment struct {
	ConstituentID string
	FundID        string
	Amount        decimal.Decimal
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		nextConstituentID: "C1",
		nextPaymentID:     "1",
		constituents:      make(map[string]*client.Constituent),
		updates:           make(map[string]client.ConstituentFields),
		groups:            make(map[string][]string),
		rels:              make(map[string][]client.Relationship),
	}
}

func (f *fakeCRM) SearchConstituent(ctx context.Context, name, email string) (*client.Constituent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if c, ok := f.constituents[strings.ToLower(email)]; ok {
		return c, nil
	}
	return nil, nil
}

func (f *fakeCRM) CreateConstituent(ctx context.Context, fields client.ConstituentFields) (*client.Constituent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	c := &client.Constituent{
		ID:        f.nextConstituentID,
		FirstName: fields.FirstName,
		LastName:  fields.LastName,
		Email:     fields.Email,
	}
	f.constituents[strings.ToLower(fields.Email)] = c
	return c, nil
}

func (f *fakeCRM) UpdateConstituent(ctx context.Context, constituentID string, fields client.ConstituentFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[constituentID] = fields
	return nil
}

func (f *fakeCRM) CreatePayment(ctx context.Context, constituentID, fundID string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paymentErr != nil {
		return "", f.paymentErr
	}
	f.payments = append(f.payments, fakePayment{
		ConstituentID: constituentID,
		FundID:        fundID,
		Amount:        amount,
	})
	return f.nextPaymentID, nil
}

func (f *fakeCRM) AddGroupMembership(ctx context.Context, constituentID, groupName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[constituentID] = append(f.groups[constituentID], groupName)
	return nil
}

func (f *fakeCRM) IsInGroup(ctx context.Context, constituentID, groupName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.groups[constituentID] {
		if strings.EqualFold(g, groupName) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCRM) CreateRelationship(ctx context.Context, constituentID, relatedID, typeName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRelID++
	id := fmt.Sprintf("R%d", f.nextRelID)
	f.rels[constituentID] = append(f.rels[constituentID], client.Relationship{
		ID:        id,
		TypeName:  typeName,
		RelatedID: relatedID,
	})
	return id, nil
}

func (f *fakeCRM) DeleteRelationship(ctx context.Context, constituentID, relationshipID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rels := f.rels[constituentID]
	for i, rel := range rels {
		if rel.ID == relationshipID {
			f.rels[constituentID] = append(rels[:i], rels[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("relationship %s not found", relationshipID)
}

func (f *fakeCRM) ListRelationships(ctx context.Context, constituentID string) ([]client.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.Relationship(nil), f.rels[constituentID]...), nil
}

// fakeMailer records deliveries.
type fakeMailer struct {
	mu             sync.Mutex
	reminderErr    error
	reminders      []string // "userID:stage"
	graceReminders []int64
	inactives      []int64
	summaries      [][]string
	adminNotices   []string
}

func (m *fakeMailer) SendRenewalReminder(member *model.Membership, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reminderErr != nil {
		return m.reminderErr
	}
	m.reminders = append(m.reminders, fmt.Sprintf("%d:%s", member.UserID, stage))
	return nil
}

func (m *fakeMailer) SendGraceReminder(member *model.Membership, daysOverdue int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graceReminders = append(m.graceReminders, member.UserID)
	return nil
}

func (m *fakeMailer) SendInactiveNotice(member *model.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inactives = append(m.inactives, member.UserID)
	return nil
}

func (m *fakeMailer) SendAdminSummary(subject string, lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, lines)
	return nil
}

func (m *fakeMailer) NotifyAdmin(subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminNotices = append(m.adminNotices, subject)
	return nil
}

// stubWorker is a SyncWorker with a scripted outcome per call.
type stubWorker struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (w *stubWorker) SyncOrder(ctx context.Context, orderID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return w.err
}

func (w *stubWorker) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}
