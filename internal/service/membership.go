package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lgl-sync/internal/client"
	"lgl-sync/internal/dto"
	"lgl-sync/internal/model"
	"lgl-sync/internal/repository"
	"lgl-sync/internal/scheduler"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Tier resolution fallbacks for catalogs where the fund-id meta is absent.
// Old and new membership product models coexist in the storefront, so no
// single lookup key is guaranteed present.
var (
	// commerce product name → CRM tier name
	productNameTierMap = map[string]string{
		"Individual Membership": "Individual Membership",
		"Family Membership":     "Family Membership",
		"Senior Membership":     "Senior Membership",
		"Student Membership":    "Student Membership",
	}

	// "Level" variation attribute → CRM tier name
	levelTierMap = map[string]string{
		"Individual": "Individual Membership",
		"Family":     "Family Membership",
		"Senior":     "Senior Membership",
		"Student":    "Student Membership",
	}
)

// ResolvedTier is the outcome of the layered tier lookup.
type ResolvedTier struct {
	Name             string
	FundID           string
	MaxFamilyMembers int
	// Method records which fallback resolved the tier, for audit.
	Method string
}

// IsFamily reports whether the tier grants the family-owner role.
func (t ResolvedTier) IsFamily() bool {
	return strings.Contains(strings.ToLower(t.Name), "family")
}

type MembershipService interface {
	RegisterImmediate(ctx context.Context, req *dto.MembershipRequest) error
	ApplyFamilySlots(ctx context.Context, req *dto.FamilySlotRequest) error
	RegisterSync(ctx context.Context, order *model.Order, req *dto.MembershipRequest) error
	ReconcileFamilySlots(ctx context.Context, userID int64) (*dto.ReconcileSlotsResponse, error)
	ResolveTier(ctx context.Context, req *dto.MembershipRequest) ResolvedTier
}

type membershipServiceImpl struct {
	crm            client.LGLClient
	membershipRepo repository.MembershipRepository
	userRepo       repository.UserRepository
	subRepo        repository.SubscriptionRepository
	familyRepo     repository.FamilyMemberRepository
	tierRepo       repository.TierRepository
	syncRepo       repository.OrderSyncRepository
	clock          scheduler.Clock
	logger         *logrus.Logger
}

func NewMembershipService(
	crm client.LGLClient,
	membershipRepo repository.MembershipRepository,
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	familyRepo repository.FamilyMemberRepository,
	tierRepo repository.TierRepository,
	syncRepo repository.OrderSyncRepository,
	clock scheduler.Clock,
	logger *logrus.Logger,
) MembershipService {
	return &membershipServiceImpl{
		crm:            crm,
		membershipRepo: membershipRepo,
		userRepo:       userRepo,
		subRepo:        subRepo,
		familyRepo:     familyRepo,
		tierRepo:       tierRepo,
		syncRepo:       syncRepo,
		clock:          clock,
		logger:         logger,
	}
}

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// ResolveTier attempts each lookup in priority order: fund-id meta, product
// name mapping, level attribute mapping, then the raw product name
// verbatim.
func (s *membershipServiceImpl) ResolveTier(ctx context.Context, req *dto.MembershipRequest) ResolvedTier {
	if req.FundID != "" {
		tier, err := s.tierRepo.FindByFundID(ctx, req.FundID)
		if err == nil {
			return ResolvedTier{
				Name:             tier.TierName,
				FundID:           tier.FundID,
				MaxFamilyMembers: tier.MaxFamilyMembers,
				Method:           "fund_id",
			}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WithError(err).WithField("fund_id", req.FundID).Warn("tier lookup by fund id")
		}
	}

	if tierName, ok := productNameTierMap[req.ProductName]; ok {
		return s.tierByName(ctx, tierName, "product_name")
	}

	if tierName, ok := levelTierMap[req.Level]; ok {
		return s.tierByName(ctx, tierName, "level_attribute")
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": req.OrderID,
		"product":  req.ProductName,
	}).Warn("no tier mapping for membership product, using product name verbatim")

	return ResolvedTier{Name: req.ProductName, Method: "fallback"}
}

func (s *membershipServiceImpl) tierByName(ctx context.Context, tierName, method string) ResolvedTier {
	resolved := ResolvedTier{Name: tierName, Method: method}
	tier, err := s.tierRepo.FindByTierName(ctx, tierName)
	if err == nil {
		resolved.FundID = tier.FundID
		resolved.MaxFamilyMembers = tier.MaxFamilyMembers
	}
	return resolved
}

// RegisterImmediate applies the storefront-local half of a membership
// purchase: tier, role, start/renewal dates. Safe to re-run; role grants
// deduplicate and counters are read before mutation.
func (s *membershipServiceImpl) RegisterImmediate(ctx context.Context, req *dto.MembershipRequest) error {
	m, err := s.membershipRepo.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}

	tier := s.ResolveTier(ctx, req)
	m.Tier = tier.Name

	if tier.IsFamily() {
		m.AddRole(model.RoleFamilyOwner)
	} else {
		m.AddRole(model.RoleMember)
	}

	now := s.clock.Now()
	if m.StartDate == nil {
		m.StartDate = &now
	}

	hasSub, err := s.subRepo.HasActive(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}
	if hasSub {
		// The subscription engine owns the renewal date.
		m.SubscriptionStatus = model.SubStatusWCSubscription
	} else {
		renewal := now.AddDate(0, 0, 365)
		m.RenewalDate = &renewal
		m.RenewalStage = ""
		m.SubscriptionStatus = model.SubStatusOneTime
	}

	if err := s.membershipRepo.Save(ctx, m); err != nil {
		return fmt.Errorf("save membership: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": req.UserID,
		"tier":    tier.Name,
		"method":  tier.Method,
	}).Info("membership registered")

	return nil
}

// ApplyFamilySlots increments the purchased counter (capped at the tier
// max) and resynchronizes usage from the ground-truth family records. The
// purchased counter is only a cap; it is never trusted as usage.
func (s *membershipServiceImpl) ApplyFamilySlots(ctx context.Context, req *dto.FamilySlotRequest) error {
	m, err := s.membershipRepo.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}

	max := s.maxFamilyMembers(ctx, m.Tier)

	purchased := m.FamilySlotsPurchased + req.Quantity
	if max > 0 && purchased > max {
		purchased = max
	}

	used, err := s.familyRepo.CountByOwner(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("count family members: %w", err)
	}

	wasOwner := m.FamilySlotsPurchased > 0
	m.FamilySlotsPurchased = purchased
	m.FamilySlotsUsed = used
	if !wasOwner && purchased > 0 {
		// Crossing into family ownership upgrades the role without
		// removing prior grants.
		m.AddRole(model.RoleFamilyOwner)
	}

	if err := s.membershipRepo.Save(ctx, m); err != nil {
		return fmt.Errorf("save membership: %w", err)
	}

	return nil
}

// ReconcileFamilySlots re-reads ground truth and reports the slot
// arithmetic: available = max(0, purchased - used).
func (s *membershipServiceImpl) ReconcileFamilySlots(ctx context.Context, userID int64) (*dto.ReconcileSlotsResponse, error) {
	m, err := s.membershipRepo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}

	used, err := s.familyRepo.CountByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count family members: %w", err)
	}

	if used != m.FamilySlotsUsed {
		m.FamilySlotsUsed = used
		if err := s.membershipRepo.Save(ctx, m); err != nil {
			return nil, fmt.Errorf("save membership: %w", err)
		}
	}

	available := m.FamilySlotsPurchased - used
	if available < 0 {
		available = 0
	}

	return &dto.ReconcileSlotsResponse{
		UserID:    userID,
		Purchased: m.FamilySlotsPurchased,
		Used:      used,
		Available: available,
	}, nil
}

func (s *membershipServiceImpl) maxFamilyMembers(ctx context.Context, tierName string) int {
	if tierName == "" {
		return 0
	}
	tier, err := s.tierRepo.FindByTierName(ctx, tierName)
	if err != nil {
		return 0
	}
	return tier.MaxFamilyMembers
}

// RegisterSync runs the CRM half: constituent match/create, then payment.
// Each sub-step records its outcome on the order sync record so re-runs
// resume where the last attempt stopped.
func (s *membershipServiceImpl) RegisterSync(ctx context.Context, order *model.Order, req *dto.MembershipRequest) error {
	user, err := s.userRepo.FindByID(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", req.UserID, err)
	}

	rec, err := s.syncRepo.FindByOrderID(ctx, req.OrderID)
	if err != nil {
		return fmt.Errorf("load sync record: %w", err)
	}

	constituentID := rec.ConstituentID
	if constituentID == "" {
		constituentID, err = s.matchOrCreateConstituent(ctx, order, req, user)
		if err != nil {
			return err
		}
	}

	if err := s.membershipRepo.UpdateFields(ctx, req.UserID, map[string]interface{}{
		"constituent_id": constituentID,
	}); err != nil {
		return fmt.Errorf("store constituent id: %w", err)
	}

	if !rec.PaymentRecorded {
		tier := s.ResolveTier(ctx, req)
		paymentID, err := s.crm.CreatePayment(ctx, constituentID, tier.FundID, req.Amount)
		if err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		if err := s.syncRepo.SetPayment(ctx, req.OrderID, paymentID); err != nil {
			return fmt.Errorf("record payment id: %w", err)
		}
	}

	return nil
}

// matchOrCreateConstituent builds the candidate email set (submitted email,
// billing email, account email — deduplicated case-insensitively), tries a
// name+email match for each, and creates a constituent when nothing
// matches.
func (s *membershipServiceImpl) matchOrCreateConstituent(ctx context.Context, order *model.Order, req *dto.MembershipRequest, user *model.User) (string, error) {
	emails := candidateEmails(req.SubmittedEmail, order.BillingEmail, user.Email)
	first, last := splitName(order.BillingName, user.DisplayName)

	for _, email := range emails {
		match, err := s.crm.SearchConstituent(ctx, order.BillingName, email)
		if err != nil {
			return "", fmt.Errorf("search constituent: %w", err)
		}
		if match == nil {
			continue
		}

		if err := s.crm.UpdateConstituent(ctx, match.ID, client.ConstituentFields{
			FirstName: first,
			LastName:  last,
			Email:     email,
		}); err != nil {
			return "", fmt.Errorf("update constituent: %w", err)
		}
		if err := s.syncRepo.SetConstituent(ctx, req.OrderID, match.ID, "matched:"+email); err != nil {
			return "", fmt.Errorf("record constituent match: %w", err)
		}
		return match.ID, nil
	}

	var primary string
	if len(emails) > 0 {
		primary = emails[0]
	}
	created, err := s.crm.CreateConstituent(ctx, client.ConstituentFields{
		FirstName: first,
		LastName:  last,
		Email:     primary,
	})
	if err != nil {
		return "", fmt.Errorf("create constituent: %w", err)
	}
	if err := s.syncRepo.SetConstituent(ctx, req.OrderID, created.ID, "created"); err != nil {
		return "", fmt.Errorf("record constituent create: %w", err)
	}

	return created.ID, nil
}

// candidateEmails deduplicates case-insensitively, preserving priority
// order.
func candidateEmails(emails ...string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, email)
	}
	return out
}

func splitName(names ...string) (first, last string) {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		parts := strings.Fields(name)
		if len(parts) == 1 {
			return parts[0], ""
		}
		return parts[0], strings.Join(parts[1:], " ")
	}
	return "", ""
}
