package service

import (
	"context"
	"fmt"
	"strings"

	"lgl-sync/internal/client"
	"lgl-sync/internal/dto"
	"lgl-sync/internal/model"
	"lgl-sync/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ClassEventService handles language-class and event line items: local
// registration records in the immediate phase, CRM group membership and
// payment in the sync phase.
type ClassEventService interface {
	RegisterClassImmediate(ctx context.Context, req *dto.ClassRequest) error
	RegisterEventImmediate(ctx context.Context, req *dto.EventRequest) error
	SyncClass(ctx context.Context, order *model.Order, req *dto.ClassRequest) error
	SyncEvent(ctx context.Context, order *model.Order, req *dto.EventRequest) error
}

type classEventServiceImpl struct {
	crm     client.LGLClient
	regRepo repository.RegistrationRepository
	logger  *logrus.Logger
}

func NewClassEventService(
	crm client.LGLClient,
	regRepo repository.RegistrationRepository,
	logger *logrus.Logger,
) ClassEventService {
	return &classEventServiceImpl{
		crm:     crm,
		regRepo: regRepo,
		logger:  logger,
	}
}

func (s *classEventServiceImpl) RegisterClassImmediate(ctx context.Context, req *dto.ClassRequest) error {
	exists, err := s.regRepo.ExistsForOrderProduct(ctx, req.OrderID, req.ProductID, "")
	if err != nil {
		return fmt.Errorf("check existing registration: %w", err)
	}
	if exists {
		return nil
	}

	return s.regRepo.Create(ctx, &model.Registration{
		OrderID:     req.OrderID,
		UserID:      req.UserID,
		Type:        "class",
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
	})
}

func (s *classEventServiceImpl) RegisterEventImmediate(ctx context.Context, req *dto.EventRequest) error {
	for _, attendee := range req.Attendees {
		exists, err := s.regRepo.ExistsForOrderProduct(ctx, req.OrderID, req.ProductID, attendee.Email)
		if err != nil {
			return fmt.Errorf("check existing registration: %w", err)
		}
		if exists {
			continue
		}

		if err := s.regRepo.Create(ctx, &model.Registration{
			OrderID:       req.OrderID,
			UserID:        req.UserID,
			Type:          "event",
			ProductID:     req.ProductID,
			ProductName:   req.ProductName,
			AttendeeName:  attendee.Name,
			AttendeeEmail: attendee.Email,
		}); err != nil {
			return fmt.Errorf("create attendee registration: %w", err)
		}
	}

	return nil
}

func (s *classEventServiceImpl) SyncClass(ctx context.Context, order *model.Order, req *dto.ClassRequest) error {
	constituentID, err := s.ensureConstituent(ctx, order.BillingName, order.BillingEmail)
	if err != nil {
		return fmt.Errorf("class constituent: %w", err)
	}

	if err := s.addToGroup(ctx, constituentID, req.ProductName); err != nil {
		return err
	}

	return s.recordPayment(ctx, req.OrderID, req.ProductID, constituentID, req.FundID, req.Amount)
}

func (s *classEventServiceImpl) SyncEvent(ctx context.Context, order *model.Order, req *dto.EventRequest) error {
	for _, attendee := range req.Attendees {
		constituentID, err := s.ensureConstituent(ctx, attendee.Name, attendee.Email)
		if err != nil {
			return fmt.Errorf("attendee %s: %w", attendee.Email, err)
		}

		if err := s.addToGroup(ctx, constituentID, req.ProductName); err != nil {
			return fmt.Errorf("attendee %s: %w", attendee.Email, err)
		}
	}

	// The gift goes on the payer, not the attendees: one payment per
	// event parent product.
	payerID, err := s.ensureConstituent(ctx, order.BillingName, order.BillingEmail)
	if err != nil {
		return fmt.Errorf("payer constituent: %w", err)
	}

	return s.recordPayment(ctx, req.OrderID, req.ProductID, payerID, req.FundID, req.Amount)
}

// recordPayment creates the gift once; the registration rows carry the
// payment id so a retried order skips the CRM call.
func (s *classEventServiceImpl) recordPayment(ctx context.Context, orderID, productID int64, constituentID, fundID string, amount decimal.Decimal) error {
	recorded, err := s.regRepo.PaymentRecorded(ctx, orderID, productID)
	if err != nil {
		return fmt.Errorf("check recorded payment: %w", err)
	}
	if recorded {
		return nil
	}

	paymentID, err := s.crm.CreatePayment(ctx, constituentID, fundID, amount)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	if err := s.regRepo.SetPayment(ctx, orderID, productID, paymentID); err != nil {
		return fmt.Errorf("record payment id: %w", err)
	}

	return nil
}

// ensureConstituent matches by name+email or creates.
func (s *classEventServiceImpl) ensureConstituent(ctx context.Context, name, email string) (string, error) {
	match, err := s.crm.SearchConstituent(ctx, name, email)
	if err != nil {
		return "", fmt.Errorf("search constituent: %w", err)
	}
	if match != nil {
		return match.ID, nil
	}

	first, last := splitName(name)
	created, err := s.crm.CreateConstituent(ctx, client.ConstituentFields{
		FirstName: first,
		LastName:  last,
		Email:     strings.TrimSpace(email),
	})
	if err != nil {
		return "", fmt.Errorf("create constituent: %w", err)
	}

	return created.ID, nil
}

// addToGroup is idempotent: membership is checked before adding so retried
// orders do not double-enroll.
func (s *classEventServiceImpl) addToGroup(ctx context.Context, constituentID, groupName string) error {
	inGroup, err := s.crm.IsInGroup(ctx, constituentID, groupName)
	if err != nil {
		return fmt.Errorf("check group membership: %w", err)
	}
	if inGroup {
		return nil
	}

	if err := s.crm.AddGroupMembership(ctx, constituentID, groupName); err != nil {
		return fmt.Errorf("add group membership: %w", err)
	}

	return nil
}
