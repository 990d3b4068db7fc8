package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"lgl-sync/internal/dto"
	"lgl-sync/internal/model"
	"lgl-sync/internal/repository"

	"github.com/sirupsen/logrus"
)

// OrderRouter classifies a completed order's line items and dispatches them
// to the per-type handlers. The immediate phase touches only local state;
// the sync phase is CRM calls only and runs under the async queue.
type OrderRouter interface {
	ProcessImmediate(ctx context.Context, orderID int64) error
	SyncWorker
}

type orderRouterImpl struct {
	orderRepo     repository.OrderRepository
	membershipSvc MembershipService
	classEventSvc ClassEventService
	logger        *logrus.Logger
}

func NewOrderRouter(
	orderRepo repository.OrderRepository,
	membershipSvc MembershipService,
	classEventSvc ClassEventService,
	logger *logrus.Logger,
) OrderRouter {
	return &orderRouterImpl{
		orderRepo:     orderRepo,
		membershipSvc: membershipSvc,
		classEventSvc: classEventSvc,
		logger:        logger,
	}
}

// classifyLine resolves the category for one line item: taxonomy term
// first, name-pattern fallback second. Returns "" for unrecognized
// products.
func classifyLine(line *model.OrderLine) string {
	switch line.Category {
	case model.CategoryMembership, model.CategoryFamilySlot, model.CategoryClass, model.CategoryEvent:
		return line.Category
	}

	name := strings.ToLower(line.ProductName)
	switch {
	case strings.Contains(name, "family member"), strings.Contains(name, "family slot"):
		return model.CategoryFamilySlot
	case strings.Contains(name, "membership"):
		return model.CategoryMembership
	case strings.Contains(name, "class"):
		return model.CategoryClass
	case strings.Contains(name, "event"):
		return model.CategoryEvent
	}

	return ""
}

// orderRequests is the typed result of routing one order.
type orderRequests struct {
	Memberships []*dto.MembershipRequest
	FamilySlots []*dto.FamilySlotRequest
	Classes     []*dto.ClassRequest
	Events      []*dto.EventRequest
}

func (r *orderRouterImpl) buildRequests(order *model.Order, lines []*model.OrderLine, meta []*model.OrderMeta) *orderRequests {
	reqs := &orderRequests{}
	metaMap := make(map[string]string, len(meta))
	for _, m := range meta {
		metaMap[m.Key] = m.Value
	}

	// Each event parent product is processed exactly once per order, even
	// when several line items point at it.
	processedParents := make(map[int64]bool)

	for _, line := range lines {
		switch classifyLine(line) {
		case model.CategoryMembership:
			reqs.Memberships = append(reqs.Memberships, &dto.MembershipRequest{
				OrderID:        order.OrderID,
				UserID:         order.UserID,
				ProductID:      line.ProductID,
				ProductName:    line.ProductName,
				Level:          line.Level,
				FundID:         line.FundID,
				Quantity:       line.Quantity,
				Amount:         line.Price.Mul(decimalFromInt(line.Quantity)),
				SubmittedEmail: metaMap["submitted_email"],
			})
		case model.CategoryFamilySlot:
			reqs.FamilySlots = append(reqs.FamilySlots, &dto.FamilySlotRequest{
				OrderID:  order.OrderID,
				UserID:   order.UserID,
				Quantity: line.Quantity,
				Amount:   line.Price.Mul(decimalFromInt(line.Quantity)),
			})
		case model.CategoryClass:
			reqs.Classes = append(reqs.Classes, &dto.ClassRequest{
				OrderID:     order.OrderID,
				UserID:      order.UserID,
				ProductID:   line.ProductID,
				ProductName: line.ProductName,
				FundID:      line.FundID,
				Amount:      line.Price.Mul(decimalFromInt(line.Quantity)),
			})
		case model.CategoryEvent:
			parentID := line.ParentID
			if parentID == 0 {
				parentID = line.ProductID
			}
			if processedParents[parentID] {
				continue
			}
			processedParents[parentID] = true

			reqs.Events = append(reqs.Events, &dto.EventRequest{
				OrderID:     order.OrderID,
				UserID:      order.UserID,
				ProductID:   parentID,
				ProductName: line.ProductName,
				FundID:      line.FundID,
				Amount:      line.Price.Mul(decimalFromInt(line.Quantity)),
				Attendees:   collectAttendees(metaMap, parentID),
			})
		default:
			r.logger.WithFields(logrus.Fields{
				"order_id":   order.OrderID,
				"product_id": line.ProductID,
				"product":    line.ProductName,
			}).Warn("unrecognized product type, skipping line")
		}
	}

	return reqs
}

// collectAttendees gathers attendee fields following the numeric suffix
// convention (attendee_name, attendee_name_1, ...). An attendee counts only
// when both name and email are present; duplicates collapse. When an
// attendee_event suffix assigns the attendee to a specific event product,
// only matching attendees are returned; unassigned attendees go to every
// event.
func suffixNumber(suffix string) int {
	if suffix == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(suffix, "_"))
	if err != nil {
		return 0
	}
	return n
}

func collectAttendees(meta map[string]string, eventProductID int64) []dto.Attendee {
	suffixes := []string{""}
	seenSuffix := map[string]bool{"": true}
	for key := range meta {
		if !strings.HasPrefix(key, "attendee_name_") {
			continue
		}
		suffix := strings.TrimPrefix(key, "attendee_name")
		if !seenSuffix[suffix] {
			seenSuffix[suffix] = true
			suffixes = append(suffixes, suffix)
		}
	}
	// Suffixes order numerically, not lexically: "_10" follows "_9". The
	// bare suffix is attendee zero.
	sort.Slice(suffixes, func(i, j int) bool {
		return suffixNumber(suffixes[i]) < suffixNumber(suffixes[j])
	})

	var attendees []dto.Attendee
	seen := make(map[string]bool)
	for _, suffix := range suffixes {
		name := strings.TrimSpace(meta["attendee_name"+suffix])
		email := strings.TrimSpace(meta["attendee_email"+suffix])
		if name == "" || email == "" {
			continue
		}

		if assigned := meta["attendee_event"+suffix]; assigned != "" {
			id, err := strconv.ParseInt(assigned, 10, 64)
			if err == nil && id != eventProductID {
				continue
			}
		}

		key := strings.ToLower(name) + "|" + strings.ToLower(email)
		if seen[key] {
			continue
		}
		seen[key] = true

		attendees = append(attendees, dto.Attendee{Name: name, Email: email})
	}

	return attendees
}

func (r *orderRouterImpl) load(ctx context.Context, orderID int64) (*model.Order, *orderRequests, error) {
	order, err := r.orderRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order: %w", err)
	}
	lines, err := r.orderRepo.GetLines(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order lines: %w", err)
	}
	meta, err := r.orderRepo.GetMeta(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order meta: %w", err)
	}

	return order, r.buildRequests(order, lines, meta), nil
}

// ProcessImmediate runs the storefront-local mutations: role assignment,
// renewal dates, slot counters, registration records. No CRM calls.
func (r *orderRouterImpl) ProcessImmediate(ctx context.Context, orderID int64) error {
	_, reqs, err := r.load(ctx, orderID)
	if err != nil {
		return err
	}

	for _, req := range reqs.Memberships {
		if err := r.membershipSvc.RegisterImmediate(ctx, req); err != nil {
			return fmt.Errorf("membership immediate phase: %w", err)
		}
	}
	for _, req := range reqs.FamilySlots {
		if err := r.membershipSvc.ApplyFamilySlots(ctx, req); err != nil {
			return fmt.Errorf("family slot immediate phase: %w", err)
		}
	}
	for _, req := range reqs.Classes {
		if err := r.classEventSvc.RegisterClassImmediate(ctx, req); err != nil {
			return fmt.Errorf("class immediate phase: %w", err)
		}
	}
	for _, req := range reqs.Events {
		if err := r.classEventSvc.RegisterEventImmediate(ctx, req); err != nil {
			return fmt.Errorf("event immediate phase: %w", err)
		}
	}

	return nil
}

// SyncOrder runs the CRM side of each request. Called only by the async
// queue, which owns locking, retries, and failure classification.
func (r *orderRouterImpl) SyncOrder(ctx context.Context, orderID int64) error {
	order, reqs, err := r.load(ctx, orderID)
	if err != nil {
		return err
	}

	for _, req := range reqs.Memberships {
		if err := r.membershipSvc.RegisterSync(ctx, order, req); err != nil {
			return fmt.Errorf("membership sync phase: %w", err)
		}
	}
	for _, req := range reqs.Classes {
		if err := r.classEventSvc.SyncClass(ctx, order, req); err != nil {
			return fmt.Errorf("class sync phase: %w", err)
		}
	}
	for _, req := range reqs.Events {
		if err := r.classEventSvc.SyncEvent(ctx, order, req); err != nil {
			return fmt.Errorf("event sync phase: %w", err)
		}
	}

	return nil
}
