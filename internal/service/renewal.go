package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lgl-sync/internal/client"
	"lgl-sync/internal/model"
	"lgl-sync/internal/notify"
	"lgl-sync/internal/repository"
	"lgl-sync/internal/scheduler"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Deactivation happens a fixed grace period after the renewal date; the
// reminder cadence counts down toward it.
const (
	deactivationDay  = -30
	graceExtraDay    = -7
	sweepMaxFailures = 3
)

// RenewalAction is the outcome of evaluating one member's days-until-
// renewal. Pure data; the sweep executes it.
type RenewalAction struct {
	// Stage is the status stamp to record; empty means no transition today.
	Stage string
	// SendReminder fires the stage's reminder notice.
	SendReminder bool
	// GraceReminder fires the daily grace-period notice.
	GraceReminder bool
	// ExtraGraceReminder fires the additional day −7 notice layered on the
	// overdue state.
	ExtraGraceReminder bool
	// Deactivate marks the deactivation decision point.
	Deactivate bool
}

// EvaluateRenewal maps days-until-renewal onto the renewal state table.
// Pure function; injected clocks keep the sweep testable around it.
func EvaluateRenewal(daysUntil int) RenewalAction {
	switch {
	case daysUntil == 30:
		return RenewalAction{Stage: model.Renewal30Days, SendReminder: true}
	case daysUntil == 14:
		return RenewalAction{Stage: model.Renewal14Days, SendReminder: true}
	case daysUntil == 7:
		return RenewalAction{Stage: model.Renewal7Days, SendReminder: true}
	case daysUntil == 0:
		return RenewalAction{Stage: model.RenewalDueToday, SendReminder: true}
	case daysUntil == deactivationDay:
		return RenewalAction{Deactivate: true}
	case daysUntil < 0 && daysUntil > deactivationDay:
		return RenewalAction{
			Stage:              model.RenewalOverdue,
			GraceReminder:      true,
			ExtraGraceReminder: daysUntil == graceExtraDay,
		}
	}
	return RenewalAction{}
}

// DaysUntil is the whole-day difference between the renewal date and now,
// computed on calendar days so a renewal at 23:59 still counts as today.
func DaysUntil(renewal, now time.Time) int {
	r := time.Date(renewal.Year(), renewal.Month(), renewal.Day(), 0, 0, 0, 0, time.UTC)
	n := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(r.Sub(n).Hours() / 24)
}

type RenewalService interface {
	// RunDailySweep evaluates every renewal candidate once. One member's
	// failure never aborts the pass.
	RunDailySweep(ctx context.Context) error
}

type renewalServiceImpl struct {
	crm            client.LGLClient
	membershipRepo repository.MembershipRepository
	subRepo        repository.SubscriptionRepository
	familyRepo     repository.FamilyMemberRepository
	auditRepo      repository.AuditRepository
	familySvc      FamilyService
	mailer         notify.Mailer
	clock          scheduler.Clock
	logger         *logrus.Logger
}

func NewRenewalService(
	crm client.LGLClient,
	membershipRepo repository.MembershipRepository,
	subRepo repository.SubscriptionRepository,
	familyRepo repository.FamilyMemberRepository,
	auditRepo repository.AuditRepository,
	familySvc FamilyService,
	mailer notify.Mailer,
	clock scheduler.Clock,
	logger *logrus.Logger,
) RenewalService {
	return &renewalServiceImpl{
		crm:            crm,
		membershipRepo: membershipRepo,
		subRepo:        subRepo,
		familyRepo:     familyRepo,
		auditRepo:      auditRepo,
		familySvc:      familySvc,
		mailer:         mailer,
		clock:          clock,
		logger:         logger,
	}
}

func (s *renewalServiceImpl) RunDailySweep(ctx context.Context) error {
	members, err := s.membershipRepo.ListRenewalCandidates(ctx)
	if err != nil {
		return fmt.Errorf("list renewal candidates: %w", err)
	}

	now := s.clock.Now()
	var summary []string

	for _, m := range members {
		if err := s.evaluateMember(ctx, m, now, &summary); err != nil {
			s.recordSweepFailure(ctx, m, err)
			continue
		}
		if m.SweepFailures > 0 {
			_ = s.membershipRepo.UpdateFields(ctx, m.UserID, map[string]interface{}{
				"sweep_failures": 0,
			})
		}
	}

	if len(summary) > 0 {
		if err := s.mailer.SendAdminSummary("Membership deactivations", summary); err != nil {
			s.logger.WithError(err).Error("send sweep admin summary")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"members":       len(members),
		"deactivations": len(summary),
	}).Info("renewal sweep complete")

	return nil
}

func (s *renewalServiceImpl) evaluateMember(ctx context.Context, m *model.Membership, now time.Time, summary *[]string) error {
	if m.RenewalDate == nil {
		// No active membership to evaluate.
		return nil
	}

	daysUntil := DaysUntil(*m.RenewalDate, now)
	action := EvaluateRenewal(daysUntil)

	if action.Deactivate {
		return s.decideDeactivation(ctx, m, summary)
	}

	if action.Stage != "" && m.RenewalStage != action.Stage {
		if action.SendReminder {
			if err := s.mailer.SendRenewalReminder(m, action.Stage); err != nil {
				return fmt.Errorf("send renewal reminder: %w", err)
			}
		}
		if err := s.membershipRepo.UpdateFields(ctx, m.UserID, map[string]interface{}{
			"renewal_stage": action.Stage,
		}); err != nil {
			return fmt.Errorf("stamp renewal stage: %w", err)
		}
		m.RenewalStage = action.Stage
	}

	if action.GraceReminder {
		if err := s.mailer.SendGraceReminder(m, -daysUntil); err != nil {
			return fmt.Errorf("send grace reminder: %w", err)
		}
	}
	if action.ExtraGraceReminder {
		if err := s.mailer.SendRenewalReminder(m, model.RenewalOverdue); err != nil {
			return fmt.Errorf("send extra grace reminder: %w", err)
		}
	}

	return nil
}

// decideDeactivation is the day −30 decision point: an active recurring
// subscription short-circuits deactivation, everything else lapses.
func (s *renewalServiceImpl) decideDeactivation(ctx context.Context, m *model.Membership, summary *[]string) error {
	hasSub, err := s.subRepo.HasActive(ctx, m.UserID)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}

	if hasSub {
		s.logger.WithField("user_id", m.UserID).Info("subscription_auto_renew")
		return s.auditRepo.Append(ctx, &model.MembershipAuditEntry{
			UserID:    m.UserID,
			OldStatus: m.SubscriptionStatus,
			NewStatus: m.SubscriptionStatus,
			Trigger:   "subscription_auto_renew",
		})
	}

	oldStatus := m.SubscriptionStatus
	m.RemoveRole(model.RoleMember)
	m.RemoveRole(model.RoleFamilyOwner)
	m.SubscriptionStatus = model.SubStatusExpired
	m.RenewalStage = model.RenewalDeactivated

	if err := s.membershipRepo.Save(ctx, m); err != nil {
		return fmt.Errorf("save deactivated membership: %w", err)
	}

	detail, _ := json.Marshal(map[string]interface{}{
		"renewal_date": m.RenewalDate,
	})
	if err := s.auditRepo.Append(ctx, &model.MembershipAuditEntry{
		UserID:    m.UserID,
		OldStatus: oldStatus,
		NewStatus: model.SubStatusExpired,
		Trigger:   "renewal_grace_expired",
		Detail:    datatypes.JSON(detail),
	}); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	if m.ConstituentID != "" {
		if err := s.crm.UpdateConstituent(ctx, m.ConstituentID, client.ConstituentFields{
			Status: "Inactive",
		}); err != nil {
			return fmt.Errorf("update constituent status: %w", err)
		}
	}

	if err := s.mailer.SendInactiveNotice(m); err != nil {
		return fmt.Errorf("send inactive notice: %w", err)
	}

	// Family links dissolve with the owning membership; the CRM side is
	// torn down asynchronously.
	children, err := s.familyRepo.ListByOwner(ctx, m.UserID)
	if err != nil {
		return fmt.Errorf("list family members: %w", err)
	}
	for _, child := range children {
		if err := s.familySvc.ScheduleDelete(ctx, child.ChildUserID); err != nil {
			s.logger.WithError(err).WithField("child_user_id", child.ChildUserID).Error("schedule relationship delete")
		}
	}

	*summary = append(*summary, fmt.Sprintf("user %d: %s -> %s", m.UserID, oldStatus, model.SubStatusExpired))
	return nil
}

func (s *renewalServiceImpl) recordSweepFailure(ctx context.Context, m *model.Membership, cause error) {
	failures := m.SweepFailures + 1

	s.logger.WithError(cause).WithFields(logrus.Fields{
		"user_id":  m.UserID,
		"failures": failures,
	}).Error("renewal evaluation failed")

	if err := s.membershipRepo.UpdateFields(ctx, m.UserID, map[string]interface{}{
		"sweep_failures": failures,
	}); err != nil {
		s.logger.WithError(err).WithField("user_id", m.UserID).Error("record sweep failure")
	}

	if failures == sweepMaxFailures {
		body := fmt.Sprintf("renewal evaluation for user %d has failed %d days running: %v", m.UserID, failures, cause)
		if err := s.mailer.NotifyAdmin("Renewal sweep failures", body); err != nil {
			s.logger.WithError(err).Error("notify admin of sweep failures")
		}
	}
}
