package service

import (
	"context"
	"fmt"

	"lgl-sync/internal/client"
	"lgl-sync/internal/config"
	"lgl-sync/internal/model"
	"lgl-sync/internal/repository"
	"lgl-sync/internal/scheduler"

	"github.com/sirupsen/logrus"
)

// Deferred-task hooks for the family relationship processor.
const (
	HookFamilyRelCreate = "lgl_family_rel_create"
	HookFamilyRelDelete = "lgl_family_rel_delete"
)

// CRM relationship type names. From the child's record the owner is their
// Parent; from the owner's record the child is their Child.
const (
	relTypeParent = "Parent"
	relTypeChild  = "Child"
)

// FamilyService maintains the two directional CRM relationship records
// linking a family member to the owning member, with the same
// schedule/lock/retry pattern as the order sync queue.
type FamilyService interface {
	ScheduleCreate(ctx context.Context, childUserID int64) error
	ScheduleDelete(ctx context.Context, childUserID int64) error
	HandleCreate(ctx context.Context, childUserID int64) error
	HandleDelete(ctx context.Context, childUserID int64) error
}

type familyServiceImpl struct {
	cfg            config.Queue
	crm            client.LGLClient
	familyRepo     repository.FamilyMemberRepository
	membershipRepo repository.MembershipRepository
	sched          scheduler.Scheduler
	clock          scheduler.Clock
	logger         *logrus.Logger
}

func NewFamilyService(
	cfg config.Queue,
	crm client.LGLClient,
	familyRepo repository.FamilyMemberRepository,
	membershipRepo repository.MembershipRepository,
	sched scheduler.Scheduler,
	clock scheduler.Clock,
	logger *logrus.Logger,
) FamilyService {
	return &familyServiceImpl{
		cfg:            cfg,
		crm:            crm,
		familyRepo:     familyRepo,
		membershipRepo: membershipRepo,
		sched:          sched,
		clock:          clock,
		logger:         logger,
	}
}

func familyArgs(childUserID int64) map[string]interface{} {
	return map[string]interface{}{"child_user_id": childUserID}
}

// ChildUserIDFromArgs decodes the child user id from scheduled-task args.
func ChildUserIDFromArgs(args map[string]interface{}) (int64, error) {
	raw, ok := args["child_user_id"]
	if !ok {
		return 0, fmt.Errorf("task args missing child_user_id")
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("task args child_user_id has unexpected type %T", raw)
	}
	return int64(v), nil
}

func (s *familyServiceImpl) ScheduleCreate(ctx context.Context, childUserID int64) error {
	return s.sched.Schedule(ctx, HookFamilyRelCreate, s.clock.Now(), familyArgs(childUserID))
}

func (s *familyServiceImpl) ScheduleDelete(ctx context.Context, childUserID int64) error {
	return s.sched.Schedule(ctx, HookFamilyRelDelete, s.clock.Now(), familyArgs(childUserID))
}

func (s *familyServiceImpl) HandleCreate(ctx context.Context, childUserID int64) error {
	acquired, err := s.acquireLock(ctx, childUserID)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer s.releaseLock(ctx, childUserID)

	fm, err := s.familyRepo.FindByChild(ctx, childUserID)
	if err != nil {
		return fmt.Errorf("load family record: %w", err)
	}

	if fm.RelationshipSynced {
		return nil
	}

	if err := s.createRelationships(ctx, fm); err != nil {
		return s.retryLater(ctx, fm, HookFamilyRelCreate, err)
	}

	return nil
}

// acquireLock takes the per-child lock the same way the order queue does:
// a durable CAS on locked_at with staleness takeover. A missing record
// simply fails the acquire, which handlers treat as nothing to do.
func (s *familyServiceImpl) acquireLock(ctx context.Context, childUserID int64) (bool, error) {
	now := s.clock.Now()
	acquired, err := s.familyRepo.TryLock(ctx, childUserID, now, now.Add(-s.cfg.LockStaleness))
	if err != nil {
		return false, fmt.Errorf("acquire family lock: %w", err)
	}
	if !acquired {
		s.logger.WithField("child_user_id", childUserID).Debug("family record locked or absent, skipping")
	}
	return acquired, nil
}

func (s *familyServiceImpl) releaseLock(ctx context.Context, childUserID int64) {
	if err := s.familyRepo.Unlock(ctx, childUserID); err != nil {
		s.logger.WithError(err).WithField("child_user_id", childUserID).Warn("release family lock")
	}
}

func (s *familyServiceImpl) createRelationships(ctx context.Context, fm *model.FamilyMember) error {
	childID, err := s.constituentID(ctx, fm.ChildUserID)
	if err != nil {
		return err
	}
	parentID, err := s.constituentID(ctx, fm.OwnerUserID)
	if err != nil {
		return err
	}

	if fm.ChildToParentRelID == "" {
		relID, err := s.crm.CreateRelationship(ctx, childID, parentID, relTypeParent)
		if err != nil {
			return fmt.Errorf("create child->parent relationship: %w", err)
		}
		fm.ChildToParentRelID = relID
		if err := s.familyRepo.Save(ctx, fm); err != nil {
			return fmt.Errorf("store relationship id: %w", err)
		}
	}

	if fm.ParentToChildRelID == "" {
		relID, err := s.crm.CreateRelationship(ctx, parentID, childID, relTypeChild)
		if err != nil {
			return fmt.Errorf("create parent->child relationship: %w", err)
		}
		fm.ParentToChildRelID = relID
	}

	fm.RelationshipSynced = true
	fm.RetryCount = 0
	fm.LastError = ""
	if err := s.familyRepo.Save(ctx, fm); err != nil {
		return fmt.Errorf("save family record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"owner_user_id": fm.OwnerUserID,
		"child_user_id": fm.ChildUserID,
	}).Info("family relationships created")

	return nil
}

func (s *familyServiceImpl) HandleDelete(ctx context.Context, childUserID int64) error {
	acquired, err := s.acquireLock(ctx, childUserID)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer s.releaseLock(ctx, childUserID)

	fm, err := s.familyRepo.FindByChild(ctx, childUserID)
	if err != nil {
		return fmt.Errorf("load family record: %w", err)
	}

	if err := s.deleteRelationships(ctx, fm); err != nil {
		return s.retryLater(ctx, fm, HookFamilyRelDelete, err)
	}

	return nil
}

func (s *familyServiceImpl) deleteRelationships(ctx context.Context, fm *model.FamilyMember) error {
	childID, childErr := s.constituentID(ctx, fm.ChildUserID)
	parentID, parentErr := s.constituentID(ctx, fm.OwnerUserID)

	deleted := 0
	if childErr == nil && fm.ChildToParentRelID != "" {
		if err := s.crm.DeleteRelationship(ctx, childID, fm.ChildToParentRelID); err == nil {
			deleted++
		} else {
			s.logger.WithError(err).WithField("child_user_id", fm.ChildUserID).Warn("stored child relationship id stale")
		}
	}
	if parentErr == nil && fm.ParentToChildRelID != "" {
		if err := s.crm.DeleteRelationship(ctx, parentID, fm.ParentToChildRelID); err == nil {
			deleted++
		} else {
			s.logger.WithError(err).WithField("owner_user_id", fm.OwnerUserID).Warn("stored parent relationship id stale")
		}
	}

	// Fallback for stale or missing ids: scan each side's relationship
	// list and delete any Parent/Child entry pointing at the other party.
	if deleted < 2 {
		if childErr == nil && parentErr == nil {
			if err := s.deleteBySearch(ctx, childID, parentID, relTypeParent); err != nil {
				return err
			}
			if err := s.deleteBySearch(ctx, parentID, childID, relTypeChild); err != nil {
				return err
			}
		} else if childErr != nil {
			return childErr
		} else {
			return parentErr
		}
	}

	return s.familyRepo.Delete(ctx, fm.ChildUserID)
}

func (s *familyServiceImpl) deleteBySearch(ctx context.Context, constituentID, relatedID, typeName string) error {
	rels, err := s.crm.ListRelationships(ctx, constituentID)
	if err != nil {
		return fmt.Errorf("list relationships: %w", err)
	}

	for _, rel := range rels {
		if rel.TypeName == typeName && rel.RelatedID == relatedID {
			if err := s.crm.DeleteRelationship(ctx, constituentID, rel.ID); err != nil {
				return fmt.Errorf("delete relationship %s: %w", rel.ID, err)
			}
		}
	}

	return nil
}

func (s *familyServiceImpl) constituentID(ctx context.Context, userID int64) (string, error) {
	m, err := s.membershipRepo.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load membership for user %d: %w", userID, err)
	}
	if m.ConstituentID == "" {
		return "", fmt.Errorf("user %d has no constituent id yet", userID)
	}
	return m.ConstituentID, nil
}

// retryLater mirrors the order queue's retry policy on the family record's
// own counters.
func (s *familyServiceImpl) retryLater(ctx context.Context, fm *model.FamilyMember, hook string, cause error) error {
	fm.RetryCount++
	fm.LastError = cause.Error()
	if err := s.familyRepo.Save(ctx, fm); err != nil {
		return fmt.Errorf("record relationship failure: %w", err)
	}

	if fm.RetryCount >= s.cfg.MaxRetries {
		s.logger.WithError(cause).WithFields(logrus.Fields{
			"child_user_id": fm.ChildUserID,
			"attempts":      fm.RetryCount,
		}).Error("family relationship sync permanently failed")
		return nil
	}

	s.logger.WithError(cause).WithFields(logrus.Fields{
		"child_user_id": fm.ChildUserID,
		"attempt":       fm.RetryCount,
	}).Warn("family relationship sync failed, scheduling retry")

	return s.sched.Schedule(ctx, hook, s.clock.Now().Add(s.cfg.RetryDelay), familyArgs(fm.ChildUserID))
}
