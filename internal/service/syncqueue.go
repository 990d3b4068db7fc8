package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lgl-sync/internal/config"
	"lgl-sync/internal/model"
	"lgl-sync/internal/repository"
	"lgl-sync/internal/scheduler"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HookSyncOrder is the deferred-task hook for one order's CRM sync attempt.
const HookSyncOrder = "lgl_sync_order"

// Error messages matching these fragments are data-integrity conditions
// that cannot succeed on retry.
var nonRetryablePatterns = []string{
	"user deleted",
	"missing customer id",
	"user not found",
}

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string { return e.Reason }

func isNonRetryable(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// SyncWorker is the unit of CRM work the queue retries; the order router's
// sync phase implements it.
type SyncWorker interface {
	SyncOrder(ctx context.Context, orderID int64) error
}

type SyncQueueService interface {
	// ScheduleAsyncProcessing marks the order queued and schedules an
	// immediate sync attempt. Idempotent.
	ScheduleAsyncProcessing(ctx context.Context, orderID int64) error
	// HandleAsyncRequest is the retryable unit of work.
	HandleAsyncRequest(ctx context.Context, orderID int64) error
	// StuckOrderSweep re-drives orders the scheduler lost. Rate-limited
	// internally; safe to call on every request.
	StuckOrderSweep(ctx context.Context)
	// ClearPermanentFailure resets a permanently failed order for a fresh
	// retry cycle and re-enqueues it.
	ClearPermanentFailure(ctx context.Context, orderID int64) error
}

type syncQueueImpl struct {
	cfg       config.Queue
	syncRepo  repository.OrderSyncRepository
	orderRepo repository.OrderRepository
	userRepo  repository.UserRepository
	worker    SyncWorker
	sched     scheduler.Scheduler
	clock     scheduler.Clock
	logger    *logrus.Logger

	// Fast half of the dual lock: cheap to check per request, lost on
	// crash. The durable half lives on the sync record.
	mu        sync.Mutex
	fastLocks map[int64]time.Time
	lastSweep time.Time
}

func NewSyncQueueService(
	cfg config.Queue,
	syncRepo repository.OrderSyncRepository,
	orderRepo repository.OrderRepository,
	userRepo repository.UserRepository,
	worker SyncWorker,
	sched scheduler.Scheduler,
	clock scheduler.Clock,
	logger *logrus.Logger,
) SyncQueueService {
	return &syncQueueImpl{
		cfg:       cfg,
		syncRepo:  syncRepo,
		orderRepo: orderRepo,
		userRepo:  userRepo,
		worker:    worker,
		sched:     sched,
		clock:     clock,
		logger:    logger,
		fastLocks: make(map[int64]time.Time),
	}
}

func syncArgs(orderID int64) map[string]interface{} {
	return map[string]interface{}{"order_id": orderID}
}

// OrderIDFromArgs decodes the order id from scheduled-task args.
func OrderIDFromArgs(args map[string]interface{}) (int64, error) {
	raw, ok := args["order_id"]
	if !ok {
		return 0, fmt.Errorf("task args missing order_id")
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("task args order_id has unexpected type %T", raw)
	}
}

func (q *syncQueueImpl) ScheduleAsyncProcessing(ctx context.Context, orderID int64) error {
	if err := q.syncRepo.EnsureRecord(ctx, orderID); err != nil {
		return fmt.Errorf("ensure sync record: %w", err)
	}

	rec, err := q.syncRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load sync record: %w", err)
	}
	if rec.PermanentlyFailed || rec.Status == model.SyncStatusSynced {
		return nil
	}

	now := q.clock.Now()
	if err := q.syncRepo.MarkQueued(ctx, orderID, now); err != nil {
		return fmt.Errorf("mark queued: %w", err)
	}

	// The scheduler deduplicates identical pending (hook, args) pairs, so
	// double-scheduling before the first run is a no-op.
	if err := q.sched.Schedule(ctx, HookSyncOrder, now, syncArgs(orderID)); err != nil {
		return fmt.Errorf("schedule sync task: %w", err)
	}

	return nil
}

func (q *syncQueueImpl) HandleAsyncRequest(ctx context.Context, orderID int64) error {
	rec, err := q.syncRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			q.logger.WithField("order_id", orderID).Debug("sync request for unknown order, skipping")
			return nil
		}
		return fmt.Errorf("load sync record: %w", err)
	}

	if rec.PermanentlyFailed || rec.Status == model.SyncStatusSynced {
		return nil
	}

	now := q.clock.Now()
	acquired, err := q.acquireLock(ctx, orderID, now)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		q.logger.WithField("order_id", orderID).Debug("order locked by another attempt, skipping")
		return nil
	}
	defer q.releaseFastLock(orderID)

	if err := q.syncRepo.MarkProcessing(ctx, orderID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := q.process(ctx, orderID); err != nil {
		return q.handleFailure(ctx, rec, err)
	}

	if err := q.syncRepo.MarkSynced(ctx, orderID, q.clock.Now()); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}

	q.logger.WithField("order_id", orderID).Info("order synced")
	return nil
}

// process validates preconditions and runs the CRM work.
func (q *syncQueueImpl) process(ctx context.Context, orderID int64) error {
	order, err := q.orderRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	lines, err := q.orderRepo.GetLines(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}

	// Business-rule preconditions, not generic retry fodder: these cannot
	// come right on a later attempt.
	if requiresUser(lines) {
		if order.UserID == 0 {
			return &PermanentError{Reason: "membership order has no customer: missing customer id"}
		}
		exists, err := q.userRepo.Exists(ctx, order.UserID)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return &PermanentError{Reason: fmt.Sprintf("membership order %d: user %d deleted", orderID, order.UserID)}
		}
	} else if order.UserID == 0 && order.BillingEmail == "" {
		return &PermanentError{Reason: "order has no user id and no billing email to sync against"}
	}

	return q.worker.SyncOrder(ctx, orderID)
}

func (q *syncQueueImpl) handleFailure(ctx context.Context, rec *model.OrderSyncRecord, cause error) error {
	orderID := rec.OrderID
	now := q.clock.Now()
	retries := rec.RetryCount + 1

	if retries >= q.cfg.MaxRetries || isNonRetryable(cause) {
		q.logger.WithError(cause).WithFields(logrus.Fields{
			"order_id": orderID,
			"attempts": retries,
		}).Error("order sync permanently failed")

		if err := q.syncRepo.MarkPermanentlyFailed(ctx, orderID, now, cause.Error()); err != nil {
			return fmt.Errorf("mark permanently failed: %w", err)
		}
		// No further attempts: drop any pending reschedule.
		if err := q.sched.Cancel(ctx, HookSyncOrder, syncArgs(orderID)); err != nil {
			q.logger.WithError(err).WithField("order_id", orderID).Warn("cancel pending sync task")
		}
		return nil
	}

	q.logger.WithError(cause).WithFields(logrus.Fields{
		"order_id": orderID,
		"attempt":  retries,
	}).Warn("order sync failed, scheduling retry")

	if err := q.syncRepo.RecordFailure(ctx, orderID, retries, now, cause.Error()); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if err := q.syncRepo.Unlock(ctx, orderID); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if err := q.sched.Schedule(ctx, HookSyncOrder, now.Add(q.cfg.RetryDelay), syncArgs(orderID)); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	return nil
}

func (q *syncQueueImpl) StuckOrderSweep(ctx context.Context) {
	now := q.clock.Now()

	q.mu.Lock()
	if now.Sub(q.lastSweep) < q.cfg.StuckSweepInterval {
		q.mu.Unlock()
		return
	}
	q.lastSweep = now
	q.mu.Unlock()

	stuck, err := q.syncRepo.FindStuck(ctx, now.Add(-q.cfg.StuckThreshold), now.Add(-q.cfg.LockStaleness))
	if err != nil {
		q.logger.WithError(err).Error("stuck order query")
		return
	}

	for _, rec := range stuck {
		if err := q.HandleAsyncRequest(ctx, rec.OrderID); err != nil {
			q.logger.WithError(err).WithField("order_id", rec.OrderID).Error("stuck order reprocess")
		}
	}
}

func (q *syncQueueImpl) ClearPermanentFailure(ctx context.Context, orderID int64) error {
	if err := q.syncRepo.ClearPermanentFailure(ctx, orderID); err != nil {
		return fmt.Errorf("clear permanent failure: %w", err)
	}

	return q.ScheduleAsyncProcessing(ctx, orderID)
}

// acquireLock takes both lock halves: the in-process flag first, then the
// durable compare-and-swap. Either half older than the staleness bound is
// treated as a crashed holder and taken over.
func (q *syncQueueImpl) acquireLock(ctx context.Context, orderID int64, now time.Time) (bool, error) {
	staleBefore := now.Add(-q.cfg.LockStaleness)

	q.mu.Lock()
	if lockedAt, held := q.fastLocks[orderID]; held && lockedAt.After(staleBefore) {
		q.mu.Unlock()
		return false, nil
	}
	q.fastLocks[orderID] = now
	q.mu.Unlock()

	acquired, err := q.syncRepo.TryLock(ctx, orderID, now, staleBefore)
	if err != nil || !acquired {
		q.releaseFastLock(orderID)
		return false, err
	}

	return true, nil
}

func (q *syncQueueImpl) releaseFastLock(orderID int64) {
	q.mu.Lock()
	delete(q.fastLocks, orderID)
	q.mu.Unlock()
}

func requiresUser(lines []*model.OrderLine) bool {
	for _, line := range lines {
		switch classifyLine(line) {
		case model.CategoryMembership, model.CategoryFamilySlot:
			return true
		}
	}
	return false
}
