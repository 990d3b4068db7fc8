package service

import (
	"context"
	"testing"
	"time"

	"lgl-sync/internal/client"
	"lgl-sync/internal/model"
	"lgl-sync/internal/repository"
	"lgl-sync/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type familyFixture struct {
	db         *gorm.DB
	svc        FamilyService
	crm        *fakeCRM
	clock      *fakeClock
	familyRepo repository.FamilyMemberRepository
}

func newFamilyFixture(t *testing.T) *familyFixture {
	t.Helper()

	db := newTestDB(t)
	crm := newFakeCRM()
	clock := newFakeClock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	familyRepo := repository.NewFamilyMemberRepository(db)
	sched := scheduler.NewScheduler(repository.NewScheduledTaskRepository(db))

	svc := NewFamilyService(
		testQueueConfig(),
		crm,
		familyRepo,
		repository.NewMembershipRepository(db),
		sched,
		clock,
		testLogger(),
	)

	return &familyFixture{
		db:         db,
		svc:        svc,
		crm:        crm,
		clock:      clock,
		familyRepo: familyRepo,
	}
}

func seedConstituent(t *testing.T, db *gorm.DB, userID int64, constituentID string) {
	t.Helper()
	require.NoError(t, db.Create(&model.Membership{
		UserID:        userID,
		Roles:         `["ui_member"]`,
		ConstituentID: constituentID,
	}).Error)
}

func relTypes(rels []client.Relationship) []string {
	var out []string
	for _, rel := range rels {
		out = append(out, rel.TypeName)
	}
	return out
}

func TestHandleCreateBuildsBothDirections(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	seedConstituent(t, f.db, 1, "P1")
	seedConstituent(t, f.db, 2, "C2")
	require.NoError(t, f.db.Create(&model.FamilyMember{OwnerUserID: 1, ChildUserID: 2}).Error)

	require.NoError(t, f.svc.HandleCreate(ctx, 2))

	fm, err := f.familyRepo.FindByChild(ctx, 2)
	require.NoError(t, err)
	assert.True(t, fm.RelationshipSynced)
	assert.NotEmpty(t, fm.ChildToParentRelID)
	assert.NotEmpty(t, fm.ParentToChildRelID)

	// From the child the owner is a Parent; from the owner the child is a
	// Child.
	assert.Equal(t, []string{relTypeParent}, relTypes(f.crm.rels["C2"]))
	assert.Equal(t, "P1", f.crm.rels["C2"][0].RelatedID)
	assert.Equal(t, []string{relTypeChild}, relTypes(f.crm.rels["P1"]))
	assert.Equal(t, "C2", f.crm.rels["P1"][0].RelatedID)
}

func TestHandleCreateAlreadySyncedIsNoop(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Create(&model.FamilyMember{
		OwnerUserID:        1,
		ChildUserID:        2,
		ChildToParentRelID: "R1",
		ParentToChildRelID: "R2",
		RelationshipSynced: true,
	}).Error)

	require.NoError(t, f.svc.HandleCreate(ctx, 2))

	assert.Empty(t, f.crm.rels)
}

func TestHandleCreateResumesAfterPartialFailure(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	seedConstituent(t, f.db, 1, "P1")
	seedConstituent(t, f.db, 2, "C2")

	// First attempt got the child->parent link created before dying.
	require.NoError(t, f.db.Create(&model.FamilyMember{
		OwnerUserID:        1,
		ChildUserID:        2,
		ChildToParentRelID: "R9",
	}).Error)
	f.crm.rels["C2"] = []client.Relationship{{ID: "R9", TypeName: relTypeParent, RelatedID: "P1"}}

	require.NoError(t, f.svc.HandleCreate(ctx, 2))

	fm, err := f.familyRepo.FindByChild(ctx, 2)
	require.NoError(t, err)
	assert.True(t, fm.RelationshipSynced)
	assert.Equal(t, "R9", fm.ChildToParentRelID)

	// Only the missing direction was created.
	assert.Len(t, f.crm.rels["C2"], 1)
	assert.Len(t, f.crm.rels["P1"], 1)
}

func TestHandleCreateMissingConstituentSchedulesRetry(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	seedConstituent(t, f.db, 1, "P1")
	seedConstituent(t, f.db, 2, "") // child not synced to the CRM yet
	require.NoError(t, f.db.Create(&model.FamilyMember{OwnerUserID: 1, ChildUserID: 2}).Error)

	require.NoError(t, f.svc.HandleCreate(ctx, 2))

	fm, err := f.familyRepo.FindByChild(ctx, 2)
	require.NoError(t, err)
	assert.False(t, fm.RelationshipSynced)
	assert.Equal(t, 1, fm.RetryCount)
	assert.Contains(t, fm.LastError, "no constituent id")

	var tasks int64
	require.NoError(t, f.db.Model(&model.ScheduledTask{}).
		Where("hook = ? AND status = ?", HookFamilyRelCreate, model.TaskStatusPending).
		Count(&tasks).Error)
	assert.Equal(t, int64(1), tasks)
}

func TestHandleCreateRetriesExhaust(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	seedConstituent(t, f.db, 1, "P1")
	seedConstituent(t, f.db, 2, "")
	require.NoError(t, f.db.Create(&model.FamilyMember{OwnerUserID: 1, ChildUserID: 2}).Error)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.svc.HandleCreate(ctx, 2))
	}

	fm, err := f.familyRepo.FindByChild(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, fm.RetryCount)
}

func TestHandleDeleteWithStoredIDs(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	seedConstituent(t, f.db, 1, "P1")
	seedConstituent(t, f.db, 2, "C2")
	require.NoError(t, f.db.Create(&model.FamilyMember{OwnerUserID: 1, ChildUserID: 2}).Error)
	require.NoError(t, f.svc.HandleCreate(ctx, 2))

	require.NoError(t, f.svc.HandleDelete(ctx, 2))

	assert.Empty(t, f.crm.rels["C2"])
	assert.Empty(t, f.crm.rels["P1"])
	_, err := f.familyRepo.FindByChild(ctx, 2)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestHandleDeleteFallsBackToSearch(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	seedConstituent(t, f.db, 1, "P1")
	seedConstituent(t, f.db, 2, "C2")

	// Local record never captured the relationship ids, but the CRM side
	// exists.
	require.NoError(t, f.db.Create(&model.FamilyMember{
		OwnerUserID:        1,
		ChildUserID:        2,
		RelationshipSynced: true,
	}).Error)
	f.crm.rels["C2"] = []client.Relationship{{ID: "R1", TypeName: relTypeParent, RelatedID: "P1"}}
	f.crm.rels["P1"] = []client.Relationship{
		{ID: "R2", TypeName: relTypeChild, RelatedID: "C2"},
		{ID: "R3", TypeName: relTypeChild, RelatedID: "C7"}, // another family, untouched
	}

	require.NoError(t, f.svc.HandleDelete(ctx, 2))

	assert.Empty(t, f.crm.rels["C2"])
	require.Len(t, f.crm.rels["P1"], 1)
	assert.Equal(t, "R3", f.crm.rels["P1"][0].ID)
	_, err := f.familyRepo.FindByChild(ctx, 2)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestHandleCreateFreshLockBlocksSecondAttempt(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	seedConstituent(t, f.db, 1, "P1")
	seedConstituent(t, f.db, 2, "C2")
	held := f.clock.Now().Add(-time.Minute)
	require.NoError(t, f.db.Create(&model.FamilyMember{
		OwnerUserID: 1,
		ChildUserID: 2,
		LockedAt:    &held,
	}).Error)

	require.NoError(t, f.svc.HandleCreate(ctx, 2))

	// Another attempt holds the lock: nothing touched the CRM.
	assert.Empty(t, f.crm.rels["C2"])
	fm, err := f.familyRepo.FindByChild(ctx, 2)
	require.NoError(t, err)
	assert.False(t, fm.RelationshipSynced)
	require.NotNil(t, fm.LockedAt)
	assert.True(t, fm.LockedAt.Equal(held))
}

func TestHandleCreateStaleLockIsTakenOver(t *testing.T) {
	f := newFamilyFixture(t)
	ctx := context.Background()
	seedConstituent(t, f.db, 1, "P1")
	seedConstituent(t, f.db, 2, "C2")
	stale := f.clock.Now().Add(-10 * time.Minute)
	require.NoError(t, f.db.Create(&model.FamilyMember{
		OwnerUserID: 1,
		ChildUserID: 2,
		LockedAt:    &stale,
	}).Error)

	require.NoError(t, f.svc.HandleCreate(ctx, 2))

	fm, err := f.familyRepo.FindByChild(ctx, 2)
	require.NoError(t, err)
	assert.True(t, fm.RelationshipSynced)
	assert.Nil(t, fm.LockedAt)
	assert.Equal(t, []string{relTypeParent}, relTypes(f.crm.rels["C2"]))
}

func TestHandleDeleteUnknownChildIsNoop(t *testing.T) {
	f := newFamilyFixture(t)
	require.NoError(t, f.svc.HandleDelete(context.Background(), 404))
}

func TestChildUserIDFromArgs(t *testing.T) {
	id, err := ChildUserIDFromArgs(map[string]interface{}{"child_user_id": float64(9)})
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	_, err = ChildUserIDFromArgs(map[string]interface{}{})
	assert.Error(t, err)
}
