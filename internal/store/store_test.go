package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saraphina-project/selfmod/internal/store"
	"github.com/saraphina-project/selfmod/pkg/model"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenSQLite(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertRecord(t *testing.T, db *store.DB, patchID string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO audit_records (timestamp, action, file_path, patch_id, success, prev_hash, record_hash)
		 VALUES (?, 'propose', '/ws/a.py', ?, 1, '', 'deadbeef')`,
		time.Now().UTC().Format(time.RFC3339Nano), patchID)
	require.NoError(t, err)
}

func TestOpenSQLite_CreatesSchema(t *testing.T) {
	db := openTestDB(t)

	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN
		('audit_records', 'proposals', 'approval_requests')`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOpenSQLite_Reopenable(t *testing.T) {
	root := t.TempDir()
	db, err := store.OpenSQLite(context.Background(), root)
	require.NoError(t, err)
	insertRecord(t, db, "p1")
	require.NoError(t, db.Close())

	db, err = store.OpenSQLite(context.Background(), root)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM audit_records`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestAuditRecords_UpdateRejected(t *testing.T) {
	db := openTestDB(t)
	insertRecord(t, db, "p1")

	_, err := db.Exec(`UPDATE audit_records SET action = 'apply' WHERE patch_id = 'p1'`)
	require.Error(t, err)
	assert.True(t, store.IsImmutabilityViolation(err))
}

func TestAuditRecords_DeleteRejected(t *testing.T) {
	db := openTestDB(t)
	insertRecord(t, db, "p1")

	_, err := db.Exec(`DELETE FROM audit_records WHERE patch_id = 'p1'`)
	require.Error(t, err)
	assert.True(t, store.IsImmutabilityViolation(err))

	// The row survived the attempt.
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM audit_records`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestIsImmutabilityViolation_OtherErrors(t *testing.T) {
	assert.False(t, store.IsImmutabilityViolation(nil))
	assert.False(t, store.IsImmutabilityViolation(assert.AnError))
}

func TestRebind_SQLitePassthrough(t *testing.T) {
	db := openTestDB(t)
	q := `SELECT * FROM proposals WHERE id = ? AND status = ?`
	assert.Equal(t, q, db.Rebind(q))
}

func newProposal(id, filePath string) *store.Proposal {
	return &store.Proposal{
		Patch: model.Patch{
			ID:              id,
			FilePath:        filePath,
			OriginalContent: "def a():\n    pass\n",
			ModifiedContent: "def a():\n    return 1\n",
			Rationale:       "tighten",
			OriginalHash:    model.HashContent("def a():\n    pass\n"),
			ModifiedHash:    model.HashContent("def a():\n    return 1\n"),
			Status:          model.PatchStatusPending,
			CreatedAt:       time.Now().UTC(),
		},
		Classification: model.RiskClassification{
			Score:   5,
			Tier:    model.TierCaution,
			Reasons: []string{"non-comment code modified"},
		},
	}
}

func TestProposals_InsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := store.NewProposals(db)

	require.NoError(t, repo.Insert(ctx, newProposal("p1", "/ws/a.py")))

	got, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "/ws/a.py", got.Patch.FilePath)
	assert.Equal(t, model.PatchStatusPending, got.Patch.Status)
	assert.Equal(t, model.TierCaution, got.Classification.Tier)
	assert.Equal(t, []string{"non-comment code modified"}, got.Classification.Reasons)
	assert.True(t, got.Classification.RequiresApproval)
	assert.Nil(t, got.Patch.ResolvedAt)
}

func TestProposals_PendingConflictPerFile(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := store.NewProposals(db)

	require.NoError(t, repo.Insert(ctx, newProposal("p1", "/ws/a.py")))

	err := repo.Insert(ctx, newProposal("p2", "/ws/a.py"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "E_PROPOSAL_CONFLICT")

	// A different file is fine.
	require.NoError(t, repo.Insert(ctx, newProposal("p3", "/ws/b.py")))
}

func TestProposals_ResolveReleasesFile(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := store.NewProposals(db)

	require.NoError(t, repo.Insert(ctx, newProposal("p1", "/ws/a.py")))
	require.NoError(t, repo.Resolve(ctx, "p1", model.PatchStatusDenied))

	// The pending slot for the file is free again.
	require.NoError(t, repo.Insert(ctx, newProposal("p2", "/ws/a.py")))

	got, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PatchStatusDenied, got.Patch.Status)
	require.NotNil(t, got.Patch.ResolvedAt)
}

func TestProposals_ResolveTwiceFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := store.NewProposals(db)

	require.NoError(t, repo.Insert(ctx, newProposal("p1", "/ws/a.py")))
	require.NoError(t, repo.Resolve(ctx, "p1", model.PatchStatusApplied))

	err := repo.Resolve(ctx, "p1", model.PatchStatusDenied)
	assert.ErrorContains(t, err, "E_PROPOSAL_RESOLVED")
}

func TestProposals_ResolveRequiresTerminalStatus(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := store.NewProposals(db)

	require.NoError(t, repo.Insert(ctx, newProposal("p1", "/ws/a.py")))
	assert.Error(t, repo.Resolve(ctx, "p1", model.PatchStatusPending))
}

func TestProposals_GetMissing(t *testing.T) {
	db := openTestDB(t)
	repo := store.NewProposals(db)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorContains(t, err, "E_PROPOSAL_NOT_FOUND")
}

func TestProposals_PendingListOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := store.NewProposals(db)

	first := newProposal("p1", "/ws/a.py")
	first.Patch.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Insert(ctx, first))
	require.NoError(t, repo.Insert(ctx, newProposal("p2", "/ws/b.py")))

	pending, err := repo.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "p1", pending[0].Patch.ID)
	assert.Equal(t, "p2", pending[1].Patch.ID)

	fromFile, err := repo.PendingForFile(ctx, "/ws/b.py")
	require.NoError(t, err)
	require.NotNil(t, fromFile)
	assert.Equal(t, "p2", fromFile.Patch.ID)

	none, err := repo.PendingForFile(ctx, "/ws/c.py")
	require.NoError(t, err)
	assert.Nil(t, none)
}
