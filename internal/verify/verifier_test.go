package verify_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saraphina-project/selfmod/internal/audit"
	"github.com/saraphina-project/selfmod/internal/store"
	"github.com/saraphina-project/selfmod/internal/verify"
	"github.com/saraphina-project/selfmod/pkg/model"
)

func newVerifier(t *testing.T) (*verify.Verifier, *audit.Trail, *store.DB) {
	t.Helper()
	db, err := store.OpenSQLite(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return verify.NewVerifier(db), audit.NewTrail(db), db
}

func applyRecord(patchID, filePath, backupPath string) *model.AuditRecord {
	rec := &model.AuditRecord{
		Action:   model.ActionApply,
		FilePath: filePath,
		PatchID:  patchID,
		Tier:     model.TierSafe,
		Success:  true,
	}
	if backupPath != "" {
		rec.Details = map[string]any{"backup": backupPath}
	}
	return rec
}

func TestVerifier_ChainValid(t *testing.T) {
	ctx := context.Background()
	v, trail, _ := newVerifier(t)

	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := trail.Append(ctx, applyRecord(id, "/ws/a.py", ""))
		require.NoError(t, err)
	}

	result, err := v.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, result.ChainValid)
	assert.False(t, result.TamperDetected)
	assert.Equal(t, int64(3), result.RecordCount)
	assert.Empty(t, result.Error)
}

func TestVerifier_ChainEmptyTrail(t *testing.T) {
	v, _, _ := newVerifier(t)

	result, err := v.VerifyChain(context.Background())
	require.NoError(t, err)
	assert.True(t, result.ChainValid)
	assert.Equal(t, int64(0), result.RecordCount)
}

func TestVerifier_ChainReportsForgedRecord(t *testing.T) {
	ctx := context.Background()
	v, trail, db := newVerifier(t)

	_, err := trail.Append(ctx, applyRecord("p1", "/ws/a.py", ""))
	require.NoError(t, err)

	_, err = db.Exec(
		`INSERT INTO audit_records (timestamp, action, file_path, patch_id, success, prev_hash, record_hash)
		 VALUES (?, 'apply', '/ws/a.py', 'forged', 1, 'bogus', 'alsobogus')`,
		time.Now().UTC().Format(time.RFC3339Nano))
	require.NoError(t, err)

	// Tampering is reported in the result, not as a call failure.
	result, err := v.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, result.ChainValid)
	assert.True(t, result.TamperDetected)
	assert.NotEmpty(t, result.Error)
}

func TestVerifier_BackupsPresent(t *testing.T) {
	ctx := context.Background()
	v, trail, _ := newVerifier(t)

	backupDir := t.TempDir()
	backup := filepath.Join(backupDir, "a.py.p1.bak")
	require.NoError(t, os.WriteFile(backup, []byte("original"), 0644))

	_, err := trail.Append(ctx, applyRecord("p1", "/ws/a.py", backup))
	require.NoError(t, err)

	results, err := v.VerifyBackups(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].PatchID)
	assert.Equal(t, backup, results[0].BackupPath)
	assert.True(t, results[0].Present)
	assert.False(t, results[0].TamperDetected)
}

func TestVerifier_BackupsMissingFileIsTampering(t *testing.T) {
	ctx := context.Background()
	v, trail, _ := newVerifier(t)

	gone := filepath.Join(t.TempDir(), "a.py.p1.bak")
	_, err := trail.Append(ctx, applyRecord("p1", "/ws/a.py", gone))
	require.NoError(t, err)

	results, err := v.VerifyBackups(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Present)
	assert.True(t, results[0].TamperDetected)
	assert.Equal(t, "backup file missing", results[0].Error)
}

func TestVerifier_BackupsSkipsRecordsWithoutBackup(t *testing.T) {
	ctx := context.Background()
	v, trail, _ := newVerifier(t)

	_, err := trail.Append(ctx, applyRecord("p1", "/ws/a.py", ""))
	require.NoError(t, err)

	results, err := v.VerifyBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
}
