package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saraphina-project/selfmod/internal/audit"
	"github.com/saraphina-project/selfmod/internal/controller"
	"github.com/saraphina-project/selfmod/internal/lock"
	"github.com/saraphina-project/selfmod/pkg/config"
	"github.com/saraphina-project/selfmod/pkg/errclass"
	"github.com/saraphina-project/selfmod/pkg/model"
)

const handlerSource = `import json

def load(path):
    with open(path) as f:
        return json.load(f)

def handler(request):
    name = request.get("name", "")
    if len(name) > 10:
        return reject(request)
    return process(request)

def reject(request):
    return {"status": "rejected"}

def process(request):
    return {"status": "ok"}
`

func newController(t *testing.T) (*controller.Controller, string) {
	t.Helper()
	root := t.TempDir()
	ctrl, err := controller.New(context.Background(), root)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	return ctrl, root
}

func writeTarget(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestController_SafeChangeAutoApplies(t *testing.T) {
	ctx := context.Background()
	ctrl, root := newController(t)
	target := writeTarget(t, root, "core/handlers.py", handlerSource)

	modified := `import json

def load(path):
    with open(path) as f:
        return json.load(f)

def handler(request):
    """Dispatch one request."""
    name = request.get("name", "")
    if len(name) > 10:
        return reject(request)
    return process(request)

def reject(request):
    return {"status": "rejected"}

def process(request):
    return {"status": "ok"}
`
	res, err := ctrl.Propose(ctx, target, modified, "document handler")
	require.NoError(t, err)
	assert.Equal(t, model.TierSafe, res.Classification.Tier)
	assert.Equal(t, model.ApprovalApproved, res.Approval.Status)
	assert.Equal(t, model.PrincipalAuto, res.Approval.Principal)

	outcome, err := ctrl.Apply(ctx, res.Patch.ID, "")
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, modified, string(data))

	records, err := ctrl.History(ctx, audit.Filter{PatchID: res.Patch.ID})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.ActionPropose, records[0].Action)
	assert.Equal(t, model.ActionApply, records[1].Action)
	assert.Equal(t, model.PrincipalAuto, records[1].Principal)
}

func TestController_ApprovalGateHoldsUntilPhrase(t *testing.T) {
	ctx := context.Background()
	ctrl, root := newController(t)
	target := writeTarget(t, root, "core/handlers.py", handlerSource)

	modified := `import json

def load(path):
    with open(path) as f:
        return json.load(f)

def handler(request):
    name = request.get("name", "")
    if len(name) > 64:
        return reject(request)
    return process(request)

def reject(request):
    return {"status": "rejected"}

def process(request):
    return {"status": "ok"}
`
	res, err := ctrl.Propose(ctx, target, modified, "raise limit")
	require.NoError(t, err)
	require.Equal(t, model.TierCaution, res.Classification.Tier)

	// No phrase: held, file untouched, proposal still pending.
	outcome, err := ctrl.Apply(ctx, res.Patch.ID, "")
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.True(t, outcome.ApprovalRequired)
	assert.Equal(t, "I approve this change", outcome.RequiredPhrase)
	assert.NotEmpty(t, outcome.Reasons)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, handlerSource, string(data))

	// Wrong phrase: still held.
	outcome, err = ctrl.Apply(ctx, res.Patch.ID, "sure, go ahead")
	require.NoError(t, err)
	assert.True(t, outcome.ApprovalRequired)

	// Exact phrase: applied, with an approve record in the trail.
	outcome, err = ctrl.Apply(ctx, res.Patch.ID, "I approve this change")
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	records, err := ctrl.History(ctx, audit.Filter{PatchID: res.Patch.ID})
	require.NoError(t, err)
	actions := make([]model.AuditAction, 0, len(records))
	for _, rec := range records {
		actions = append(actions, rec.Action)
	}
	assert.Equal(t, []model.AuditAction{model.ActionPropose, model.ActionApprove, model.ActionApply}, actions)
}

func TestController_DenyIsTerminal(t *testing.T) {
	ctx := context.Background()
	ctrl, root := newController(t)
	target := writeTarget(t, root, "core/handlers.py", handlerSource)

	res, err := ctrl.Propose(ctx, target, handlerSource+"\nx = 1\n", "tweak")
	require.NoError(t, err)

	require.NoError(t, ctrl.Deny(ctx, res.Patch.ID))

	// A denied proposal can never be applied, phrase or not.
	_, err = ctrl.Apply(ctx, res.Patch.ID, "I approve this change")
	assert.True(t, errors.Is(err, errclass.ErrProposalResolved))

	// Denying twice is rejected too.
	err = ctrl.Deny(ctx, res.Patch.ID)
	assert.True(t, errors.Is(err, errclass.ErrProposalResolved))

	records, err := ctrl.History(ctx, audit.Filter{PatchID: res.Patch.ID, Action: model.ActionDeny})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestController_OnePendingProposalPerFile(t *testing.T) {
	ctx := context.Background()
	ctrl, root := newController(t)
	target := writeTarget(t, root, "core/handlers.py", handlerSource)

	first, err := ctrl.Propose(ctx, target, handlerSource+"\nx = 1\n", "first")
	require.NoError(t, err)

	_, err = ctrl.Propose(ctx, target, handlerSource+"\ny = 2\n", "second")
	assert.True(t, errors.Is(err, errclass.ErrProposalConflict))

	// Resolving the first frees the slot.
	require.NoError(t, ctrl.Deny(ctx, first.Patch.ID))
	_, err = ctrl.Propose(ctx, target, handlerSource+"\ny = 2\n", "second again")
	assert.NoError(t, err)
}

func TestController_StaleProposalFailsClosed(t *testing.T) {
	ctx := context.Background()
	ctrl, root := newController(t)
	target := writeTarget(t, root, "core/handlers.py", handlerSource)

	res, err := ctrl.Propose(ctx, target, handlerSource+"\nx = 1\n", "tweak")
	require.NoError(t, err)

	// Someone else edits the file before the apply.
	driveBy := handlerSource + "\n# drive-by\n"
	require.NoError(t, os.WriteFile(target, []byte(driveBy), 0644))

	_, err = ctrl.Apply(ctx, res.Patch.ID, "I approve this change")
	assert.True(t, errors.Is(err, errclass.ErrStaleProposal))

	// The drive-by content is untouched and the proposal is dead.
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, driveBy, string(data))

	prop, err := ctrl.Get(ctx, res.Patch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchStatusFailed, prop.Patch.Status)

	failures, err := ctrl.History(ctx, audit.Filter{Action: model.ActionApplyFailure})
	require.NoError(t, err)
	assert.Len(t, failures, 1)

	// The file's pending slot is free for a fresh proposal.
	_, err = ctrl.Propose(ctx, target, driveBy+"\ny = 2\n", "retry on current content")
	assert.NoError(t, err)
}

func TestController_StructuralFailureRollsBackAndAudits(t *testing.T) {
	ctx := context.Background()
	ctrl, root := newController(t)
	target := writeTarget(t, root, "core/handlers.py", handlerSource)

	broken := handlerSource + "\ndef truncated(request):\n    data = {\"k\": [1, 2\n"
	res, err := ctrl.Propose(ctx, target, broken, "bad generation")
	require.NoError(t, err)

	outcome, err := ctrl.Apply(ctx, res.Patch.ID, "I approve this change")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errclass.ErrStructuralInvalid))
	require.NotNil(t, outcome)
	assert.True(t, outcome.RolledBack)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, handlerSource, string(data))

	rollbacks, err := ctrl.History(ctx, audit.Filter{Action: model.ActionRollback})
	require.NoError(t, err)
	assert.Len(t, rollbacks, 1)

	require.NoError(t, ctrl.VerifyChain(ctx))
}

func TestController_PathEscapeRejected(t *testing.T) {
	ctx := context.Background()
	ctrl, root := newController(t)

	outside := filepath.Join(root, "..", "escape.py")
	_, err := ctrl.Propose(ctx, outside, "x = 1\n", "nope")
	assert.True(t, errors.Is(err, errclass.ErrPathEscape))
}

func TestController_PendingAndStats(t *testing.T) {
	ctx := context.Background()
	ctrl, root := newController(t)
	targetA := writeTarget(t, root, "core/a.py", handlerSource)
	targetB := writeTarget(t, root, "core/b.py", handlerSource)

	resA, err := ctrl.Propose(ctx, targetA, handlerSource+"\nx = 1\n", "a")
	require.NoError(t, err)
	_, err = ctrl.Propose(ctx, targetB, handlerSource+"\ny = 2\n", "b")
	require.NoError(t, err)

	pending, err := ctrl.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	outcome, err := ctrl.Apply(ctx, resA.Patch.ID, "I approve this change")
	require.NoError(t, err)
	require.True(t, outcome.Applied)

	pending, err = ctrl.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	stats, err := ctrl.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.CountsByAction[model.ActionApply])
	assert.Equal(t, int64(2), stats.CountsByAction[model.ActionPropose])
	assert.Equal(t, 1.0, stats.SuccessRate)

	require.NoError(t, ctrl.VerifyChain(ctx))
}

func TestController_CriticalApplySendsAlert(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	received := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		assert.NotEmpty(t, r.Header.Get("X-Selfmod-Signature"))
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Alerts = config.AlertConfig{Enabled: true, WebhookURL: server.URL, Secret: "hush"}
	ctrl, err := controller.NewWithConfig(ctx, root, cfg)
	require.NoError(t, err)
	defer ctrl.Close()

	original := `import hashlib
import os

def verify_password(password, hashed):
    return hashlib.sha256(password.encode()).hexdigest() == hashed

def issue_token(user):
    return os.urandom(16).hex()

def helper():
    return 1
`
	modified := `import os

def helper():
    return 1

def bypass(user):
    token = "static"
    return token
`
	target := writeTarget(t, root, "core/auth_manager.py", original)

	res, err := ctrl.Propose(ctx, target, modified, "simplify")
	require.NoError(t, err)
	require.Equal(t, model.TierCritical, res.Classification.Tier)

	outcome, err := ctrl.Apply(ctx, res.Patch.ID,
		"I approve this critical change with full awareness of system impact")
	require.NoError(t, err)
	require.True(t, outcome.Applied)

	event := <-received
	assert.Equal(t, "apply.critical", event["event"])
	assert.Equal(t, res.Patch.ID, event["patch_id"])
}

func TestController_LockContentionLeavesProposalPending(t *testing.T) {
	ctx := context.Background()
	ctrl, root := newController(t)
	target := writeTarget(t, root, "core/handlers.py", handlerSource)

	res, err := ctrl.Propose(ctx, target, handlerSource+`
def audit(request):
    return {"status": "seen"}
`, "add audit hook")
	require.NoError(t, err)

	held, err := lock.NewManager(root).Acquire(target, "maintenance")
	require.NoError(t, err)

	_, err = ctrl.Apply(ctx, res.Patch.ID, "I approve this change")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errclass.ErrLockConflict))

	// Contention is transient: the proposal must survive it.
	prop, err := ctrl.Get(ctx, res.Patch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchStatusPending, prop.Patch.Status)

	records, err := ctrl.History(ctx, audit.Filter{
		PatchID: res.Patch.ID, Action: model.ActionApplyFailure,
	})
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, lock.NewManager(root).Release(held))

	outcome, err := ctrl.Apply(ctx, res.Patch.ID, "")
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
}
