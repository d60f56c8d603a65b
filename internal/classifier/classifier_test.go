package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saraphina-project/selfmod/internal/classifier"
	"github.com/saraphina-project/selfmod/pkg/model"
)

const handlerOriginal = `import json

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

func newClassifier() *classifier.Classifier {
	return classifier.New(classifier.DefaultRuleset())
}

func TestClassify_IdenticalContentIsSafe(t *testing.T) {
	c := newClassifier()
	result := c.Classify(handlerOriginal, handlerOriginal, "core/handlers.py")
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, model.TierSafe, result.Tier)
	assert.False(t, result.RequiresApproval)
	assert.Empty(t, result.Reasons)
}

func TestClassify_DocstringOnlyChangeIsSafe(t *testing.T) {
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
	c := newClassifier()
	result := c.Classify(handlerOriginal, modified, "core/handlers.py")
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, model.TierSafe, result.Tier)
	assert.False(t, result.RequiresApproval)
}

func TestClassify_LogicChangeIsCaution(t *testing.T) {
	// One validation threshold changed: a real code change, nothing more.
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
	c := newClassifier()
	result := c.Classify(handlerOriginal, modified, "core/handlers.py")
	assert.Equal(t, model.TierCaution, result.Tier)
	assert.True(t, result.RequiresApproval)
	assert.Less(t, result.Score, 10.0)
}

func TestClassify_SensitiveKeywordFloorsTier(t *testing.T) {
	// Score stays below the sensitive threshold; the floor promotes it.
	modified := handlerOriginal + `
def unlock(data):
    password = decrypt(data)
    return password
`
	c := newClassifier()
	result := c.Classify(handlerOriginal, modified, "core/handlers.py")
	assert.Equal(t, model.TierSensitive, result.Tier)
	assert.Less(t, result.Score, 30.0)
	assert.NotEmpty(t, result.Reasons)
}

func TestClassify_SymbolDeletionIsSensitive(t *testing.T) {
	modified := `import json

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
    return {"status": "ok", "body": ""}
`
	// Delete reject() entirely.
	deleted := `import json

def load(path):
    with open(path) as f:
        return json.load(f)

def handler(request):
    name = request.get("name", "")
    return process(request)

def process(request):
    return {"status": "ok"}
`
	c := newClassifier()
	result := c.Classify(modified, deleted, "core/handlers.py")
	assert.Equal(t, model.TierSensitive, result.Tier)
	assert.Contains(t, result.DeletedSymbols, "reject")
}

func TestClassify_CriticalModuleWithHeavySignals(t *testing.T) {
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
	c := newClassifier()
	result := c.Classify(original, modified, "core/auth_manager.py")
	assert.Equal(t, model.TierCritical, result.Tier)
	assert.GreaterOrEqual(t, result.Score, 60.0)
	assert.Contains(t, result.DeletedSymbols, "verify_password")
	assert.Contains(t, result.DeletedSymbols, "issue_token")
}

func TestClassify_CriticalModuleUnchangedIsSafe(t *testing.T) {
	c := newClassifier()
	result := c.Classify(handlerOriginal, handlerOriginal, "core/auth_manager.py")
	assert.Equal(t, model.TierSafe, result.Tier)
	assert.Equal(t, 0.0, result.Score)
}

func TestClassify_AddingSignalsNeverLowersTier(t *testing.T) {
	// Each step keeps everything the previous step changed and adds one
	// more risky function. More evidence of risk must never produce a
	// lower tier or score.
	modified := handlerOriginal
	steps := []string{
		modified,
		modified + "\ndef ping(host):\n    return socket.create_connection((host, 80))\n",
	}
	steps = append(steps,
		steps[len(steps)-1]+"\ndef unlock(data):\n    password = decrypt(data)\n    return password\n")
	steps = append(steps,
		steps[len(steps)-1]+"\ndef wipe(db):\n    db.execute(\"DROP TABLE sessions\")\n")

	c := newClassifier()
	prevTier := model.TierSafe
	prevScore := 0.0
	for i, step := range steps {
		result := c.Classify(handlerOriginal, step, "core/handlers.py")
		assert.True(t, result.Tier.AtLeast(prevTier),
			"step %d: tier %s dropped below %s", i, result.Tier, prevTier)
		assert.GreaterOrEqual(t, result.Score, prevScore, "step %d", i)
		prevTier = result.Tier
		prevScore = result.Score
	}
	assert.True(t, prevTier.AtLeast(model.TierSensitive))
}

func TestClassify_Deterministic(t *testing.T) {
	modified := handlerOriginal + "\ndef extra():\n    return subprocess.run([\"ls\"])\n"
	c := newClassifier()
	first := c.Classify(handlerOriginal, modified, "core/handlers.py")
	for i := 0; i < 10; i++ {
		again := c.Classify(handlerOriginal, modified, "core/handlers.py")
		assert.Equal(t, first, again)
	}
}

func TestClassify_ScoreClampedAt100(t *testing.T) {
	original := `import hashlib
import ssl
import socket

def verify_password(password):
    return hashlib.sha256(password).hexdigest()

def open_socket(host):
    return socket.create_connection((host, 443))

def drop_table(db):
    db.execute("DROP TABLE users")

def run(cmd):
    return subprocess.run(cmd, shell=True)
`
	c := newClassifier()
	result := c.Classify(original, "def nothing():\n    pass\n", "core/security_core.py")
	assert.LessOrEqual(t, result.Score, 100.0)
	assert.Equal(t, model.TierCritical, result.Tier)
}

func TestClassify_WeightOverride(t *testing.T) {
	rules := classifier.DefaultRuleset()
	rules.Weights = map[string]float64{"code_change": 50}

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
	c := classifier.New(rules)
	result := c.Classify(handlerOriginal, modified, "core/handlers.py")
	require.Equal(t, 50.0, result.Score)
	assert.Equal(t, model.TierSensitive, result.Tier)
}

func TestClassify_NewFileHasNoSizeSignal(t *testing.T) {
	c := newClassifier()
	result := c.Classify("", "def fresh():\n    return 1\n", "core/fresh.py")
	// Only the code-change signal fires for brand new benign content.
	assert.Equal(t, model.TierCaution, result.Tier)
	for _, sig := range result.Signals {
		assert.NotEqual(t, classifier.SignalSizeDisparity, sig.Name)
	}
}
