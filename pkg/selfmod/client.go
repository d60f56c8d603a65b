package selfmod

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/saraphina-project/selfmod/internal/audit"
	"github.com/saraphina-project/selfmod/internal/controller"
	"github.com/saraphina-project/selfmod/internal/store"
	"github.com/saraphina-project/selfmod/internal/verify"
	"github.com/saraphina-project/selfmod/internal/workspace"
	"github.com/saraphina-project/selfmod/pkg/model"
)

// Client provides high-level pipeline operations on one workspace.
type Client struct {
	root string
	ctrl *controller.Controller
}

// Init initializes a new workspace at path and opens a client over it.
func Init(ctx context.Context, path string) (*Client, error) {
	ws, err := workspace.Init(path)
	if err != nil {
		return nil, fmt.Errorf("selfmod init: %w", err)
	}
	return open(ctx, ws.Root)
}

// Open opens an existing workspace at or above path.
func Open(ctx context.Context, path string) (*Client, error) {
	ws, err := workspace.Discover(path)
	if err != nil {
		return nil, fmt.Errorf("selfmod open: %w", err)
	}
	return open(ctx, ws.Root)
}

// OpenOrInit opens an existing workspace, or initializes one at path if
// none exists.
func OpenOrInit(ctx context.Context, path string) (*Client, error) {
	stateDir := filepath.Join(path, workspace.DirName)
	if info, err := os.Stat(stateDir); err == nil && info.IsDir() {
		return Open(ctx, path)
	}
	return Init(ctx, path)
}

func open(ctx context.Context, root string) (*Client, error) {
	ctrl, err := controller.New(ctx, root)
	if err != nil {
		return nil, err
	}
	return &Client{root: root, ctrl: ctrl}, nil
}

// Close releases the client's store.
func (c *Client) Close() error {
	return c.ctrl.Close()
}

// Root returns the workspace root directory.
func (c *Client) Root() string {
	return c.root
}

// Propose files a classified change proposal for filePath. The path may
// be workspace-relative or absolute, but must resolve inside the
// workspace.
func (c *Client) Propose(ctx context.Context, filePath, modifiedContent, rationale string) (*controller.ProposeResult, error) {
	return c.ctrl.Propose(ctx, c.resolve(filePath), modifiedContent, rationale)
}

// Apply applies a pending proposal. phrase may be empty for SAFE-tier
// proposals; higher tiers need the exact acknowledgment phrase from the
// proposal's approval request.
func (c *Client) Apply(ctx context.Context, patchID, phrase string) (*controller.ApplyOutcome, error) {
	return c.ctrl.Apply(ctx, patchID, phrase)
}

// Deny terminally rejects a pending proposal.
func (c *Client) Deny(ctx context.Context, patchID string) error {
	return c.ctrl.Deny(ctx, patchID)
}

// Get returns a stored proposal by patch id.
func (c *Client) Get(ctx context.Context, patchID string) (*store.Proposal, error) {
	return c.ctrl.Get(ctx, patchID)
}

// Pending lists unresolved proposals, oldest first.
func (c *Client) Pending(ctx context.Context) ([]*store.Proposal, error) {
	return c.ctrl.Pending(ctx)
}

// History queries the audit trail.
func (c *Client) History(ctx context.Context, f audit.Filter) ([]*model.AuditRecord, error) {
	return c.ctrl.History(ctx, f)
}

// Stats aggregates audit statistics.
func (c *Client) Stats(ctx context.Context) (*model.Statistics, error) {
	return c.ctrl.Stats(ctx)
}

// VerifyChain checks the audit trail's hash chain end to end.
func (c *Client) VerifyChain(ctx context.Context) error {
	return c.ctrl.VerifyChain(ctx)
}

// Verifier returns an integrity verifier sharing this client's store.
func (c *Client) Verifier() *verify.Verifier {
	return c.ctrl.Verifier()
}

func (c *Client) resolve(filePath string) string {
	if filepath.IsAbs(filePath) {
		return filePath
	}
	return filepath.Join(c.root, filePath)
}
