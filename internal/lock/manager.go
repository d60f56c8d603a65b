// Package lock provides per-target-file lease locks so at most one
// apply mutates a given file at a time, across processes. Lock files
// live under .selfmod/locks and expire after a TTL so a crashed holder
// cannot wedge the pipeline.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saraphina-project/selfmod/pkg/errclass"
)

// DefaultLeaseTTL bounds how long a crashed holder can block a file.
const DefaultLeaseTTL = 2 * time.Minute

// Record is the on-disk lock content.
type Record struct {
	FilePath    string    `json:"file_path"`
	HolderNonce string    `json:"holder_nonce"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Purpose     string    `json:"purpose,omitempty"`
}

// IsExpired returns true if the lease has lapsed.
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Manager handles per-file lock operations.
type Manager struct {
	repoRoot string
	leaseTTL time.Duration
	mu       sync.Mutex
}

// NewManager creates a lock manager rooted at the repository.
func NewManager(repoRoot string) *Manager {
	return &Manager{repoRoot: repoRoot, leaseTTL: DefaultLeaseTTL}
}

// Acquire takes the lease lock for a target file. An unexpired foreign
// lock yields ErrLockConflict; an expired one is stolen.
func (m *Manager) Acquire(filePath, purpose string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lockPath := m.lockPath(filePath)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		// O_CREAT|O_EXCL makes acquisition atomic.
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			now := time.Now().UTC()
			rec := &Record{
				FilePath:    filePath,
				HolderNonce: uuid.NewString(),
				AcquiredAt:  now,
				ExpiresAt:   now.Add(m.leaseTTL),
				Purpose:     purpose,
			}
			if werr := m.writeLock(file, rec); werr != nil {
				file.Close()
				os.Remove(lockPath)
				return nil, werr
			}
			file.Close()
			return rec, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		rec, readErr := m.readLock(lockPath)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue // holder released between our attempts
			}
			return nil, fmt.Errorf("read existing lock: %w", readErr)
		}
		if !rec.IsExpired(time.Now()) {
			return nil, errclass.ErrLockConflict.WithMessagef("file %s is locked for %q", filePath, rec.Purpose)
		}
		// Expired: steal by removing and retrying the exclusive create.
		if rmErr := os.Remove(lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("remove expired lock: %w", rmErr)
		}
	}

	return nil, errclass.ErrLockConflict.WithMessagef("file %s is contended", filePath)
}

// Release drops the lock if the caller still holds it.
func (m *Manager) Release(rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lockPath := m.lockPath(rec.FilePath)
	current, err := m.readLock(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errclass.ErrLockNotHeld.WithMessage("no lock held")
		}
		return fmt.Errorf("read lock: %w", err)
	}
	if current.HolderNonce != rec.HolderNonce {
		return errclass.ErrLockNotHeld.WithMessagef("lock for %s held by another session", rec.FilePath)
	}

	if err := os.Remove(lockPath); err != nil {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}

// lockPath hashes the target path so any file in the repo maps to a
// flat, collision-free lock file name.
func (m *Manager) lockPath(filePath string) string {
	sum := sha256.Sum256([]byte(filePath))
	name := hex.EncodeToString(sum[:8]) + ".json"
	return filepath.Join(m.repoRoot, ".selfmod", "locks", name)
}

func (m *Manager) writeLock(file *os.File, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}
	return file.Sync()
}

func (m *Manager) readLock(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse lock: %w", err)
	}
	return &rec, nil
}
