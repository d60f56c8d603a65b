// Package workspace initializes and discovers the pipeline's state
// directory. A workspace is any directory tree with a .selfmod/ dir at
// its root; all pipeline state (config, store, backups, locks) lives
// under it.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/saraphina-project/selfmod/pkg/config"
	"github.com/saraphina-project/selfmod/pkg/errclass"
	"github.com/saraphina-project/selfmod/pkg/fsutil"
)

const (
	FormatVersion     = 1
	DirName           = ".selfmod"
	FormatVersionFile = "format_version"
	WorkspaceIDFile   = "workspace_id"
)

// Workspace represents an initialized state directory.
type Workspace struct {
	Root          string
	FormatVersion int
	WorkspaceID   string
}

// Init creates the .selfmod/ layout under root and writes the default
// configuration. Initializing an already-initialized root is an error.
func Init(root string) (*Workspace, error) {
	stateDir := filepath.Join(root, DirName)
	if _, err := os.Stat(stateDir); err == nil {
		return nil, fmt.Errorf("%s already contains a %s directory", root, DirName)
	}

	dirs := []string{
		stateDir,
		filepath.Join(stateDir, "backups"),
		filepath.Join(stateDir, "locks"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(filepath.Join(stateDir, FormatVersionFile),
		[]byte(strconv.Itoa(FormatVersion)+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("write format_version: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(filepath.Join(stateDir, WorkspaceIDFile),
		[]byte(id+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("write workspace_id: %w", err)
	}

	if err := config.Save(root, config.Default()); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}

	if err := fsutil.FsyncDir(root); err != nil {
		return nil, fmt.Errorf("fsync workspace root: %w", err)
	}

	return &Workspace{Root: root, FormatVersion: FormatVersion, WorkspaceID: id}, nil
}

// Discover walks up from path to find the workspace root (the directory
// containing .selfmod/).
func Discover(path string) (*Workspace, error) {
	dir := path
	for {
		stateDir := filepath.Join(dir, DirName)
		if info, err := os.Stat(stateDir); err == nil && info.IsDir() {
			version, err := readFormatVersion(stateDir)
			if err != nil {
				return nil, err
			}
			if version > FormatVersion {
				return nil, errclass.ErrFormatUnsupported.WithMessagef(
					"workspace format version %d > supported %d", version, FormatVersion)
			}
			id, _ := readWorkspaceID(stateDir)
			return &Workspace{Root: dir, FormatVersion: version, WorkspaceID: id}, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("no workspace found (no %s/ in parent directories)", DirName)
		}
		dir = parent
	}
}

func readFormatVersion(stateDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, FormatVersionFile))
	if err != nil {
		// Stores created before the version file existed are format 1.
		if os.IsNotExist(err) {
			return FormatVersion, nil
		}
		return 0, fmt.Errorf("read format_version: %w", err)
	}
	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid format_version: %w", err)
	}
	return version, nil
}

func readWorkspaceID(stateDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, WorkspaceIDFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
