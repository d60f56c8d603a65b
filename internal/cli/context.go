package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/saraphina-project/selfmod/internal/controller"
	"github.com/saraphina-project/selfmod/internal/workspace"
	"github.com/saraphina-project/selfmod/pkg/color"
)

// requireWorkspace discovers the workspace from CWD, or exits with error.
func requireWorkspace() *workspace.Workspace {
	cwd, err := os.Getwd()
	if err != nil {
		fmtErr("cannot get current directory: %v", err)
		os.Exit(1)
	}
	ws, err := workspace.Discover(cwd)
	if err != nil {
		fmtErr("not a selfmod workspace: %v (run %s first)", err, color.Highlight("selfmod init"))
		os.Exit(1)
	}
	return ws
}

// requireController discovers the workspace and opens the pipeline over
// it, or exits with error. Callers own Close.
func requireController(ctx context.Context) *controller.Controller {
	ws := requireWorkspace()
	ctrl, err := controller.New(ctx, ws.Root)
	if err != nil {
		fmtErr("open pipeline: %v", err)
		os.Exit(1)
	}
	return ctrl
}

func fmtErr(format string, args ...any) {
	prefix := "selfmod: "
	if color.Enabled() {
		prefix = color.Error("selfmod:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
