package adb

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

const dumpDir = "/data/local/tmp"

// Tree reads the active window through `uiautomator dump`.
type Tree struct {
	runner Runner
	seq    atomic.Uint64
	logger *zap.Logger
}

// NewTree creates a Tree.
func NewTree(runner Runner, logger *zap.Logger) *Tree {
	return &Tree{runner: runner, logger: logger}
}

// RootInActiveWindow dumps the hierarchy and returns its root. The caller must
// Recycle the root to delete the dump from the device.
func (t *Tree) RootInActiveWindow(ctx context.Context) (domain.AccessibleNode, error) {
	path := fmt.Sprintf("%s/memclear-%d.xml", dumpDir, t.seq.Add(1))

	// Dump and read in one shell call; cat only runs if the dump succeeded
	out, err := runWithRetry(ctx, t.runner, "shell", fmt.Sprintf("uiautomator dump %s >/dev/null && cat %s", path, path))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dump UI after %d attempts", maxRetries)
	}

	h, err := parseHierarchy(out)
	if err != nil {
		t.runner.Run(ctx, "shell", "rm", "-f", path)
		return nil, err
	}

	raw := &h.Nodes[0]
	if len(h.Nodes) > 1 {
		raw = &uiNode{Class: "android.view.View", Bounds: "[0,0][0,0]", Nodes: h.Nodes}
	}
	return &node{raw: raw, tree: t, dump: path, isRoot: true}, nil
}

var _ domain.AccessibilityTree = (*Tree)(nil)
