// Package uidriver clicks labelled buttons in the active window's accessible tree.
package uidriver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

// Label candidates, tried in order. Settings captions are localized.
var (
	ForceStopLabels = []string{"Force stop", "FORCE STOP", "강제 종료", "强制停止"}
	ConfirmLabels   = []string{"OK", "Force stop", "FORCE STOP", "확인", "确定"}
)

// Driver is the assistive-input facade used by the force-stop controller.
type Driver struct {
	tree   domain.AccessibilityTree
	logger *zap.Logger
}

// New creates a Driver over tree.
func New(tree domain.AccessibilityTree, logger *zap.Logger) *Driver {
	return &Driver{tree: tree, logger: logger}
}

// ClickLabeled clicks the first clickable, enabled node whose text equals one of
// labels, trying labels in order. Returns false when nothing was clicked.
func (d *Driver) ClickLabeled(ctx context.Context, labels []string) bool {
	root, err := d.tree.RootInActiveWindow(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoActiveWindow) {
			d.logger.Warn("failed to read accessible tree", zap.Error(err))
		}
		return false
	}
	if root == nil {
		return false
	}
	defer root.Recycle()

	for _, label := range labels {
		if d.clickFirst(ctx, root, label) {
			return true
		}
	}
	d.logger.Debug("no matching node", zap.Strings("labels", labels))
	return false
}

func (d *Driver) clickFirst(ctx context.Context, root domain.AccessibleNode, label string) bool {
	nodes := root.FindByText(label)
	defer func() {
		for _, n := range nodes {
			n.Recycle()
		}
	}()

	for _, n := range nodes {
		if n.Text() != label || !n.IsClickable() || !n.IsEnabled() {
			continue
		}
		if err := n.Click(ctx); err != nil {
			d.logger.Warn("click failed", zap.String("label", label), zap.Error(err))
			continue
		}
		d.logger.Info("clicked", zap.String("label", label))
		return true
	}
	return false
}

// Clicker is what the controller needs from a Driver.
type Clicker interface {
	ClickLabeled(ctx context.Context, labels []string) bool
}

var _ Clicker = (*Driver)(nil)
