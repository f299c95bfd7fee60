package uidriver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

// fakeNode implements domain.AccessibleNode for testing
type fakeNode struct {
	text      string
	clickable bool
	enabled   bool
	clickErr  error
	children  []*fakeNode
	clicked   *[]string
	recycled  *int
}

func (n *fakeNode) Text() string      { return n.text }
func (n *fakeNode) IsClickable() bool { return n.clickable }
func (n *fakeNode) IsEnabled() bool   { return n.enabled }
func (n *fakeNode) Recycle()          { *n.recycled++ }

func (n *fakeNode) Click(ctx context.Context) error {
	if n.clickErr != nil {
		return n.clickErr
	}
	*n.clicked = append(*n.clicked, n.text)
	return nil
}

// FindByText matches substrings the way the platform does.
func (n *fakeNode) FindByText(text string) []domain.AccessibleNode {
	var out []domain.AccessibleNode
	var walk func(*fakeNode)
	walk = func(c *fakeNode) {
		if strings.Contains(strings.ToLower(c.text), strings.ToLower(text)) {
			out = append(out, c)
		}
		for _, child := range c.children {
			walk(child)
		}
	}
	for _, c := range n.children {
		walk(c)
	}
	return out
}

type fakeTree struct {
	root *fakeNode
	err  error
}

func (t *fakeTree) RootInActiveWindow(ctx context.Context) (domain.AccessibleNode, error) {
	if t.err != nil {
		return nil, t.err
	}
	if t.root == nil {
		return nil, nil
	}
	return t.root, nil
}

type harness struct {
	clicked  []string
	recycled int
}

func (h *harness) node(text string, clickable, enabled bool, children ...*fakeNode) *fakeNode {
	return &fakeNode{text: text, clickable: clickable, enabled: enabled, children: children, clicked: &h.clicked, recycled: &h.recycled}
}

func TestClickLabeled(t *testing.T) {
	tests := []struct {
		name        string
		build       func(h *harness) *fakeNode
		labels      []string
		want        bool
		wantClicked []string
	}{
		{
			name: "clicks english force stop",
			build: func(h *harness) *fakeNode {
				return h.node("", false, true,
					h.node("Uninstall", true, true),
					h.node("Force stop", true, true))
			},
			labels:      ForceStopLabels,
			want:        true,
			wantClicked: []string{"Force stop"},
		},
		{
			name: "skips disabled button",
			build: func(h *harness) *fakeNode {
				return h.node("", false, true, h.node("Force stop", true, false))
			},
			labels: ForceStopLabels,
			want:   false,
		},
		{
			name: "requires exact text",
			build: func(h *harness) *fakeNode {
				return h.node("", false, true, h.node("Force stop the app?", true, true))
			},
			labels: []string{"Force stop"},
			want:   false,
		},
		{
			name: "label order wins over tree order",
			build: func(h *harness) *fakeNode {
				return h.node("", false, true,
					h.node("Force stop", true, true),
					h.node("OK", true, true))
			},
			labels:      ConfirmLabels,
			want:        true,
			wantClicked: []string{"OK"},
		},
		{
			name: "korean locale",
			build: func(h *harness) *fakeNode {
				return h.node("", false, true, h.node("강제 종료", true, true))
			},
			labels:      ForceStopLabels,
			want:        true,
			wantClicked: []string{"강제 종료"},
		},
		{
			name: "non clickable label then clickable candidate",
			build: func(h *harness) *fakeNode {
				return h.node("", false, true,
					h.node("OK", false, true),
					h.node("确定", true, true))
			},
			labels:      ConfirmLabels,
			want:        true,
			wantClicked: []string{"确定"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &harness{}
			d := New(&fakeTree{root: tt.build(h)}, zap.NewNop())

			got := d.ClickLabeled(context.Background(), tt.labels)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantClicked, h.clicked)
		})
	}
}

func TestClickLabeled_RecyclesEveryNode(t *testing.T) {
	h := &harness{}
	root := h.node("", false, true,
		h.node("Force stop", true, false),
		h.node("FORCE STOP", true, true))
	d := New(&fakeTree{root: root}, zap.NewNop())

	assert.True(t, d.ClickLabeled(context.Background(), ForceStopLabels))
	// root + both matches for "Force stop" (case-insensitive find) + both for "FORCE STOP"
	assert.Equal(t, 5, h.recycled)
}

func TestClickLabeled_ClickErrorTriesNext(t *testing.T) {
	h := &harness{}
	broken := h.node("OK", true, true)
	broken.clickErr = errors.New("input tap failed")
	root := h.node("", false, true, broken, h.node("Force stop", true, true))
	d := New(&fakeTree{root: root}, zap.NewNop())

	assert.True(t, d.ClickLabeled(context.Background(), ConfirmLabels))
	assert.Equal(t, []string{"Force stop"}, h.clicked)
}

func TestClickLabeled_NoWindow(t *testing.T) {
	tests := []struct {
		name string
		tree *fakeTree
	}{
		{name: "no active window", tree: &fakeTree{err: domain.ErrNoActiveWindow}},
		{name: "dump error", tree: &fakeTree{err: errors.New("adb offline")}},
		{name: "nil root", tree: &fakeTree{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.tree, zap.NewNop())
			assert.False(t, d.ClickLabeled(context.Background(), ForceStopLabels))
		})
	}
}
