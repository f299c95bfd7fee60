package adb

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
)

// uiNode is one <node> of a uiautomator dump.
type uiNode struct {
	XMLName     xml.Name `xml:"node"`
	Text        string   `xml:"text,attr"`
	ResourceID  string   `xml:"resource-id,attr"`
	Class       string   `xml:"class,attr"`
	Package     string   `xml:"package,attr"`
	ContentDesc string   `xml:"content-desc,attr"`
	Clickable   string   `xml:"clickable,attr"`
	Enabled     string   `xml:"enabled,attr"`
	Bounds      string   `xml:"bounds,attr"`
	Nodes       []uiNode `xml:"node"`
}

type uiHierarchy struct {
	XMLName xml.Name `xml:"hierarchy"`
	Nodes   []uiNode `xml:"node"`
}

// parseHierarchy decodes a dump, tolerating adb noise around the document.
func parseHierarchy(out string) (*uiHierarchy, error) {
	start := strings.Index(out, "<?xml")
	if start == -1 {
		start = strings.Index(out, "<hierarchy")
	}
	if start == -1 {
		return nil, domain.ErrNoActiveWindow
	}
	out = out[start:]
	if end := strings.LastIndex(out, ">"); end != -1 {
		out = out[:end+1]
	}

	var h uiHierarchy
	if err := xml.Unmarshal([]byte(out), &h); err != nil {
		return nil, errors.Wrapf(err, "failed to parse UI XML (length: %d)", len(out))
	}
	if len(h.Nodes) == 0 {
		return nil, domain.ErrNoActiveWindow
	}
	return &h, nil
}

// node adapts a uiNode to domain.AccessibleNode.
type node struct {
	raw    *uiNode
	tree   *Tree
	dump   string // device path of the dump; set on the root only
	isRoot bool
}

func (n *node) Text() string {
	if n.raw.Text != "" {
		return n.raw.Text
	}
	return n.raw.ContentDesc
}

func (n *node) IsClickable() bool { return n.raw.Clickable == "true" }
func (n *node) IsEnabled() bool   { return n.raw.Enabled != "false" }

// Click taps the centre of the node's bounds.
func (n *node) Click(ctx context.Context) error {
	x, y, ok := parseBounds(n.raw.Bounds)
	if !ok {
		return errors.Errorf("invalid bounds format: %s", n.raw.Bounds)
	}
	_, err := n.tree.runner.Run(ctx, "shell", "input", "tap", fmt.Sprint(x), fmt.Sprint(y))
	return errors.Wrap(err, "tap failed")
}

// FindByText returns descendants whose text or content description contains
// text, case-insensitively.
func (n *node) FindByText(text string) []domain.AccessibleNode {
	needle := strings.ToLower(text)
	var out []domain.AccessibleNode
	var walk func(u *uiNode)
	walk = func(u *uiNode) {
		if strings.Contains(strings.ToLower(u.Text), needle) ||
			(u.Text == "" && u.ContentDesc != "" && strings.Contains(strings.ToLower(u.ContentDesc), needle)) {
			out = append(out, &node{raw: u, tree: n.tree})
		}
		for i := range u.Nodes {
			walk(&u.Nodes[i])
		}
	}
	for i := range n.raw.Nodes {
		walk(&n.raw.Nodes[i])
	}
	return out
}

// Recycle removes the dump file from the device when called on the root.
func (n *node) Recycle() {
	if !n.isRoot || n.dump == "" {
		return
	}
	if _, err := n.tree.runner.Run(context.Background(), "shell", "rm", "-f", n.dump); err != nil {
		n.tree.logger.Debug("failed to remove ui dump", zap.String("path", n.dump), zap.Error(err))
	}
	n.dump = ""
}
