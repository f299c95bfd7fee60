// Package adb drives an Android device over the Android Debug Bridge and
// implements the host ports of the domain package.
package adb

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Runner executes one adb invocation and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// Client runs the adb binary against one device.
type Client struct {
	adbPath string
	serial  string
	logger  *zap.Logger
}

// NewClient creates a Client. An empty serial lets adb pick the only device.
func NewClient(adbPath, serial string, logger *zap.Logger) *Client {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &Client{adbPath: adbPath, serial: serial, logger: logger}
}

// Run executes adb with args.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	full := args
	if c.serial != "" {
		full = append([]string{"-s", c.serial}, args...)
	}

	cmd := exec.CommandContext(ctx, c.adbPath, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("adb command",
		zap.Strings("args", args),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return stdout.String(), errors.Wrapf(err, "adb %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

// runWithRetry retries transient failures such as a busy uiautomator.
func runWithRetry(ctx context.Context, r Runner, args ...string) (string, error) {
	return retry.DoWithData(func() (string, error) {
		return r.Run(ctx, args...)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
}

// shellQuote quotes s for the device's /system/bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ Runner = (*Client)(nil)
