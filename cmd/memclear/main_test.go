package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nomor/memclear/internal/domain"
)

// countingLister records which detection entry points were used.
type countingLister struct {
	calls []string
}

func (c *countingLister) List(context.Context) []domain.AppRecord {
	c.calls = append(c.calls, "list")
	return []domain.AppRecord{{PackageID: "com.cached"}}
}

func (c *countingLister) ListForceRefresh(context.Context) []domain.AppRecord {
	c.calls = append(c.calls, "list-refresh")
	return []domain.AppRecord{{PackageID: "com.fresh"}}
}

func (c *countingLister) Count(context.Context) int {
	c.calls = append(c.calls, "count")
	return 1
}

func (c *countingLister) CountForceRefresh(context.Context) int {
	c.calls = append(c.calls, "count-refresh")
	return 2
}

func TestRunningApps_OnePassPerInvocation(t *testing.T) {
	ctx := context.Background()

	d := &countingLister{}
	assert.Equal(t, "com.cached", runningApps(ctx, d, false)[0].PackageID)
	assert.Equal(t, []string{"list"}, d.calls)

	d = &countingLister{}
	assert.Equal(t, "com.fresh", runningApps(ctx, d, true)[0].PackageID)
	assert.Equal(t, []string{"list-refresh"}, d.calls)
}

func TestRunningCount_OnePassPerInvocation(t *testing.T) {
	ctx := context.Background()

	d := &countingLister{}
	assert.Equal(t, 1, runningCount(ctx, d, false))
	assert.Equal(t, []string{"count"}, d.calls)

	d = &countingLister{}
	assert.Equal(t, 2, runningCount(ctx, d, true))
	assert.Equal(t, []string{"count-refresh"}, d.calls)
}
