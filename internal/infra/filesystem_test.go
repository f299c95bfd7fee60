package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandHome(t *testing.T) {
	tests := map[string]string{
		"~":                   "/home/u",
		"~/.memclear":         "/home/u/.memclear",
		"/var/lib/memclear":   "/var/lib/memclear",
		"relative/~/not-home": "relative/~/not-home",
	}
	for in, want := range tests {
		assert.Equal(t, want, expandHome(in, "/home/u"), in)
	}
}

func TestLayout(t *testing.T) {
	l := Layout{DataDir: "/data"}
	assert.Equal(t, "/data/memclear.pid", l.PIDFile())
	assert.Equal(t, "/data/memclear.log", l.LogFile())
	assert.Equal(t, "/data/batch.lock", l.BatchLock())
}
