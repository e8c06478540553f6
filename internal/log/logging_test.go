// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	prevLogger := globalLogger.Load()
	prevLevel := level.Level()
	t.Cleanup(func() {
		SetLogger(prevLogger)
		level.Set(prevLevel)
	})

	buf := &bytes.Buffer{}
	SetLogger(newTextLogger(buf))

	require.NoError(t, SetLevel("warn"))
	Infof("resolved %s", "libc.so.6")
	Warnf("stale mapping %#x", 0x1000)
	assert.NotContains(t, buf.String(), "libc.so.6")
	assert.Contains(t, buf.String(), "stale mapping 0x1000")

	require.NoError(t, SetLevel("debug"))
	Debugf("adopted cached object for %s", "libm.so.6")
	assert.Contains(t, buf.String(), "adopted cached object for libm.so.6")
	assert.Equal(t, slog.LevelDebug, level.Level())

	require.Error(t, SetLevel("chatty"))
}
