// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Sqlite(t *testing.T) {
	c, err := Open(Config{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.DB())
	assert.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 1, c.Stats().MaxOpenConnections)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle", DSN: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestConn_CloseIdempotent(t *testing.T) {
	c, err := Open(Config{Driver: "sqlite", DSN: ":memory:"}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestOpen_HealthCheckStopsOnClose(t *testing.T) {
	c, err := Open(Config{
		Driver:              "sqlite",
		DSN:                 ":memory:",
		HealthCheckInterval: time.Millisecond,
	}, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.Close())
}
