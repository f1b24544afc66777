// Copyright 2025 The Devac Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package hubrpc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devac-project/devac/pkg/hub"
)

func makeTestPackage(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".devac", "seed", "base"), 0o755)
}

func startTestServer(t *testing.T, h *hub.Hub) (socketPath string, stop func()) {
	t.Helper()
	socketPath = filepath.Join(t.TempDir(), "mcp.sock")
	srv := NewServer(h, "test-1.0.0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, socketPath) }()

	require.Eventually(t, func() bool {
		_, err := Dial(context.Background(), socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	return socketPath, func() {
		cancel()
		_ = srv.Close()
		<-done
	}
}

func TestPingReportsVersion(t *testing.T) {
	socketPath, stop := startTestServer(t, hub.New())
	defer stop()

	c, err := Dial(context.Background(), socketPath)
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Ping(context.Background())
	require.NoError(t, err)
	require.Equal(t, "test-1.0.0", res.ServerVersion)
	require.Equal(t, ProtocolVersion, res.ProtocolVersion)
}

func TestRegisterThenListReposRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, makeTestPackage(filepath.Join(root, "alpha")))

	socketPath, stop := startTestServer(t, hub.New())
	defer stop()

	c, err := Dial(context.Background(), socketPath)
	require.NoError(t, err)
	defer c.Close()

	regRes, err := c.Register(context.Background(), root)
	require.NoError(t, err)
	require.Contains(t, regRes.Packages, "alpha")

	repos, err := c.ListRepos(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 1)
	require.Equal(t, regRes.RepoID, repos[0].RepoID)
	require.Contains(t, repos[0].Packages, "alpha")
}

func TestUnknownMethodReturnsApplicationError(t *testing.T) {
	socketPath, stop := startTestServer(t, hub.New())
	defer stop()

	c, err := Dial(context.Background(), socketPath)
	require.NoError(t, err)
	defer c.Close()

	err = c.call(context.Background(), "notAMethod", struct{}{}, nil)
	require.Error(t, err)
}

func TestPushValidationErrorsRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, makeTestPackage(filepath.Join(root, "alpha")))

	h := hub.New()
	socketPath, stop := startTestServer(t, h)
	defer stop()

	c, err := Dial(context.Background(), socketPath)
	require.NoError(t, err)
	defer c.Close()

	regRes, err := c.Register(context.Background(), root)
	require.NoError(t, err)

	require.NoError(t, c.PushValidationErrors(context.Background(), regRes.RepoID, "alpha", []string{"boom"}))
	require.Equal(t, []string{"boom"}, h.ValidationErrors(regRes.RepoID, "alpha"))
}

func TestConnectReturnsErrNoServerWhenSocketMissing(t *testing.T) {
	_, err := Connect(context.Background(), filepath.Join(t.TempDir(), "ghost.sock"), 100*time.Millisecond)
	require.True(t, errors.Is(err, ErrNoServer))
}

func TestConnectSucceedsAgainstLiveServer(t *testing.T) {
	socketPath, stop := startTestServer(t, hub.New())
	defer stop()

	c, err := Connect(context.Background(), socketPath, time.Second)
	require.NoError(t, err)
	defer c.Close()
}
