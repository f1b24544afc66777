// Copyright 2025 The Devac Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package hubrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devac-project/devac/internal/errs"
)

var errConnClosed = errors.New("hubrpc: connection closed")

// Client is a connection to one hub server over a Unix-domain socket.
// Requests are serialized: the wire format carries one in-flight request
// per connection at a time, matching the server's per-connection ordering
// guarantee.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *lineReader
}

// Dial opens a connection to socketPath. It does not send a ping; callers
// that need the routing decision in spec.md §4.6 should use Connect
// instead.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, reader: newLineReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return errs.NewIPCError("could not encode request params", err)
	}
	reqBytes, err := json.Marshal(frame{ID: id, Method: method, Params: paramsRaw})
	if err != nil {
		return errs.NewIPCError("could not encode request", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.Write(append(reqBytes, '\n')); err != nil {
		return errs.NewIPCError("could not write request", err)
	}

	line, err := c.reader.readLine()
	if err != nil {
		if errors.Is(err, errConnClosed) {
			return errs.NewIPCError("hub connection closed", err)
		}
		return errs.NewIPCError("could not read response", err)
	}

	var resp reply
	if err := json.Unmarshal(line, &resp); err != nil {
		return errs.NewIPCError("malformed response from hub", err)
	}
	if resp.ID != id {
		return errs.NewIPCError(fmt.Sprintf("response id %q does not match request id %q", resp.ID, id), nil)
	}
	if resp.Error != nil {
		return errs.NewIPCError(resp.Error.Message, nil)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return errs.NewIPCError("could not decode result", err)
		}
	}
	return nil
}

// Ping answers the version-negotiation handshake.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	var res PingResult
	err := c.call(ctx, "ping", struct{}{}, &res)
	return res, err
}

// Query runs sql against the hub's query engine.
func (c *Client) Query(ctx context.Context, params QueryParams) (QueryResult, error) {
	var res QueryResult
	err := c.call(ctx, "query", params, &res)
	return res, err
}

// ListRepos returns every registered repo and its packages.
func (c *Client) ListRepos(ctx context.Context) ([]RepoInfo, error) {
	var res []RepoInfo
	err := c.call(ctx, "listRepos", struct{}{}, &res)
	return res, err
}

// Register indexes the packages under repoPath into the hub.
func (c *Client) Register(ctx context.Context, repoPath string) (RegisterResult, error) {
	var res RegisterResult
	err := c.call(ctx, "register", RegisterParams{RepoPath: repoPath}, &res)
	return res, err
}

// Refresh rediscovers packages under an already-registered repo.
func (c *Client) Refresh(ctx context.Context, repoID string) (RefreshResult, error) {
	var res RefreshResult
	err := c.call(ctx, "refresh", RefreshParams{RepoID: repoID}, &res)
	return res, err
}

// PushValidationErrors stores issues for a package as a side channel.
func (c *Client) PushValidationErrors(ctx context.Context, repoID, packagePath string, issues []string) error {
	return c.call(ctx, "pushValidationErrors", PushValidationErrorsParams{
		RepoID:      repoID,
		PackagePath: packagePath,
		Errors:      issues,
	}, nil)
}
