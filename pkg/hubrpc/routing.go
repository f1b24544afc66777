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
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultDialTimeout is the routing contract's default connect/ping bound
// (spec.md §4.6: "attempt to connect with a bounded timeout (default 1s)").
const DefaultDialTimeout = 1 * time.Second

// ErrNoServer signals the consumer-side routing decision from spec.md §4.6:
// no socket file, connection refused, a ping timeout, or a malformed ping
// reply. Callers fall back to an in-process hub without deleting anything
// at socketPath — a socket file with no listener is a stale artifact of a
// crashed server, not evidence of corruption.
var ErrNoServer = errors.New("hubrpc: no hub server listening")

// ErrProtocolMismatch is returned when a live server answers ping with a
// different major protocol version. Unlike ErrNoServer this is not a
// fall-back signal: spec.md §4.6 says clients "refuse" a mismatched server,
// so the caller should surface this rather than silently using an
// in-process hub that may disagree with the running server about wire
// semantics.
type ErrProtocolMismatch struct {
	ServerVersion int
	ClientVersion int
}

func (e *ErrProtocolMismatch) Error() string {
	return fmt.Sprintf("hubrpc: server protocol version %d incompatible with client %d", e.ServerVersion, e.ClientVersion)
}

// Connect implements the routing contract: if socketPath doesn't exist,
// return ErrNoServer immediately; otherwise dial and ping within timeout,
// returning ErrNoServer on any dial or ping failure, and an
// *ErrProtocolMismatch when the ping reports a different ProtocolVersion.
func Connect(ctx context.Context, socketPath string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	if _, err := os.Stat(socketPath); err != nil {
		return nil, ErrNoServer
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := Dial(dialCtx, socketPath)
	if err != nil {
		return nil, ErrNoServer
	}

	pingCtx, cancel2 := context.WithTimeout(ctx, timeout)
	defer cancel2()
	res, err := client.Ping(pingCtx)
	if err != nil {
		_ = client.Close()
		return nil, ErrNoServer
	}

	if res.ProtocolVersion != ProtocolVersion {
		_ = client.Close()
		return nil, &ErrProtocolMismatch{ServerVersion: res.ProtocolVersion, ClientVersion: ProtocolVersion}
	}

	return client, nil
}
