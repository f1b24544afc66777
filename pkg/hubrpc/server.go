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
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/devac-project/devac/internal/errs"
	"github.com/devac-project/devac/pkg/columnar"
	"github.com/devac-project/devac/pkg/hub"
	"github.com/devac-project/devac/pkg/model"
	"github.com/devac-project/devac/pkg/query"
)

const defaultRequestTimeout = 30 * time.Second

// Server accepts connections on a Unix-domain socket and dispatches the six
// methods spec.md §4.6/§6.3 names against one in-process Hub.
type Server struct {
	hub            *hub.Hub
	engine         *query.Engine
	serverVersion  string
	requestTimeout time.Duration

	listener net.Listener
}

// NewServer wraps h (and the query engine it backs) for IPC serving.
// serverVersion is reported verbatim on ping.
func NewServer(h *hub.Hub, serverVersion string) *Server {
	return &Server{
		hub:            h,
		engine:         query.NewEngine(h),
		serverVersion:  serverVersion,
		requestTimeout: defaultRequestTimeout,
	}
}

// Serve binds socketPath and accepts connections until ctx is cancelled or
// an unrecoverable accept error occurs. A pre-existing socket file is
// removed first, without checking whether another server is still
// listening on it; cmd/devacd calls Serve directly, with no such check of
// its own (spec.md §4.6
// staleness: that determination is the *client's* job on connect, this is
// the server claiming the path for itself).
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return errs.NewIOError("Could not create hub socket directory", err.Error(), filepath.Dir(socketPath), err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return errs.NewIOError("Could not clear stale hub socket", err.Error(), socketPath, err)
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return errs.NewIOError("Could not bind hub socket", err.Error(), socketPath, err)
	}
	s.listener = l

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errs.NewIPCError("accept failed on hub socket", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConn serves one request at a time per connection, in order, per
// spec.md §4.6's server-side obligations.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req frame
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(reply{Error: &rpcError{Code: CodeParseError, Message: err.Error()}})
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		resp := s.dispatch(reqCtx, req)
		cancel()

		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req frame) reply {
	switch req.Method {
	case "ping":
		return s.handlePing(req)
	case "query":
		return s.handleQuery(ctx, req)
	case "listRepos":
		return s.handleListRepos(req)
	case "register":
		return s.handleRegister(req)
	case "refresh":
		return s.handleRefresh(req)
	case "pushValidationErrors":
		return s.handlePushValidationErrors(req)
	default:
		return errReply(req.ID, CodeApplication, "unknown method: "+req.Method)
	}
}

func (s *Server) handlePing(req frame) reply {
	return okReply(req.ID, PingResult{ServerVersion: s.serverVersion, ProtocolVersion: ProtocolVersion})
}

func (s *Server) handleQuery(ctx context.Context, req frame) reply {
	var p QueryParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errReply(req.ID, CodeParseError, err.Error())
	}

	opts := query.Options{Branch: p.Branch}
	if len(p.Packages) > 0 {
		opts.PrimaryPackage = p.Packages[0]
	}

	res, err := s.engine.Query(ctx, p.SQL, opts)
	if err != nil {
		return errReply(req.ID, CodeApplication, err.Error())
	}
	return okReply(req.ID, QueryResult{
		Rows:         res.Rows,
		RowCount:     res.RowCount,
		TimeMs:       res.TimeMs,
		ViewsCreated: res.ViewsCreated,
		Warnings:     res.Warnings,
	})
}

func (s *Server) handleListRepos(req frame) reply {
	repos := s.hub.ListRepos()
	out := make([]RepoInfo, 0, len(repos))
	for _, r := range repos {
		out = append(out, RepoInfo{RepoID: r.ID, Name: r.Path, Packages: r.Packages})
	}
	return okReply(req.ID, out)
}

func (s *Server) handleRegister(req frame) reply {
	var p RegisterParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errReply(req.ID, CodeParseError, err.Error())
	}

	repo, err := s.hub.RegisterRepo(p.RepoPath)
	if err != nil {
		return errReply(req.ID, CodeApplication, err.Error())
	}

	var edges int64
	for _, pkg := range repo.Packages {
		dir, ok := s.hub.PartitionDir(pkg, model.BaseBranch)
		if !ok {
			continue
		}
		rows, err := columnar.ReadEdges(filepath.Join(dir, "edges.parquet"))
		if err != nil {
			continue
		}
		edges += int64(len(rows))
	}

	return okReply(req.ID, RegisterResult{RepoID: repo.ID, Packages: repo.Packages, Edges: edges})
}

func (s *Server) handleRefresh(req frame) reply {
	var p RefreshParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errReply(req.ID, CodeParseError, err.Error())
	}
	updated, errsOut := s.hub.RefreshRepo(p.RepoID)
	return okReply(req.ID, RefreshResult{PackagesUpdated: updated, Errors: errsOut})
}

func (s *Server) handlePushValidationErrors(req frame) reply {
	var p PushValidationErrorsParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errReply(req.ID, CodeParseError, err.Error())
	}
	s.hub.PushValidationErrors(p.RepoID, p.PackagePath, p.Errors)
	return reply{ID: req.ID}
}

func okReply(id string, result any) reply {
	b, err := json.Marshal(result)
	if err != nil {
		return errReply(id, CodeInternal, err.Error())
	}
	return reply{ID: id, Result: b}
}

func errReply(id string, code int, message string) reply {
	return reply{ID: id, Error: &rpcError{Code: code, Message: message}}
}
