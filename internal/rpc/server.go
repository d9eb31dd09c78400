// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/atelier/internal/log"
	"github.com/tombee/atelier/pkg/trace"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Config configures the subscribe endpoint.
type Config struct {
	// AuthToken, when set, is required from clients via the
	// X-Auth-Token header or a token query parameter.
	AuthToken string

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server bridges trace-bus subscriptions onto WebSocket connections.
// It is an http.Handler; mount it at /ws.
type Server struct {
	bus      *trace.Bus
	logger   *slog.Logger
	mw       *log.RPCMiddleware
	upgrader websocket.Upgrader
	auth     *tokenValidator

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewServer creates the subscribe endpoint over the bus.
func NewServer(bus *trace.Bus, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		bus:    bus,
		logger: logger,
		mw:     log.NewRPCMiddleware(logger),
		upgrader: websocket.Upgrader{
			// The daemon binds loopback only; cross-origin pages on the
			// same host are legitimate clients (the design tool UI).
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	if cfg.AuthToken != "" {
		s.auth = newTokenValidator(cfg.AuthToken)
	}
	return s
}

// ServeHTTP upgrades the request and streams the project's frames.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		http.Error(w, "projectId query parameter is required", http.StatusBadRequest)
		return
	}

	var conn *websocket.Conn
	req := &log.RPCRequest{
		MessageType: "subscribe",
		ProjectID:   projectID,
		RemoteAddr:  r.RemoteAddr,
	}
	err := s.mw.Handler(req, func() error {
		if s.auth != nil {
			token := r.Header.Get("X-Auth-Token")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if err := s.auth.validate(token, r.RemoteAddr); err != nil {
				if errors.Is(err, ErrRateLimitExceeded) {
					http.Error(w, "too many requests", http.StatusTooManyRequests)
				} else {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
				}
				return err
			}
		}

		c, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return fmt.Errorf("websocket upgrade: %w", err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	go s.serve(conn, projectID)
}

// serve pumps bus frames to the connection and answers inbound
// messages until either side goes away.
func (s *Server) serve(conn *websocket.Conn, projectID string) {
	frames, cancel := s.bus.Subscribe(projectID)
	defer cancel()
	defer s.drop(conn)

	// Outbound traffic is serialized through one channel: bus frames
	// and error replies must not interleave mid-message.
	replies := make(chan ErrorFrame, 8)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", "error", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongTimeout))

			msg, perr := parseClientMessage(data)
			if perr != nil || msg.Type != "ping" {
				req := &log.RPCRequest{
					MessageType: msg.Type,
					ProjectID:   projectID,
					RemoteAddr:  conn.RemoteAddr().String(),
				}
				s.mw.Handler(req, func() error {
					select {
					case replies <- unsupportedFrame(msg.Type):
					default:
					}
					if perr != nil {
						return fmt.Errorf("malformed message: %w", perr)
					}
					return fmt.Errorf("unsupported message type %q", msg.Type)
				})
				continue
			}
			select {
			case replies <- pongFrame():
			default:
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				// Bus closed or the subscriber fell too far behind.
				s.closeWith(conn, websocket.CloseGoingAway, "stream closed")
				return
			}
			if err := s.writeJSON(conn, frame); err != nil {
				return
			}
		case reply := <-replies:
			if err := s.writeJSON(conn, reply); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (s *Server) closeWith(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Shutdown tells every subscriber the server is going away and closes
// the connections. Safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		s.closeWith(conn, websocket.CloseGoingAway, "server shutdown")
		conn.Close()
	}
	s.logger.Info("rpc server shut down", "connections_closed", len(conns))
}
