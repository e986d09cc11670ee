// Package wstest is a minimal WebSocket chat-protocol server used by
// integration tests and cmd/fakechatserver. It speaks the exact
// pkg/wire.Message framing a real chat server would, built on
// github.com/gobwas/ws + wsutil (the teacher's server-side transport
// library, internal/server/connection.go's WebSocketConnection),
// mirroring the teacher's posture of pairing a different WebSocket
// library on the server than on the client.
package wstest

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/chat-core/wschat/pkg/wire"
)

// Session is one accepted client connection, exposed so test/demo code
// can script server behavior per connection.
type Session struct {
	conn       net.Conn
	remoteAddr string
	mu         sync.Mutex
}

// SendResponse writes a WebSocketMessage{Response: ...} frame.
func (s *Session) SendResponse(resp *wire.ResponseMessage) error {
	data, err := (&wire.Message{Type: wire.MessageTypeResponse, Response: resp}).Marshal()
	if err != nil {
		return err
	}
	return s.write(data)
}

// SendRequest writes a WebSocketMessage{Request: ...} frame, i.e. a
// server-pushed request such as PUT /api/v1/message.
func (s *Session) SendRequest(req *wire.RequestMessage) error {
	data, err := (&wire.Message{Type: wire.MessageTypeRequest, Request: req}).Marshal()
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *Session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsutil.WriteServerBinary(s.conn, data)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	_ = wsutil.WriteServerMessage(s.conn, ws.OpClose, nil)
	return s.conn.Close()
}

// CloseWithStatus performs a WebSocket close handshake carrying the given
// status code, used by tests to simulate e.g. an HTTP-403-equivalent
// rejection.
func (s *Session) CloseWithStatus(code ws.StatusCode, reason string) error {
	_ = wsutil.WriteServerMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(code, reason))
	return s.conn.Close()
}

// Handler is invoked once per decoded frame the client sends, on that
// connection's serving goroutine. It is not called when a connection is
// accepted, only when a frame arrives. The read loop runs until the client
// disconnects; the handler's return does not end it.
type Handler func(sess *Session, msg *wire.Message)

// Server is a tiny WebSocket server for tests and the fakechatserver
// demo binary; it does not implement the chat-socket lifecycle policy
// itself (that's the module under test/demo), only the server side of
// the wire protocol.
type Server struct {
	address  string
	listener net.Listener
	handler  Handler
	http     *http.Server
	wg       sync.WaitGroup

	// Reject403 makes every upgrade attempt fail with HTTP 403, for
	// exercising the identified-socket deregistration path (spec.md §4.D).
	Reject403 bool
}

// New creates a server that calls handler for every frame from every
// accepted client.
func New(address string, handler Handler) *Server {
	return &Server{address: address, handler: handler}
}

// Start accepts connections until Stop is called. It blocks.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("wstest: listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.accept)
	s.http = &http.Server{Handler: mux}
	return s.http.Serve(listener)
}

// Addr returns the server's listening address, valid once Start has been
// called (from another goroutine).
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and waits for all sessions to finish.
func (s *Server) Stop() {
	if s.http != nil {
		_ = s.http.Shutdown(context.Background())
	}
	s.wg.Wait()
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	if s.Reject403 {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("wstest: upgrade failed: %v", err)
		return
	}

	sess := &Session{conn: conn, remoteAddr: r.RemoteAddr}
	s.wg.Add(1)
	go s.serve(sess)
}

func (s *Server) serve(sess *Session) {
	defer s.wg.Done()
	defer sess.conn.Close()

	for {
		data, err := wsutil.ReadClientBinary(sess.conn)
		if err != nil {
			return
		}

		var msg wire.Message
		if err := msg.Unmarshal(data); err != nil {
			log.Printf("wstest: decode frame: %v", err)
			continue
		}
		s.handler(sess, &msg)
	}
}
