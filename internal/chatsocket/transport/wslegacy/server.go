// Package wslegacy is a second fake-server backend for cmd/fakechatserver,
// speaking the same pkg/wire framing as transport/wstest but over
// github.com/gorilla/websocket instead of gobwas/ws+wsutil. Grounded on
// the teacher's internal/server/unified.go handleWebSocket/
// handleWebSocketClient read/write-goroutine pair, generalized from the
// chat-room protocol.Message broadcast to the request/response wire.Message
// framing, and kept so the pack's other WebSocket library stays exercised
// behind a --legacy fakechatserver flag instead of sitting unused.
package wslegacy

import (
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/chat-core/wschat/pkg/wire"
)

// Session is one accepted client connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
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
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Handler is invoked once per decoded binary frame the client sends, on
// that connection's serving goroutine.
type Handler func(sess *Session, msg *wire.Message)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the gorilla/websocket-backed counterpart of transport/wstest's
// Server, for exercising the same protocol over a different client
// library's server-side upgrade path.
type Server struct {
	address  string
	handler  Handler
	listener net.Listener
	http     *http.Server
	wg       sync.WaitGroup
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
		return err
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
		_ = s.http.Close()
	}
	s.wg.Wait()
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wslegacy: upgrade failed: %v", err)
		return
	}

	sess := &Session{conn: conn}
	s.wg.Add(1)
	go s.serve(sess)
}

func (s *Server) serve(sess *Session) {
	defer s.wg.Done()
	defer sess.conn.Close()

	for {
		messageType, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		var msg wire.Message
		if err := msg.Unmarshal(data); err != nil {
			log.Printf("wslegacy: decode frame: %v", err)
			continue
		}
		s.handler(sess, &msg)
	}
}
