// Command fakechatserver runs the wstest fake chat server standalone, for
// exercising cmd/chatdemo or a manual WebSocket client against the
// request/response and server-push framing from spec.md §6. Grounded on
// the teacher's cmd/server/main.go flag/signal wiring.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chat-core/wschat/internal/chatsocket/transport/wslegacy"
	"github.com/chat-core/wschat/internal/chatsocket/transport/wstest"
	"github.com/chat-core/wschat/pkg/wire"
)

// server is the subset of wstest.Server and wslegacy.Server this binary
// drives; the two backends speak the same pkg/wire framing over
// different WebSocket libraries.
type server interface {
	Start() error
	Stop()
}

func main() {
	addr := flag.String("addr", ":8090", "address to listen on")
	legacy := flag.Bool("legacy", false, "serve over gorilla/websocket instead of gobwas/ws")
	flag.Parse()

	var srv server
	if *legacy {
		srv = wslegacy.New(*addr, handleLegacy)
	} else {
		srv = wstest.New(*addr, handle)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Printf("fakechatserver listening on %s (legacy=%v)", *addr, *legacy)
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("received signal %v, shutting down...", sig)
		srv.Stop()
	}

	log.Println("fakechatserver stopped")
}

// handle implements the minimal server-side behavior a real chat server
// would apply: log every request on the server's own log and ack it with
// a 200.
func handle(sess *wstest.Session, msg *wire.Message) {
	if msg.Type != wire.MessageTypeRequest || msg.Request == nil {
		return
	}

	req := msg.Request
	log.Printf("<- %s %s (request_id=%d)", req.Verb, req.Path, req.RequestID)

	if err := sess.SendResponse(&wire.ResponseMessage{
		RequestID: req.RequestID,
		Status:    200,
		Message:   "OK",
	}); err != nil {
		log.Printf("failed to respond to request %d: %v", req.RequestID, err)
	}
}

// handleLegacy is handle's counterpart for the gorilla/websocket-backed
// server.
func handleLegacy(sess *wslegacy.Session, msg *wire.Message) {
	if msg.Type != wire.MessageTypeRequest || msg.Request == nil {
		return
	}

	req := msg.Request
	log.Printf("<- %s %s (request_id=%d)", req.Verb, req.Path, req.RequestID)

	if err := sess.SendResponse(&wire.ResponseMessage{
		RequestID: req.RequestID,
		Status:    200,
		Message:   "OK",
	}); err != nil {
		log.Printf("failed to respond to request %d: %v", req.RequestID, err)
	}
}
