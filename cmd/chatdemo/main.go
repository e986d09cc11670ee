// Command chatdemo drives a chatsocket.Manager against a real (or
// fakechatserver) WebSocket endpoint from a terminal, grounded on the
// teacher's cmd/client and cmd/websocket-client stdin-loop pattern.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chat-core/wschat/internal/chatsocket"
	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
	"github.com/chat-core/wschat/internal/chatsocket/collab"
	"github.com/chat-core/wschat/internal/chatsocket/transport/wsnet"
)

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:8090/", "chat server base URL")
	username := flag.String("username", "demo-user", "login used on the identified socket")
	flag.Parse()

	appState := collab.NewMemoryAppState()
	factory := wsnet.Factory(*addr, func() (string, string) { return *username, "" }, http.Header{}, nil)

	mgr := chatsocket.New(chatsocket.Deps{
		Factory:           factory,
		Registration:      collab.NewMemoryRegistrationManager(),
		AppState:          appState,
		OutageDetector:    collab.NoopOutageDetector{},
		EnvelopeProcessor: collab.NoopEnvelopeProcessor{},
	})
	defer mgr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := mgr.AwaitOpen(ctx, chattypes.Unidentified); err != nil {
		cancel()
		log.Fatalf("unidentified socket never opened: %v", err)
	}
	cancel()
	fmt.Println("unidentified socket open. type a path to GET it, or 'quit' to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		reqCtx, reqCancel := context.WithTimeout(context.Background(), 10*time.Second)
		resp, err := mgr.MakeRequest(reqCtx, chattypes.RequestInfo{
			Method:             "GET",
			URL:                line,
			RequiresIdentified: false,
		}, 0)
		reqCancel()
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Printf("-> %d %s: %s\n", resp.Status, resp.Message, string(resp.Body))
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("stdin read error: %v", err)
	}
}
