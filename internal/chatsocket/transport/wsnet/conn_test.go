package wsnet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/chat-core/wschat/internal/chatsocket/transport"
)

func TestConn_ConnectAndReceiveFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		if err := c.Write(context.Background(), websocket.MessageBinary, []byte("hello")); err != nil {
			t.Errorf("server write: %v", err)
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn := New(wsURL, nil, nil)
	defer conn.Close()

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case ev := <-conn.Events():
		if ev.Kind != transport.EventConnected {
			t.Fatalf("first event = %v, want EventConnected", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EventConnected")
	}

	select {
	case ev := <-conn.Events():
		if ev.Kind != transport.EventFrame {
			t.Fatalf("second event = %v, want EventFrame", ev.Kind)
		}
		if string(ev.Frame) != "hello" {
			t.Errorf("frame = %q, want %q", ev.Frame, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EventFrame")
	}
}

func TestConn_SendBinaryBeforeConnectFails(t *testing.T) {
	conn := New("ws://unused.invalid/", nil, nil)
	if err := conn.SendBinary(context.Background(), []byte("x")); err == nil {
		t.Fatal("SendBinary() before Connect() should fail")
	}
}

func TestConn_DisconnectEventOnServerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		c.Close(websocket.StatusNormalClosure, "bye")
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn := New(wsURL, nil, nil)
	defer conn.Close()

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var gotDisconnected bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-conn.Events():
			if ev.Kind == transport.EventDisconnected {
				gotDisconnected = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if !gotDisconnected {
		t.Fatal("expected an EventDisconnected after the server closed the socket")
	}
}
