// Package wsnet adapts nhooyr.io/websocket to the chatsocket transport
// interface, grounded on the teacher's internal/transport/ws.Conn (which
// wraps the same library for the same purpose) generalized from a
// single Read/Write pair to the ordered Connected/Disconnected/Frame
// event stream spec.md §4.A requires.
package wsnet

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"

	"github.com/chat-core/wschat/internal/chatsocket/chattypes"
	"github.com/chat-core/wschat/internal/chatsocket/logging"
	"github.com/chat-core/wschat/internal/chatsocket/transport"
)

// Conn adapts a nhooyr.io/websocket connection to transport.Transport.
type Conn struct {
	url     string
	header  http.Header
	logger  logging.Logger
	conn    *websocket.Conn
	events  chan transport.Event
	closeMu sync.Mutex
	closed  bool
}

// New returns a Transport that, when Connect is called, dials target
// (e.g. "wss://chat.example.org/v1/websocket/?login=...&password=..."
// for Identified, no query for Unidentified, per spec.md §6) with the
// given extra headers.
func New(target string, header http.Header, logger logging.Logger) *Conn {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Conn{
		url:    target,
		header: header,
		logger: logger.WithField("component", "wsnet"),
		events: make(chan transport.Event, 16),
	}
}

// Factory returns a transport.Factory dialing baseURL, appending the
// login/password query parameters for Identified connections only
// (spec.md §6), and attaching extraHeaders to both.
func Factory(baseURL string, credentials func() (login, password string), extraHeaders http.Header, logger logging.Logger) transport.Factory {
	return func(kind chattypes.ConnectionKind) (transport.Transport, error) {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, errors.Wrap(err, "wsnet: parse base url")
		}
		if kind == chattypes.Identified {
			if credentials == nil {
				return nil, errors.New("wsnet: identified connection requires credentials")
			}
			login, password := credentials()
			if login == "" {
				return nil, errors.New("wsnet: identified connection requires a non-empty login")
			}
			q := u.Query()
			q.Set("login", login)
			q.Set("password", password)
			u.RawQuery = q.Encode()
		}
		return New(u.String(), extraHeaders, logger), nil
	}
}

// Connect implements transport.Transport.
func (c *Conn) Connect(ctx context.Context) error {
	conn, resp, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: c.header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return transport.NewHandshakeError(resp.StatusCode, errors.Wrap(err, "wsnet: dial"))
		}
		return errors.Wrap(err, "wsnet: dial")
	}
	c.conn = conn

	select {
	case c.events <- transport.Event{Kind: transport.EventConnected}:
	default:
		c.logger.Warn("dropped connected event, buffer full")
	}

	go c.readLoop()
	return nil
}

func (c *Conn) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.publishDisconnect(err)
			return
		}
		c.events <- transport.Event{Kind: transport.EventFrame, Frame: data}
	}
}

func (c *Conn) publishDisconnect(err error) {
	c.closeMu.Lock()
	already := c.closed
	c.closeMu.Unlock()
	if already {
		return
	}
	c.events <- transport.Event{Kind: transport.EventDisconnected, Err: err}
}

// SendBinary implements transport.Transport.
func (c *Conn) SendBinary(ctx context.Context, data []byte) error {
	if c.conn == nil {
		return errors.New("wsnet: not connected")
	}
	if err := c.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return errors.Wrap(err, "wsnet: write")
	}
	return nil
}

// WritePing implements transport.Transport.
func (c *Conn) WritePing(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("wsnet: not connected")
	}
	if err := c.conn.Ping(ctx); err != nil {
		return errors.Wrap(err, "wsnet: ping")
	}
	return nil
}

// Events implements transport.Transport.
func (c *Conn) Events() <-chan transport.Event { return c.events }

// Close implements transport.Transport.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	if c.conn == nil {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
