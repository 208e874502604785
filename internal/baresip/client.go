package baresip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"github.com/sirupsen/logrus"
)

var (
	ErrClosed   = errors.New("baresip connection closed")
	ErrTimeout  = errors.New("baresip command timeout")
	ErrRejected = errors.New("baresip rejected command")
)

const eventBuffer = 256

// Client speaks the ctrl_tcp protocol over one connection.
type Client struct {
	addr       string
	cmdTimeout time.Duration
	log        *logrus.Entry

	conn    net.Conn
	enc     *Encoder
	writeMu sync.Mutex

	events chan Event
	errs   chan error

	token     atomic.Uint64
	pendingMu sync.Mutex
	pending   map[string]chan Response

	closed core.Fuse
}

// NewClient creates a client for the ctrl_tcp module listening on addr.
func NewClient(addr string, cmdTimeout time.Duration, log *logrus.Entry) *Client {
	if cmdTimeout <= 0 {
		cmdTimeout = 2 * time.Second
	}
	return &Client{
		addr:       addr,
		cmdTimeout: cmdTimeout,
		log:        log.WithField("component", "baresip"),
		events:     make(chan Event, eventBuffer),
		errs:       make(chan error, 1),
		pending:    make(map[string]chan Response),
	}
}

// Connect dials baresip and starts reading.
func (c *Client) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connecting to baresip at %s: %w", c.addr, err)
	}
	c.Attach(conn)
	c.log.WithField("addr", c.addr).Info("connected")
	return nil
}

// Attach uses an already established connection.
func (c *Client) Attach(conn net.Conn) {
	c.conn = conn
	c.enc = NewEncoder(conn)
	go c.readLoop(NewDecoder(conn))
}

// Close shuts the connection. Pending commands fail with ErrClosed.
func (c *Client) Close() error {
	if c.closed.IsBroken() {
		return nil
	}
	c.closed.Break()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.closed.Watch()
}

// Events delivers baresip events; it is closed when the read loop exits.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Errors delivers at most one fatal read error.
func (c *Client) Errors() <-chan error {
	return c.errs
}

func (c *Client) readLoop(dec *Decoder) {
	defer close(c.events)

	for {
		data, err := dec.Decode()
		if err != nil {
			if errors.Is(err, ErrBadFrame) {
				c.log.WithError(err).Warn("skipping frame")
				continue
			}
			if !c.closed.IsBroken() {
				c.errs <- fmt.Errorf("reading from baresip: %w", err)
				_ = c.Close()
			}
			return
		}
		c.log.Debugf("recv %s", data)

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.WithError(err).Warn("invalid json")
			continue
		}

		switch {
		case env.Event != nil:
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				c.log.WithError(err).Warn("failed to parse event")
				continue
			}
			select {
			case c.events <- ev:
			default:
				c.log.WithField("type", ev.Type).Warn("event channel full, dropping event")
			}

		case env.Response != nil:
			var resp Response
			if err := json.Unmarshal(data, &resp); err != nil {
				c.log.WithError(err).Warn("failed to parse response")
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pending[resp.Token]
			delete(c.pending, resp.Token)
			c.pendingMu.Unlock()
			if ok {
				ch <- resp
			} else {
				c.log.WithField("token", resp.Token).Debug("unsolicited response")
			}
		}
	}
}

// Do sends a command and waits for its response. A response with ok=false
// is returned together with an ErrRejected error.
func (c *Client) Do(ctx context.Context, cmd, params string) (*Response, error) {
	if c.closed.IsBroken() || c.enc == nil {
		return nil, ErrClosed
	}
	token := fmt.Sprintf("tok%d", c.token.Add(1))

	data, err := json.Marshal(Command{Command: cmd, Params: params, Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshaling command: %w", err)
	}

	respCh := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[token] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, token)
		c.pendingMu.Unlock()
	}()

	c.log.Debugf("send %s", data)
	c.writeMu.Lock()
	err = c.enc.Encode(data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", cmd, err)
	}

	timer := time.NewTimer(c.cmdTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if !resp.OK {
			return &resp, fmt.Errorf("%w: %s %s: %s", ErrRejected, cmd, params, resp.Data)
		}
		return &resp, nil
	case <-c.closed.Watch():
		return nil, ErrClosed
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", ErrTimeout, cmd)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
