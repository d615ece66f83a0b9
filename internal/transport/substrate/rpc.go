package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var errConnClosed = errors.New("rpc connection closed")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcMessage is either a response (ID set) or a subscription notification (Method set).
type rpcMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type notification struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// rpcConn multiplexes JSON-RPC calls and subscription notifications over one websocket.
// Notifications are handed to onNotify from the read goroutine and must not block on calls.
type rpcConn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	nextID   atomic.Uint64
	mu       sync.Mutex
	pending  map[uint64]chan rpcMessage
	done     chan struct{}
	closeErr error
	once     sync.Once

	onNotify func(method string, n notification)
	onClose  func(err error)
}

func dial(ctx context.Context, dialer *websocket.Dialer, endpoint string) (*rpcConn, error) {
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", endpoint)
	}

	return &rpcConn{
		ws:      ws,
		pending: make(map[uint64]chan rpcMessage),
		done:    make(chan struct{}),
	}, nil
}

func (c *rpcConn) start() {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop()
	go c.pingLoop()
}

func (c *rpcConn) call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	id := c.nextID.Add(1)
	reply := make(chan rpcMessage, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return c.err()
	default:
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return errors.Wrapf(err, "send %s", method)
	}

	select {
	case msg := <-reply:
		if msg.Error != nil {
			return errors.Wrap(msg.Error, method)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return errors.Wrapf(err, "decode %s result", method)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err()
	}
}

func (c *rpcConn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *rpcConn) readLoop() {
	for {
		var msg rpcMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.shutdown(err)
			return
		}

		if msg.ID != nil {
			c.mu.Lock()
			reply, ok := c.pending[*msg.ID]
			c.mu.Unlock()
			if ok {
				reply <- msg
			}
			continue
		}

		if msg.Method != "" && c.onNotify != nil {
			var n notification
			if err := json.Unmarshal(msg.Params, &n); err != nil {
				continue
			}
			c.onNotify(msg.Method, n)
		}
	}
}

func (c *rpcConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown(errors.Wrap(err, "ping"))
				return
			}
		case <-c.done:
			return
		}
	}
}

// shutdown closes the connection once; err is reported to onClose unless the
// connection was closed locally.
func (c *rpcConn) shutdown(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		close(c.done)
		c.mu.Unlock()

		c.ws.Close()
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}

func (c *rpcConn) close() {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.shutdown(errConnClosed)
}

func (c *rpcConn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeErr == nil {
		return errConnClosed
	}
	return errors.Wrap(c.closeErr, "rpc connection closed")
}
