package browser

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/result"
)

// wireCallTimeout bounds every remote round trip.
const wireCallTimeout = 10 * time.Second

// wireRequest is one outgoing remote-debugging command.
type wireRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// wireResponse is the matching reply.
type wireResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wireClient is a long-lived remote-debugging connection. Each outgoing
// command carries a monotonically increasing id; responses are matched back
// by id. Socket-level failures are classified by message pattern when no
// explicit code is available.
type wireClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	nextID  int64

	pendingMu sync.Mutex
	pending   map[int64]chan *wireResponse

	closed    chan struct{}
	closeOnce sync.Once
	readErr   atomic.Value // error
}

// wireDialer abstracts connection establishment so tests can inject a
// scripted connection.
type wireDialer func(ctx context.Context, wsURL string) (*wireClient, *result.Failure)

// dialWire connects to a tab's websocket debugger URL.
func dialWire(ctx context.Context, wsURL string) (*wireClient, *result.Failure) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, result.Failuref(classifySocketError(err), "dial %s: %v", wsURL, err)
	}
	c := newWireClient(conn)
	return c, nil
}

func newWireClient(conn *websocket.Conn) *wireClient {
	c := &wireClient{
		conn:    conn,
		pending: make(map[int64]chan *wireResponse),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop delivers responses to waiting callers until the socket dies.
func (c *wireClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr.Store(err)
			c.shutdown()
			return
		}

		var resp wireResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue // events and malformed frames are ignored
		}
		if resp.ID == 0 {
			continue // protocol event, not a command response
		}

		c.pendingMu.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			ch <- &resp
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
	}
}

// shutdown closes all pending waiters exactly once.
func (c *wireClient) shutdown() {
	c.closeOnce.Do(func() {
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		close(c.closed)
	})
}

// call issues one command and waits for its correlated response.
func (c *wireClient) call(ctx context.Context, method string, params any) (json.RawMessage, *result.Failure) {
	select {
	case <-c.closed:
		return nil, c.disconnectFailure()
	default:
	}

	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan *wireResponse, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := wireRequest{ID: id, Method: method, Params: params}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, result.Failuref(classifySocketError(err), "write %s: %v", method, err)
	}

	timer := time.NewTimer(wireCallTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.disconnectFailure()
		}
		if resp.Error != nil {
			return nil, result.Failuref(result.CodeSendFailed, "remote error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-timer.C:
		c.forget(id)
		return nil, result.Failuref(result.CodeTimeout, "%s timed out after %s", method, wireCallTimeout)
	case <-ctx.Done():
		c.forget(id)
		return nil, result.Failuref(result.CodeTimeout, "%s cancelled: %v", method, ctx.Err())
	}
}

func (c *wireClient) forget(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// close tears the connection down.
func (c *wireClient) close() {
	c.shutdown()
	if err := c.conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("wire close")
	}
}

// disconnectFailure builds the classified failure for a dead socket.
func (c *wireClient) disconnectFailure() *result.Failure {
	err, _ := c.readErr.Load().(error)
	if err == nil {
		return result.NewFailure(result.CodeChannelClosed, "signaling channel closed")
	}
	return result.Failuref(classifySocketError(err), "connection lost: %v", err)
}

// classifySocketError maps a socket-level error onto the shared taxonomy
// by message-pattern inspection. Used as a fallback when the protocol gave
// no explicit code.
func classifySocketError(err error) result.Code {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "crash"), strings.Contains(msg, "target closed"):
		return result.CodeBrowserCrashed
	case strings.Contains(msg, "websocket: close"), strings.Contains(msg, "channel closed"):
		return result.CodeChannelClosed
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "use of closed network connection"):
		return result.CodeNetworkDisconnected
	default:
		return result.CodeNetworkDisconnected
	}
}

// evalResult mirrors the Runtime.evaluate response shape.
type evalResult struct {
	Result struct {
		Type    string          `json:"type"`
		Value   json.RawMessage `json:"value"`
		Subtype string          `json:"subtype"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// evaluate runs a JS expression in the bound page and returns its value.
func (c *wireClient) evaluate(ctx context.Context, expression string) (json.RawMessage, *result.Failure) {
	raw, failure := c.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if failure != nil {
		return nil, failure
	}

	var res evalResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, result.Failuref(result.CodeSendFailed, "unparseable evaluate response: %v", err)
	}
	if res.ExceptionDetails != nil {
		return nil, result.Failuref(result.CodeSendFailed, "page exception: %s", res.ExceptionDetails.Text)
	}
	return res.Result.Value, nil
}
