package chamelium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"kmslab.dev/internal/crc"
)

// FixtureError is a command the fixture refused, carrying its wire code.
type FixtureError struct {
	Code    string
	Message string
}

func (e *FixtureError) Error() string {
	return fmt.Sprintf("fixture: %s (%s)", e.Message, e.Code)
}

var ErrClientClosed = errors.New("fixture client closed")

// Client drives a remote fixture. Safe for concurrent use; responses are
// matched to requests by ID.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Response
	closed  bool
	readErr error
}

// Dial connects to a fixture at a ws:// url.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial fixture: %w", err)
	}
	c := &Client{conn: conn, pending: map[uint64]chan Response{}}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var resp Response
		if err := decodeResponse(msg, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func decodeResponse(raw []byte, resp *Response) error {
	base, err := DecodeBase(raw)
	if err != nil {
		return err
	}
	if base.Type != TypeResult {
		return fmt.Errorf("unexpected type %q", base.Type)
	}
	return json.Unmarshal(raw, resp)
}

// fail unblocks every waiter with the terminal read error.
func (c *Client) fail(err error) {
	c.mu.Lock()
	c.readErr = err
	pending := c.pending
	c.pending = map[uint64]chan Response{}
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// call sends one request and waits for its response.
func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.closed || c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = ErrClientClosed
		}
		return Response{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	b, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err = c.conn.WriteMessage(websocket.TextMessage, b)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return Response{}, fmt.Errorf("send %s: %w", req.Type, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			return Response{}, fmt.Errorf("%s: connection lost: %w", req.Type, err)
		}
		if !resp.OK {
			return resp, &FixtureError{Code: resp.Code, Message: resp.Message}
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
		return Response{}, ctx.Err()
	}
}

func (c *Client) Reset(ctx context.Context) error {
	_, err := c.call(ctx, Request{Type: TypeReset})
	return err
}

func (c *Client) ProbePorts(ctx context.Context) ([]PortInfo, error) {
	resp, err := c.call(ctx, Request{Type: TypeProbePorts})
	if err != nil {
		return nil, err
	}
	return resp.Ports, nil
}

func (c *Client) Plug(ctx context.Context, port int) error {
	_, err := c.call(ctx, Request{Type: TypePlug, Port: port})
	return err
}

func (c *Client) Unplug(ctx context.Context, port int) error {
	_, err := c.call(ctx, Request{Type: TypeUnplug, Port: port})
	return err
}

func (c *Client) SetEDID(ctx context.Context, port int, edid []byte) error {
	_, err := c.call(ctx, Request{Type: TypeSetEDID, Port: port, EDID: edid})
	return err
}

func (c *Client) SetDDC(ctx context.Context, port int, enable bool) error {
	_, err := c.call(ctx, Request{Type: TypeSetDDC, Port: port, Enable: &enable})
	return err
}

func (c *Client) ScheduleHPDToggle(ctx context.Context, port int, delay time.Duration, connect bool) error {
	_, err := c.call(ctx, Request{
		Type:    TypeScheduleHPD,
		Port:    port,
		DelayMS: int(delay / time.Millisecond),
		Enable:  &connect,
	})
	return err
}

// Capture grabs count frame checksums on a port; ReadCRCs returns them.
func (c *Client) Capture(ctx context.Context, port, count int) error {
	_, err := c.call(ctx, Request{Type: TypeCapture, Port: port, FrameCount: count})
	return err
}

func (c *Client) ReadCRCs(ctx context.Context) ([]crc.CRC, error) {
	resp, err := c.call(ctx, Request{Type: TypeReadCRCs})
	if err != nil {
		return nil, err
	}
	out := make([]crc.CRC, 0, len(resp.CRCs))
	for _, s := range resp.CRCs {
		word, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed checksum %q: %w", s, err)
		}
		out = append(out, crc.CRC{Word: uint32(word)})
	}
	return out, nil
}

// DumpFrame fetches the pixels of the last captured frame.
func (c *Client) DumpFrame(ctx context.Context) (pix []byte, width, height int, err error) {
	resp, err := c.call(ctx, Request{Type: TypeDumpFrame})
	if err != nil {
		return nil, 0, 0, err
	}
	return resp.Frame, resp.Width, resp.Height, nil
}
