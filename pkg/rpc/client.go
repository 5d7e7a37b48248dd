package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

// errBroken marks a connection whose stream can no longer be trusted.
var errBroken = errors.New("rpc connection broken")

// Client issues calls over one connection, one at a time.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	seq    uint64
	broken error
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc %s: %w", addr, err)
	}
	return &Client{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}, nil
}

// Call sends params to method and decodes the reply into result, which may
// be nil. The ctx deadline bounds both the connection and the remote
// handler. A transport failure leaves the Client unusable.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s params: %w", method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return c.broken
	}
	c.seq++
	req := Request{Method: method, ID: strconv.FormatUint(c.seq, 10), Params: raw}
	if dl, ok := ctx.Deadline(); ok {
		req.TimeoutMs = max(time.Until(dl).Milliseconds(), 1)
		c.conn.SetDeadline(dl)
		defer c.conn.SetDeadline(time.Time{})
	}

	var resp Response
	if err := c.enc.Encode(req); err != nil {
		return c.fail(method, err)
	}
	if err := c.dec.Decode(&resp); err != nil {
		return c.fail(method, err)
	}
	if resp.ID != req.ID {
		return c.fail(method, fmt.Errorf("reply id %q for request %q", resp.ID, req.ID))
	}
	if resp.Error != "" {
		return remoteError(resp)
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("decoding %s reply: %w", method, err)
		}
	}
	return nil
}

func (c *Client) fail(method string, err error) error {
	c.broken = fmt.Errorf("%w: %v", errBroken, err)
	c.conn.Close()
	return fmt.Errorf("calling %s: %w", method, err)
}

func (c *Client) Close() error { return c.conn.Close() }

// statusSentinels maps reply statuses back onto the shared sentinels.
var statusSentinels = map[int]error{
	http.StatusBadRequest:         apperrors.ErrInvalidInput,
	http.StatusNotFound:           apperrors.ErrDocumentNotFound,
	http.StatusConflict:           apperrors.ErrHashMismatch,
	http.StatusBadGateway:         apperrors.ErrSourceUnreachable,
	http.StatusServiceUnavailable: apperrors.ErrLockUnavailable,
	http.StatusGatewayTimeout:     apperrors.ErrTimeout,
	http.StatusNotImplemented:     ErrUnknownMethod,
}

func remoteError(resp Response) error {
	if sentinel, ok := statusSentinels[resp.Status]; ok {
		return apperrors.New(sentinel, resp.Status, resp.Error)
	}
	return apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, resp.Error)
}
