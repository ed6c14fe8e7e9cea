// Package client talks to a tim server: session handshake, unary calls, the
// subscribe stream, and the resilient stream driver feeding a materialized
// view.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/sherzodv/tim/pkg/wire"
)

type Config struct {
	// Endpoint is the server base URL, e.g. "http://127.0.0.1:8787".
	Endpoint string
	Nick     string
	Platform string
	// TimiteID, when known from a previous run, makes the handshake prefer
	// Connect over Register.
	TimiteID uint64
	Space    string
	// ReceiveOwn controls whether the subscribe stream echoes the client's
	// own messages back.
	ReceiveOwn bool
}

// Client is safe for concurrent use. The cached session may be invalidated at
// any time by a stream observing an authentication failure; the next call
// re-runs the connect-or-register handshake.
type Client struct {
	config Config
	httpc  *http.Client
	logger *slog.Logger

	// OnSession, when set, observes every freshly acquired session. Used to
	// persist the (timiteId, nick) identity between runs.
	OnSession func(sess wire.Session)

	mu      sync.Mutex
	session wire.Session
}

func New(logger *slog.Logger, config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	if _, err := url.Parse(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if config.Space == "" {
		config.Space = wire.DefaultSpace
	}
	return &Client{
		config: config,
		httpc:  &http.Client{},
		logger: logger.With(slog.String("component", "tim_client")),
	}, nil
}

// Session returns the cached session, acquiring one if needed.
func (c *Client) Session(ctx context.Context) (wire.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Key != "" {
		return c.session, nil
	}
	sess, err := c.handshake(ctx)
	if err != nil {
		return wire.Session{}, err
	}
	c.session = sess
	if c.OnSession != nil {
		c.OnSession(sess)
	}
	return sess, nil
}

// InvalidateSession drops the cached session so the next call re-acquires
// one. Called by the stream driver on authentication failures.
func (c *Client) InvalidateSession() {
	c.mu.Lock()
	c.session = wire.Session{}
	c.mu.Unlock()
}

// handshake prefers Connect for a known identity and falls back to Register
// when the server no longer knows the timite.
func (c *Client) handshake(ctx context.Context) (wire.Session, error) {
	info := wire.ClientInfo{Platform: c.config.Platform}

	if c.config.TimiteID != 0 {
		req := wire.ConnectReq{
			Timite: wire.Timite{ID: c.config.TimiteID, Nick: c.config.Nick},
			Client: info,
		}
		var res wire.SessionRes
		err := c.doJSON(ctx, http.MethodPost, "/v1/connect", "", &req, &res)
		if err == nil {
			return res.Session, nil
		}
		if !errors.Is(err, wire.ErrTimiteNotFound) {
			return wire.Session{}, err
		}
		c.logger.Info("Timite unknown to server, registering anew",
			slog.Uint64("timiteID", c.config.TimiteID))
	}

	req := wire.RegisterReq{Nick: c.config.Nick, Client: info}
	var res wire.SessionRes
	if err := c.doJSON(ctx, http.MethodPost, "/v1/register", "", &req, &res); err != nil {
		return wire.Session{}, err
	}
	return res.Session, nil
}

// SendMessage trims the content and silently skips empty sends.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	sess, err := c.Session(ctx)
	if err != nil {
		return err
	}
	req := wire.SendMessageReq{Space: c.config.Space, Content: content}
	return c.doJSON(ctx, http.MethodPost, "/v1/send", sess.Key, &req, nil)
}

// GetTimeline fetches one history page.
func (c *Client) GetTimeline(ctx context.Context, offset uint64, size uint32) (wire.TimelineRes, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return wire.TimelineRes{}, err
	}
	path := "/v1/timeline?space=" + url.QueryEscape(c.config.Space) +
		"&offset=" + strconv.FormatUint(offset, 10) +
		"&size=" + strconv.FormatUint(uint64(size), 10)
	var res wire.TimelineRes
	if err := c.doJSON(ctx, http.MethodGet, path, sess.Key, nil, &res); err != nil {
		return wire.TimelineRes{}, err
	}
	return res, nil
}

// WalkTimeline pages through the whole timeline from offset 0, invoking fn
// per page until a short page ends the walk.
func (c *Client) WalkTimeline(ctx context.Context, pageSize uint32, fn func(wire.TimelineRes) error) error {
	if pageSize == 0 {
		return nil
	}
	var offset uint64
	for {
		res, err := c.GetTimeline(ctx, offset, pageSize)
		if err != nil {
			return err
		}
		if len(res.Events) == 0 {
			return nil
		}
		if err := fn(res); err != nil {
			return err
		}
		offset = res.Events[len(res.Events)-1].Metadata.ID + 1
		if uint32(len(res.Events)) < pageSize {
			return nil
		}
	}
}

// doJSON performs one unary call. Non-2xx responses are decoded into the
// shared error taxonomy via their wire code.
func (c *Client) doJSON(ctx context.Context, method, path, sessionKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.Endpoint+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionKey != "" {
		req.Header.Set(wire.SessionHeader, sessionKey)
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var errRes wire.ErrorRes
		if decodeErr := json.NewDecoder(res.Body).Decode(&errRes); decodeErr != nil {
			return fmt.Errorf("%w: status %d", wire.ErrInternal, res.StatusCode)
		}
		base := wire.ErrFromCode(errRes.Code)
		if errRes.Message != "" && errRes.Message != errRes.Code {
			return fmt.Errorf("%w: %s", base, errRes.Message)
		}
		return base
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
