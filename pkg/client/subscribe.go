package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	"github.com/sherzodv/tim/pkg/wire"
)

// EventStream is one open subscribe stream.
type EventStream interface {
	// Recv blocks until the next event arrives, the stream ends, or ctx is
	// cancelled. A stream ended by an invalidated session reports
	// wire.ErrUnauthenticated.
	Recv(ctx context.Context) (wire.SpaceEvent, error)
	Close() error
}

// Subscribe opens the server stream for the configured space.
func (c *Client) Subscribe(ctx context.Context) (EventStream, error) {
	sess, err := c.Session(ctx)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.config.Endpoint)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/v1/subscribe"
	u.RawQuery = "space=" + url.QueryEscape(c.config.Space) +
		"&receiveOwn=" + strconv.FormatBool(c.config.ReceiveOwn)

	header := http.Header{}
	header.Set(wire.SessionHeader, sess.Key)
	conn, res, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient: c.httpc,
		HTTPHeader: header,
	})
	if err != nil {
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: subscribe rejected", wire.ErrUnauthenticated)
		}
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Recv(ctx context.Context) (wire.SpaceEvent, error) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusCode(wire.CloseStatusUnauthenticated) {
				return wire.SpaceEvent{}, fmt.Errorf("%w: stream closed by server", wire.ErrUnauthenticated)
			}
			return wire.SpaceEvent{}, err
		}

		// Peek the discriminator before decoding; frames of unknown kinds are
		// skipped so old clients survive new event types.
		kind := gjson.GetBytes(data, "kind").String()
		switch wire.EventKind(kind) {
		case wire.KindNewMessage, wire.KindTimiteConnected, wire.KindTimiteDisconnected:
		default:
			continue
		}

		var e wire.SpaceEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return wire.SpaceEvent{}, fmt.Errorf("malformed stream frame: %w", err)
		}
		return e, nil
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
