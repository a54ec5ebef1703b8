package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Subscribe opens a websocket to /api/realtime for one collection. Each text
// frame is one JSON Event. The subscription ends when the socket drops, ctx
// is cancelled, or Close is called.
func (c *HTTPClient) Subscribe(ctx context.Context, collection string, handler Handler) (Subscription, error) {
	endpoint, err := c.realtimeURL(collection)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	// The websocket outlives any per-request timeout; ctx bounds it instead.
	wsClient := *c.httpClient
	wsClient.Timeout = 0
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: &wsClient,
		HTTPHeader: header,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Op: "subscribe " + collection, Err: err}
	}
	conn.SetReadLimit(4 << 20)

	readCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(func() {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})
	go func() {
		for {
			var ev Event
			if err := wsjson.Read(readCtx, conn, &ev); err != nil {
				sub.finish(realtimeErr(readCtx, collection, err))
				return
			}
			if ev.Collection == "" {
				ev.Collection = collection
			}
			if ev.Collection != collection {
				continue
			}
			handler(ev)
		}
	}()
	return sub, nil
}

func (c *HTTPClient) realtimeURL(collection string) (string, error) {
	u, err := url.Parse(c.baseURL + "/api/realtime")
	if err != nil {
		return "", fmt.Errorf("%w: realtime url: %v", ErrInvalidInput, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("collection", collection)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func realtimeErr(ctx context.Context, collection string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			return nil
		}
		return ctxErr
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return &NetworkError{Op: "realtime " + collection, Err: errors.New("closed by server")}
	}
	return &NetworkError{Op: "realtime " + collection, Err: err}
}
