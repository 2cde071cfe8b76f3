// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// writeTimeout bounds a single websocket write to a subscriber.
const writeTimeout = 5 * time.Second

// DefaultOriginPatterns lets the local UI connect from a webview or a dev server.
var DefaultOriginPatterns = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	"tauri.localhost",
}

// Handler returns an http.Handler that upgrades to a websocket and streams
// every envelope emitted on the hub as a JSON text message. Incoming messages
// are ignored.
func (h *Hub) Handler(originPatterns []string) http.Handler {
	if originPatterns == nil {
		originPatterns = DefaultOriginPatterns
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			h.logger.Warn("WS_ACCEPT_FAILED", zap.Error(err))
			return
		}

		sub := h.Subscribe()
		defer sub.Close()

		ctx := conn.CloseRead(r.Context())
		h.logger.Debug("WS_SUBSCRIBED", zap.String("remote", r.RemoteAddr))

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case env, ok := <-sub.C:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				data, err := json.Marshal(env)
				if err != nil {
					h.logger.Error("WS_ENCODE_FAILED", zap.Error(err))
					continue
				}
				wctx, cancel := context.WithTimeout(ctx, writeTimeout)
				err = conn.Write(wctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.logger.Debug("WS_WRITE_FAILED", zap.Error(err))
					return
				}
			}
		}
	})
}

// Listen connects to an events endpoint and calls fn for each envelope until
// ctx is done, the server closes the stream, or fn returns an error.
func Listen(ctx context.Context, url string, fn func(Envelope) error) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(env); err != nil {
			if errors.Is(err, ErrStopListening) {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			return err
		}
	}
}

// ErrStopListening may be returned from a Listen callback to end the stream
// without an error.
var ErrStopListening = errors.New("events: stop listening")
