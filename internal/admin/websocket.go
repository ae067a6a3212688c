// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds loopback; origin checks add nothing there.
		return true
	},
}

// HandleStatusSocket handles GET /ws.
//
// # Description
//
// Upgrades to a WebSocket and pushes a StatusResponse frame
// immediately, then one per status interval, until the client
// disconnects. Inbound messages are read and discarded; the read loop
// only exists to notice the disconnect.
func (h *Handlers) HandleStatusSocket(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleStatusSocket")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	logger.Debug("status socket connected", "remote", ws.RemoteAddr().String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	if !h.sendStatusFrame(ctx, ws, logger) {
		return
	}

	ticker := time.NewTicker(h.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			logger.Debug("status socket disconnected")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !h.sendStatusFrame(ctx, ws, logger) {
				return
			}
		}
	}
}

// sendStatusFrame writes one status snapshot, reporting whether the
// connection is still usable.
func (h *Handlers) sendStatusFrame(ctx context.Context, ws *websocket.Conn, logger *slog.Logger) bool {
	frame := h.statusSnapshot(ctx, logger)
	if err := ws.WriteJSON(frame); err != nil {
		logger.Warn("failed to write status frame", "error", err)
		return false
	}
	return true
}
