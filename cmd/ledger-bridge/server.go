// Copyright 2025 The ledger-bridge Authors
// This file is part of ledger-bridge.
//
// ledger-bridge is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ledger-bridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with ledger-bridge. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethwallet/ledger-bridge/bridge"
	"github.com/gorilla/websocket"
)

const (
	wsReadBuffer  = 1024
	wsWriteBuffer = 1024
)

// response mirrors a dispatch callback onto the wire, echoing the action it
// answers. Unknown actions produce no response at all, matching the bridge's
// drop semantics.
type response struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
}

// server upgrades host connections to WebSocket and feeds their envelopes to
// the bridge one at a time. The bridge itself provides no serialization of
// overlapping requests, so the server holds a lock across each dispatch.
type server struct {
	bridge   *bridge.Bridge
	upgrader websocket.Upgrader

	mu  sync.Mutex
	log log.Logger
}

func newServer(b *bridge.Bridge) *server {
	return &server{
		bridge: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBuffer,
			WriteBufferSize: wsWriteBuffer,
			// Hosts are local applications; origin filtering is handled by
			// the CORS layer in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.New("server", "ws"),
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("WebSocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	for {
		var req bridge.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("Host connection failed", "err", err)
			}
			return
		}
		s.mu.Lock()
		s.bridge.Dispatch(req, func(ok bool, payload any) {
			if err := conn.WriteJSON(response{Action: req.Action, Success: ok, Payload: payload}); err != nil {
				s.log.Debug("Reply delivery failed", "action", req.Action, "err", err)
			}
		})
		s.mu.Unlock()
	}
}
