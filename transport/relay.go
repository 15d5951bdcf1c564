// Copyright 2025 The ledger-bridge Authors
// This file is part of the ledger-bridge library.
//
// The ledger-bridge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ledger-bridge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ledger-bridge library. If not, see <http://www.gnu.org/licenses/>.

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"
)

const (
	// BridgeURL is the well-known loopback endpoint the Ledger Live desktop
	// application listens on when its device bridge is enabled.
	BridgeURL = "ws://localhost:8435"

	// LaunchURL is the deep link used to start Ledger Live with the Ethereum
	// application preselected.
	LaunchURL = "ledgerlive://bridge?appName=Ethereum"
)

const (
	wsDialTimeout  = 3 * time.Second
	wsOpenTimeout  = 10 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// bridgeHello is the session announcement Ledger Live sends right after the
// WebSocket handshake, before any APDU traffic.
type bridgeHello struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// bridgeError is the in-band failure notification the relay may emit instead
// of a binary APDU reply.
type bridgeError struct {
	Error string `json:"error"`
}

// WSProvider connects to a Ledger device through the WebSocket bridge exposed
// by the Ledger Live desktop application.
type WSProvider struct {
	dialer *websocket.Dialer
	log    log.Logger
}

// NewWSProvider creates a relay provider dialing with a bounded timeout.
func NewWSProvider() *WSProvider {
	return &WSProvider{
		dialer: &websocket.Dialer{HandshakeTimeout: wsDialTimeout},
		log:    log.New("transport", "ledgerlive"),
	}
}

// Check implements RelayProvider, probing the endpoint with a throwaway dial.
func (p *WSProvider) Check(url string) error {
	conn, _, err := p.dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// Open implements RelayProvider. It dials the endpoint and waits for the
// bridge to announce the device session. A failed announcement surfaces as an
// OpenFailed error so the caller can tell a locked device from a dead relay.
func (p *WSProvider) Open(url string) (Transport, error) {
	conn, _, err := p.dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(wsOpenTimeout))
	var hello bridgeHello
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	if hello.Type != "opened" {
		conn.Close()
		return nil, fmt.Errorf("OpenFailed: %s", hello.Message)
	}
	p.log.Debug("Ledger Live session opened", "url", url)
	return &wsTransport{conn: conn, log: p.log}, nil
}

// wsTransport carries whole APDUs as binary WebSocket messages; the relay does
// the HID framing on its end.
type wsTransport struct {
	conn *websocket.Conn
	log  log.Logger
}

// Exchange implements Transport. Text frames received in place of a binary
// reply carry an in-band device failure and are surfaced verbatim, keeping the
// relay's status codes (6801, 6804, ...) intact for classification.
func (t *wsTransport) Exchange(apdu []byte) ([]byte, error) {
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := t.conn.WriteMessage(websocket.BinaryMessage, apdu); err != nil {
		return nil, err
	}
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch kind {
		case websocket.BinaryMessage:
			return data, nil
		case websocket.TextMessage:
			var failure bridgeError
			if err := json.Unmarshal(data, &failure); err != nil || failure.Error == "" {
				return nil, fmt.Errorf("relay: unexpected text frame: %s", data)
			}
			return nil, errors.New(failure.Error)
		}
	}
}

// Close implements Transport, shutting the WebSocket connection down.
func (t *wsTransport) Close() error {
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}
