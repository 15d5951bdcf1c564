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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startRelay runs a fake Ledger Live bridge: it announces hello to every
// connection and then answers binary APDUs through echo until the peer hangs
// up.
func startRelay(t *testing.T, hello bridgeHello, echo func(conn *websocket.Conn, apdu []byte)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteJSON(hello); err != nil {
			return
		}
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage && echo != nil {
				echo(conn, data)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSProviderCheck(t *testing.T) {
	url := startRelay(t, bridgeHello{Type: "opened"}, nil)

	provider := NewWSProvider()
	require.NoError(t, provider.Check(url))
}

func TestWSProviderCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	provider := NewWSProvider()
	require.Error(t, provider.Check(url))
}

func TestWSProviderExchange(t *testing.T) {
	url := startRelay(t, bridgeHello{Type: "opened"}, func(conn *websocket.Conn, apdu []byte) {
		// Reverse the APDU so the test can tell replies from echoes
		reply := make([]byte, len(apdu))
		for i, b := range apdu {
			reply[len(apdu)-1-i] = b
		}
		conn.WriteMessage(websocket.BinaryMessage, reply)
	})

	provider := NewWSProvider()
	tr, err := provider.Open(url)
	require.NoError(t, err)
	defer tr.Close()

	reply, err := tr.Exchange([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x02, 0x01}, reply)
}

func TestWSProviderOpenFailed(t *testing.T) {
	url := startRelay(t, bridgeHello{Type: "error", Message: "unable to claim device"}, nil)

	provider := NewWSProvider()
	_, err := provider.Open(url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OpenFailed: unable to claim device")
}

func TestWSProviderInBandError(t *testing.T) {
	url := startRelay(t, bridgeHello{Type: "opened"}, func(conn *websocket.Conn, apdu []byte) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"UNKNOWN 6804"}`))
	})

	provider := NewWSProvider()
	tr, err := provider.Open(url)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Exchange([]byte{0xe0, 0x02, 0x00, 0x00, 0x00})
	require.Error(t, err)
	assert.Equal(t, "UNKNOWN 6804", err.Error())
}
