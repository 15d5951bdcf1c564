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

// Package transport provides the communication channels used to reach a Ledger
// device: a direct USB HID connection and a WebSocket connection relayed
// through the Ledger Live desktop application.
package transport

// Transport is a point-to-point channel to a hardware wallet, exchanging one
// APDU command for one reply at a time. The reply includes the trailing two
// status word bytes; interpreting them is left to the application layer.
type Transport interface {
	// Exchange sends a raw APDU to the device and blocks until the full reply
	// has been received.
	Exchange(apdu []byte) ([]byte, error)

	// Close releases the underlying channel. A closed transport must not be
	// reused.
	Close() error
}

// DeviceProvider opens direct connections to a locally attached device.
type DeviceProvider interface {
	Open() (Transport, error)
}

// RelayProvider manages connections relayed through a companion application
// listening on a local WebSocket endpoint.
type RelayProvider interface {
	// Check probes whether the relay endpoint is reachable.
	Check(url string) error

	// Open establishes a relayed transport to the device behind the endpoint.
	Open(url string) (Transport, error)
}

// Launcher triggers the companion application to start when its endpoint is
// not reachable.
type Launcher interface {
	Launch(url string) error
}
