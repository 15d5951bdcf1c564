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
	"encoding/binary"
	"errors"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/hid"
)

// USB identifiers used for Ledger device discovery. Definitions taken from
// https://github.com/LedgerHQ/ledger-live/blob/38012bc8899e0f07149ea9cfe7e64b2c146bc92b/libs/ledgerjs/packages/devices/src/index.ts
const (
	ledgerVendorID   = 0x2c97
	ledgerUsageID    = 0xffa0 // USB usage page identifier used for macOS device discovery
	ledgerEndpointID = 0      // USB endpoint identifier used for non-macOS device discovery
)

var ledgerProductIDs = []uint16{
	// Original product IDs
	0x0000, /* Ledger Blue */
	0x0001, /* Ledger Nano S */
	0x0004, /* Ledger Nano X */
	0x0005, /* Ledger Nano S Plus */
	0x0006, /* Ledger Nano FTS */

	0x0015, /* HID + U2F + WebUSB Ledger Blue */
	0x1015, /* HID + U2F + WebUSB Ledger Nano S */
	0x4015, /* HID + U2F + WebUSB Ledger Nano X */
	0x5015, /* HID + U2F + WebUSB Ledger Nano S Plus */
	0x6015, /* HID + U2F + WebUSB Ledger Nano FTS */

	0x0011, /* HID + WebUSB Ledger Blue */
	0x1011, /* HID + WebUSB Ledger Nano S */
	0x4011, /* HID + WebUSB Ledger Nano X */
	0x5011, /* HID + WebUSB Ledger Nano S Plus */
	0x6011, /* HID + WebUSB Ledger Nano FTS */
}

// errReplyInvalidHeader is returned by a HID data exchange if the device
// replies with a mismatching channel header. This usually means the device is
// in browser mode.
var errReplyInvalidHeader = errors.New("usb: invalid reply header")

// ErrUnsupportedPlatform is returned when HID access is not available on the
// current platform.
var ErrUnsupportedPlatform = errors.New("usb: unsupported platform")

// ErrDeviceNotFound is returned when no attached USB device advertises itself
// as a Ledger wallet.
var ErrDeviceNotFound = errors.New("usb: no Ledger device found")

// USBProvider enumerates locally attached Ledger devices over HID and opens
// direct transports to them.
type USBProvider struct {
	log log.Logger
}

// NewUSBProvider creates a device provider backed by the platform HID stack.
func NewUSBProvider() *USBProvider {
	return &USBProvider{log: log.New("transport", "usb")}
}

// Open implements DeviceProvider, scanning the USB bus and opening the first
// device that matches the Ledger identifiers.
func (p *USBProvider) Open() (Transport, error) {
	if !hid.Supported() {
		return nil, ErrUnsupportedPlatform
	}
	infos, err := hid.Enumerate(ledgerVendorID, 0)
	if err != nil {
		p.log.Warn("Failed to enumerate USB devices", "vendor", ledgerVendorID, "err", err)
		return nil, err
	}
	for _, info := range infos {
		for _, id := range ledgerProductIDs {
			// Windows and Macos use UsageID matching, Linux uses Interface matching
			if info.ProductID == id && (info.UsagePage == ledgerUsageID || info.Interface == ledgerEndpointID) {
				device, err := info.Open()
				if err != nil {
					return nil, err
				}
				logger := p.log.New("path", info.Path)
				logger.Debug("Ledger device opened")
				return &usbTransport{device: device, log: logger}, nil
			}
		}
	}
	return nil, ErrDeviceNotFound
}

// usbTransport frames APDUs over the Ledger HID channel protocol and streams
// them to an open device in 64 byte reports.
type usbTransport struct {
	device io.ReadWriteCloser
	log    log.Logger
}

// Exchange implements Transport. The common transport header is defined as
// follows:
//
//	Description                           | Length
//	--------------------------------------+----------
//	Communication channel ID (big endian) | 2 bytes
//	Command tag                           | 1 byte
//	Packet sequence index (big endian)    | 2 bytes
//	Payload                               | arbitrary
//
// The channel ID is not used for the time being and is set to 0101 to avoid
// compatibility issues with implementations ignoring a leading 00 byte. The
// command tag is TAG_APDU (0x05) for standard APDU payloads. The first payload
// fragment is prefixed with the total APDU length on 2 bytes.
func (t *usbTransport) Exchange(apdu []byte) ([]byte, error) {
	// Prefix the APDU with its total length, then stream it out in chunks
	payload := make([]byte, 2, 2+len(apdu))
	binary.BigEndian.PutUint16(payload, uint16(len(apdu)))
	payload = append(payload, apdu...)

	header := []byte{0x01, 0x01, 0x05, 0x00, 0x00} // Channel ID and command tag appended
	chunk := make([]byte, 64)
	space := len(chunk) - len(header)

	for i := 0; len(payload) > 0; i++ {
		chunk = append(chunk[:0], header...)
		binary.BigEndian.PutUint16(chunk[3:], uint16(i))

		if len(payload) > space {
			chunk = append(chunk, payload[:space]...)
			payload = payload[space:]
		} else {
			chunk = append(chunk, payload...)
			payload = nil
		}
		t.log.Trace("Data chunk sent to the Ledger", "chunk", hexutil.Bytes(chunk))
		if _, err := t.device.Write(chunk); err != nil {
			return nil, err
		}
	}
	// Stream the reply back from the wallet in 64 byte chunks
	var reply []byte
	chunk = chunk[:64]
	for {
		if _, err := io.ReadFull(t.device, chunk); err != nil {
			return nil, err
		}
		t.log.Trace("Data chunk received from the Ledger", "chunk", hexutil.Bytes(chunk))

		// Make sure the transport header matches
		if chunk[0] != 0x01 || chunk[1] != 0x01 || chunk[2] != 0x05 {
			return nil, errReplyInvalidHeader
		}
		// If it's the first chunk, retrieve the total reply length
		var frame []byte
		if chunk[3] == 0x00 && chunk[4] == 0x00 {
			reply = make([]byte, 0, int(binary.BigEndian.Uint16(chunk[5:7])))
			frame = chunk[7:]
		} else {
			frame = chunk[5:]
		}
		// Append to the reply and stop when filled up
		if left := cap(reply) - len(reply); left > len(frame) {
			reply = append(reply, frame...)
		} else {
			reply = append(reply, frame[:left]...)
			break
		}
	}
	return reply, nil
}

// Close implements Transport, releasing the HID handle.
func (t *usbTransport) Close() error {
	return t.device.Close()
}
