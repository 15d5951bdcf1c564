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

package bridge

import (
	"errors"
	"strings"
)

// Classified error codes surfaced to the host application.
const (
	ErrCodeTimeout       = "LEDGER_TIMEOUT"      // device or transport timeout signaled via structured metadata
	ErrCodeWrongApp      = "LEDGER_WRONG_APP"    // a different application is active on the device (status 6804)
	ErrCodeLocked        = "LEDGER_LOCKED"       // device locked or session open failure (status 6801 / OpenFailed)
	ErrCodeU2FSupport    = "U2F_NOT_SUPPORTED"   // browser lacks the required transport capability
	ErrCodeUnknownAction = "UNKNOWN_ACTION"      // dispatch action not recognized (strict mode only)
)

// transportCodeTimeout is the metadata code U2F-style transport layers assign
// to device timeouts.
const transportCodeTimeout = 5

// TransportError carries the structured metadata some transport layers attach
// to their failures: a numeric code plus a declared type string. A transport
// error may also carry a raw message; classification ignores it, the metadata
// wins.
type TransportError struct {
	Code    int
	Kind    string
	Message string
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind
}

// U2FError identifies failures raised by browser U2F stacks, which carry both
// an identifier and a human readable message.
type U2FError struct {
	ID      string
	Message string
}

func (e *U2FError) Error() string {
	return e.Message
}

// Classify maps the heterogeneous errors bubbling up from transports and the
// device application onto the stable taxonomy exposed to callers. The order of
// the probes matters: structured metadata takes priority over message
// substring checks, since some errors carry both at once. Anything that does
// not match the closed set passes through as its own string form.
func Classify(err error) string {
	var terr *TransportError
	if errors.As(err, &terr) {
		if terr.Code == transportCodeTimeout {
			return ErrCodeTimeout
		}
		return terr.Kind
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "6804"):
		return ErrCodeWrongApp
	case strings.Contains(msg, "OpenFailed"), strings.Contains(msg, "6801"):
		return ErrCodeLocked
	}
	var uerr *U2FError
	if errors.As(err, &uerr) && strings.Contains(uerr.Message, "U2F not supported") {
		return ErrCodeU2FSupport
	}
	return msg
}
