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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "metadata timeout",
			err:  &TransportError{Code: 5, Kind: "TransportError"},
			want: ErrCodeTimeout,
		},
		{
			name: "metadata declared type",
			err:  &TransportError{Code: 7, Kind: "Foo"},
			want: "Foo",
		},
		{
			name: "metadata wins over message substrings",
			err:  &TransportError{Code: 5, Kind: "TransportError", Message: "UNKNOWN 6804"},
			want: ErrCodeTimeout,
		},
		{
			name: "wrapped metadata",
			err:  fmt.Errorf("exchange: %w", &TransportError{Code: 5, Kind: "TransportError"}),
			want: ErrCodeTimeout,
		},
		{
			name: "wrong app status in message",
			err:  errors.New("UNKNOWN 6804"),
			want: ErrCodeWrongApp,
		},
		{
			name: "session open failure",
			err:  errors.New("OpenFailed: x"),
			want: ErrCodeLocked,
		},
		{
			name: "locked status in message",
			err:  errors.New("error 6801"),
			want: ErrCodeLocked,
		},
		{
			name: "wrong app outranks locked",
			err:  errors.New("OpenFailed after 6804"),
			want: ErrCodeWrongApp,
		},
		{
			name: "u2f unsupported",
			err:  &U2FError{ID: "TransportError", Message: "U2F not supported by this browser"},
			want: ErrCodeU2FSupport,
		},
		{
			name: "u2f with unrelated message passes through",
			err:  &U2FError{ID: "TransportError", Message: "something else"},
			want: "something else",
		},
		{
			name: "unclassified falls back to its own text",
			err:  errors.New("the device was disconnected"),
			want: "the device was disconnected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
