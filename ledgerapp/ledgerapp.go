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

// Package ledgerapp drives the Ethereum application running on a Ledger
// device through an abstract APDU transport. The command set is documented in
// the Ledger app-ethereum repo:
// https://github.com/LedgerHQ/app-ethereum/blob/develop/doc/ethapp.adoc
package ledgerapp

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethwallet/ledger-bridge/transport"
)

// opcode is an enumeration encoding the supported Ledger opcodes.
type opcode byte

// param1 is an enumeration encoding the supported Ledger parameters for
// specific opcodes. The same parameter values may be reused between opcodes.
type param1 byte

// param2 is an enumeration encoding the supported Ledger parameters for
// specific opcodes. The same parameter values may be reused between opcodes.
type param2 byte

const (
	opRetrieveAddress     opcode = 0x02 // Returns the public key and Ethereum address for a given BIP 32 path
	opSignTransaction     opcode = 0x04 // Signs an Ethereum transaction after having the user validate the parameters
	opGetConfiguration    opcode = 0x06 // Returns specific wallet application configuration
	opSignPersonalMessage opcode = 0x08 // Signs an Ethereum message following the personal_sign specification
	opSignTypedMessage    opcode = 0x0c // Signs an Ethereum message following the EIP 712 specification

	p1DirectlyFetchAddress param1 = 0x00 // Return address directly from the wallet
	p1ConfirmFetchAddress  param1 = 0x01 // Display address and confirm before returning
	p1InitTransactionData  param1 = 0x00 // First transaction data block for signing
	p1ContTransactionData  param1 = 0x80 // Subsequent transaction data block for signing
	p1InitPersonalMessage  param1 = 0x00 // First personal message data block for signing
	p1ContPersonalMessage  param1 = 0x80 // Subsequent personal message data block for signing
	p1InitTypedMessageData param1 = 0x00 // First chunk of Typed Message data

	p2DiscardChainCode param2 = 0x00 // Do not return the chain code along with the address
	p2ReturnChainCode  param2 = 0x01 // Return the chain code along with the address

	eip155Size int = 3 // Size of the EIP-155 chain_id,r,s in unsigned transactions

	swOK = 0x9000 // Status word reported on success

	signatureLength = 65 // v (1 byte), r (32 bytes), s (32 bytes)
)

// errInvalidReply is returned when the device reply is too short to carry a
// status word.
var errInvalidReply = errors.New("ledger: invalid reply")

// errMissingSignature is returned when a signing reply does not contain a full
// 65 byte signature.
var errMissingSignature = errors.New("ledger: reply lacks signature")

// StatusError is returned when the device answers an APDU with a status word
// other than 0x9000. Its text carries the hexadecimal code (6801 locked, 6804
// wrong application, 6985 rejected, ...) so callers can classify it.
type StatusError struct {
	Code uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger: status %04x", e.Code)
}

// Account is the result of an address derivation request.
type Account struct {
	Address   common.Address `json:"address"`
	PublicKey hexutil.Bytes  `json:"publicKey"`
	ChainCode hexutil.Bytes  `json:"chainCode,omitempty"`
}

// Signature is a 65 byte secp256k1 signature split into the components the
// device reports them in.
type Signature struct {
	V byte          `json:"v"`
	R hexutil.Bytes `json:"r"`
	S hexutil.Bytes `json:"s"`
}

// App is a session with the Ethereum application on a single device. It does
// not own the transport; tearing the channel down is the caller's concern.
type App struct {
	transport transport.Transport
	log       log.Logger
}

// New wraps an open transport into an Ethereum application session.
func New(t transport.Transport) *App {
	return &App{transport: t, log: log.New("app", "ledger-eth")}
}

// Version retrieves the version of the Ethereum application running on the
// device.
//
// The version retrieval protocol is defined as follows:
//
//	CLA | INS | P1 | P2 | Lc | Le
//	----+-----+----+----+----+---
//	 E0 | 06  | 00 | 00 | 00 | 04
//
// With no input data, and the output data being:
//
//	Description                                        | Length
//	---------------------------------------------------+--------
//	Flags 01: arbitrary data signature enabled by user | 1 byte
//	Application major version                          | 1 byte
//	Application minor version                          | 1 byte
//	Application patch version                          | 1 byte
func (a *App) Version() ([3]byte, error) {
	reply, err := a.exchange(opGetConfiguration, 0, 0, nil)
	if err != nil {
		return [3]byte{}, err
	}
	if len(reply) != 4 {
		return [3]byte{}, errInvalidReply
	}
	var version [3]byte
	copy(version[:], reply[1:])
	return version, nil
}

// GetAddress derives the account on the given derivation path, optionally
// requiring an on-device confirmation and optionally returning the BIP 32
// chain code alongside the address.
//
// The address derivation protocol is defined as follows:
//
//	CLA | INS | P1 | P2 | Lc  | Le
//	----+-----+----+----+-----+---
//	 E0 | 02  | 00 return address
//	            01 display address and confirm before returning
//	               | 00: do not return the chain code
//	               | 01: return the chain code
//	                    | var | 00
//
// Where the input data is:
//
//	Description                                      | Length
//	-------------------------------------------------+--------
//	Number of BIP 32 derivations to perform (max 10) | 1 byte
//	First derivation index (big endian)              | 4 bytes
//	...                                              | 4 bytes
//	Last derivation index (big endian)               | 4 bytes
//
// And the output data is:
//
//	Description             | Length
//	------------------------+-------------------
//	Public Key length       | 1 byte
//	Uncompressed Public Key | arbitrary
//	Ethereum address length | 1 byte
//	Ethereum address        | 40 bytes hex ascii
//	Chain code if requested | 32 bytes
func (a *App) GetAddress(path accounts.DerivationPath, confirm bool, chainCode bool) (*Account, error) {
	p1, p2 := p1DirectlyFetchAddress, p2DiscardChainCode
	if confirm {
		p1 = p1ConfirmFetchAddress
	}
	if chainCode {
		p2 = p2ReturnChainCode
	}
	reply, err := a.exchange(opRetrieveAddress, p1, p2, derivationBytes(path))
	if err != nil {
		return nil, err
	}
	// Extract the public key entry
	if len(reply) < 1 || len(reply) < 1+int(reply[0]) {
		return nil, errors.New("ledger: reply lacks public key entry")
	}
	account := &Account{PublicKey: append(hexutil.Bytes(nil), reply[1:1+int(reply[0])]...)}
	reply = reply[1+int(reply[0]):]

	// Extract the Ethereum hex address string
	if len(reply) < 1 || len(reply) < 1+int(reply[0]) {
		return nil, errors.New("ledger: reply lacks address entry")
	}
	hexstr := reply[1 : 1+int(reply[0])]
	if _, err = hex.Decode(account.Address[:], hexstr); err != nil {
		return nil, err
	}
	reply = reply[1+int(reply[0]):]

	// Extract the chain code if one was requested
	if chainCode {
		if len(reply) < 32 {
			return nil, errors.New("ledger: reply lacks chain code entry")
		}
		account.ChainCode = append(hexutil.Bytes(nil), reply[:32]...)
	}
	return account, nil
}

// SignTransaction sends a serialized, unsigned transaction to the device and
// waits for the user to confirm or deny it. The payload is passed through
// exactly as received; the bridge never reinterprets transaction contents.
//
// The transaction signing protocol is defined as follows:
//
//	CLA | INS | P1 | P2 | Lc  | Le
//	----+-----+----+----+-----+---
//	 E0 | 04  | 00: first transaction data block
//	            80: subsequent transaction data block
//	               | 00 | variable | variable
//
// Where the input for the first transaction block (first 255 bytes) is the
// derivation path followed by the RLP transaction chunk, and subsequent blocks
// carry further RLP chunks. The output data is:
//
//	Description | Length
//	------------+---------
//	signature V | 1 byte
//	signature R | 32 bytes
//	signature S | 32 bytes
func (a *App) SignTransaction(path accounts.DerivationPath, rawTx []byte) (*Signature, error) {
	if len(rawTx) == 0 {
		return nil, errors.New("ledger: empty transaction payload")
	}
	payload := append(derivationBytes(path), rawTx...)

	var (
		op    = p1InitTransactionData
		reply []byte
		err   error
	)
	// Chunk size selection to mitigate an underlying RLP deserialization issue
	// on the ledger app for legacy transactions.
	// https://github.com/LedgerHQ/app-ethereum/issues/409
	chunk := 255
	if rawTx[0] >= 0xc0 { // legacy transactions are a bare RLP list, typed ones carry an envelope byte
		for ; len(payload)%chunk <= eip155Size; chunk-- {
		}
	}
	for len(payload) > 0 {
		if chunk > len(payload) {
			chunk = len(payload)
		}
		reply, err = a.exchange(opSignTransaction, op, 0, payload[:chunk])
		if err != nil {
			return nil, err
		}
		payload = payload[chunk:]
		op = p1ContTransactionData
	}
	return parseSignature(reply)
}

// SignPersonalMessage signs an arbitrary message following the personal_sign
// scheme (the device applies the "\x19Ethereum Signed Message:\n" prefix
// itself) and waits for on-device confirmation.
//
// The input for the first message block is the derivation path, the total
// message length on 4 big endian bytes and the first message chunk; subsequent
// blocks carry further message chunks. The output is a 65 byte signature.
func (a *App) SignPersonalMessage(path accounts.DerivationPath, message []byte) (*Signature, error) {
	payload := derivationBytes(path)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(message)))
	payload = append(payload, message...)

	var (
		op    = p1InitPersonalMessage
		reply []byte
		err   error
	)
	for chunk := 255; len(payload) > 0; {
		if chunk > len(payload) {
			chunk = len(payload)
		}
		reply, err = a.exchange(opSignPersonalMessage, op, 0, payload[:chunk])
		if err != nil {
			return nil, err
		}
		payload = payload[chunk:]
		op = p1ContPersonalMessage
	}
	return parseSignature(reply)
}

// SignTypedDataHash signs a precomputed EIP-712 hash pair and waits for
// on-device confirmation.
//
// Note: this was introduced in the ledger 1.5.0 firmware.
//
// The signing protocol is defined as follows:
//
//	CLA | INS | P1 | P2                          | Lc  | Le
//	----+-----+----+-----------------------------+-----+---
//	 E0 | 0C  | 00 | implementation version : 00 | variable | variable
//
// Where the input is the derivation path, the 32 byte domain hash and the 32
// byte message hash, and the output is a 65 byte signature.
func (a *App) SignTypedDataHash(path accounts.DerivationPath, domainHash []byte, messageHash []byte) (*Signature, error) {
	if len(domainHash) != 32 || len(messageHash) != 32 {
		return nil, errors.New("ledger: typed data hashes must be 32 bytes")
	}
	payload := append(derivationBytes(path), domainHash...)
	payload = append(payload, messageHash...)

	reply, err := a.exchange(opSignTypedMessage, p1InitTypedMessageData, 0, payload)
	if err != nil {
		return nil, err
	}
	return parseSignature(reply)
}

// exchange composes a single APDU, hands it to the transport and validates the
// status word of the reply, returning the payload with the status stripped.
func (a *App) exchange(op opcode, p1 param1, p2 param2, data []byte) ([]byte, error) {
	apdu := make([]byte, 0, 5+len(data))
	apdu = append(apdu, 0xe0, byte(op), byte(p1), byte(p2), byte(len(data)))
	apdu = append(apdu, data...)

	reply, err := a.transport.Exchange(apdu)
	if err != nil {
		return nil, err
	}
	if len(reply) < 2 {
		return nil, errInvalidReply
	}
	if sw := binary.BigEndian.Uint16(reply[len(reply)-2:]); sw != swOK {
		a.log.Debug("Ledger reported command failure", "op", fmt.Sprintf("%#x", byte(op)), "status", fmt.Sprintf("%04x", sw))
		return nil, &StatusError{Code: sw}
	}
	return reply[:len(reply)-2], nil
}

// derivationBytes flattens a derivation path into the wire encoding shared by
// all Ledger requests.
func derivationBytes(path accounts.DerivationPath) []byte {
	buf := make([]byte, 1+4*len(path))
	buf[0] = byte(len(path))
	for i, component := range path {
		binary.BigEndian.PutUint32(buf[1+4*i:], component)
	}
	return buf
}

func parseSignature(reply []byte) (*Signature, error) {
	if len(reply) != signatureLength {
		return nil, errMissingSignature
	}
	return &Signature{
		V: reply[0],
		R: append(hexutil.Bytes(nil), reply[1:33]...),
		S: append(hexutil.Bytes(nil), reply[33:65]...),
	}, nil
}
