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

// Package bridge implements a message-dispatch bridge between a host
// application and a Ledger hardware wallet. Requests arrive as action
// envelopes, run against the device over a direct USB transport or relayed
// through the Ledger Live desktop application, and report back through a
// completion callback. The bridge is a pure pass-through for operation
// semantics; its own concerns are transport selection, relay recovery and
// error classification.
package bridge

import (
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethwallet/ledger-bridge/ledgerapp"
	"github.com/ethwallet/ledger-bridge/transport"
)

// Action names accepted by Dispatch.
const (
	ActionUnlock              = "ledger-unlock"
	ActionSignTransaction     = "ledger-sign-transaction"
	ActionSignPersonalMessage = "ledger-sign-personal-message"
	ActionSignTypedData       = "ledger-sign-typed-data"
	ActionUpdateTransport     = "ledger-update-transport"
	ActionCloseBridge         = "ledger-close-bridge"
)

// ConnectionMode selects how the bridge reaches the device.
type ConnectionMode int

const (
	// ModeDirect talks to a locally attached device over USB HID. This is the
	// default.
	ModeDirect ConnectionMode = iota

	// ModeRelayed tunnels device traffic through the WebSocket bridge of the
	// Ledger Live desktop application.
	ModeRelayed
)

// SigningApp is the device-side collaborator the bridge drives. It is
// implemented by *ledgerapp.App over a live transport; tests substitute stubs
// through the app factory.
type SigningApp interface {
	GetAddress(path accounts.DerivationPath, confirm bool, chainCode bool) (*ledgerapp.Account, error)
	SignTransaction(path accounts.DerivationPath, rawTx []byte) (*ledgerapp.Signature, error)
	SignPersonalMessage(path accounts.DerivationPath, message []byte) (*ledgerapp.Signature, error)
	SignTypedDataHash(path accounts.DerivationPath, domainHash []byte, messageHash []byte) (*ledgerapp.Signature, error)
}

// Request is one dispatch envelope: an action name plus the parameters the
// action consumes.
type Request struct {
	Action string `json:"action"`
	Params Params `json:"params"`
}

// Params carries the union of all operation parameters. Each action reads
// only the fields it needs; the rest stay zero.
type Params struct {
	HDPath            string        `json:"hdPath,omitempty"`
	Tx                hexutil.Bytes `json:"tx,omitempty"`
	Message           hexutil.Bytes `json:"message,omitempty"`
	DomainSeparator   hexutil.Bytes `json:"domainSeparatorHex,omitempty"`
	HashStructMessage hexutil.Bytes `json:"hashStructMessageHex,omitempty"`
	UseLedgerLive     bool          `json:"useLedgerLive,omitempty"`
}

// ErrorResult is the failure payload handed to the callback, carrying a
// classified error code or the raw error description.
type ErrorResult struct {
	Error string `json:"error"`
}

// Callback reports the outcome of a dispatched operation. Every known action
// invokes it exactly once; unknown actions invoke it not at all unless strict
// mode is enabled.
type Callback func(ok bool, payload any)

// Config collects the tunables and collaborators of a bridge.
type Config struct {
	RelayURL      string        // Ledger Live bridge endpoint to probe and dial
	LaunchURL     string        // deep link used to start Ledger Live
	PollInterval  time.Duration // delay between reachability probes while waiting for the bridge
	PollAttempts  int           // probe budget before relay acquisition times out
	StrictActions bool          // surface UNKNOWN_ACTION instead of dropping unknown dispatches

	Device   transport.DeviceProvider
	Relay    transport.RelayProvider
	Launcher transport.Launcher
}

// DefaultConfig returns a config wired against the real platform providers
// and the stock Ledger Live endpoints.
func DefaultConfig() Config {
	return Config{
		RelayURL:     transport.BridgeURL,
		LaunchURL:    transport.LaunchURL,
		PollInterval: time.Second,
		PollAttempts: 120,
		Device:       transport.NewUSBProvider(),
		Relay:        transport.NewWSProvider(),
		Launcher:     transport.OSLauncher{},
	}
}

func (cfg Config) withDefaults() Config {
	d := DefaultConfig()
	if cfg.RelayURL == "" {
		cfg.RelayURL = d.RelayURL
	}
	if cfg.LaunchURL == "" {
		cfg.LaunchURL = d.LaunchURL
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.PollAttempts == 0 {
		cfg.PollAttempts = d.PollAttempts
	}
	if cfg.Device == nil {
		cfg.Device = d.Device
	}
	if cfg.Relay == nil {
		cfg.Relay = d.Relay
	}
	if cfg.Launcher == nil {
		cfg.Launcher = d.Launcher
	}
	return cfg
}

// Bridge routes signing requests from a host application to a Ledger device.
//
// A bridge serves one logical caller: callers must not issue a second
// dispatch before the callback of a prior one has fired. There is no internal
// serialization of overlapping requests.
type Bridge struct {
	cfg     Config
	mode    ConnectionMode
	session *session

	newApp func(transport.Transport) SigningApp // factory so tests can stub the device application

	log log.Logger
}

// New creates a bridge in direct mode with no session established.
func New(cfg Config) *Bridge {
	return &Bridge{
		cfg:    cfg.withDefaults(),
		newApp: func(t transport.Transport) SigningApp { return ledgerapp.New(t) },
		log:    log.New("bridge", "ledger"),
	}
}

// Dispatch looks the action up and runs the matching operation, reporting the
// result through cb. Unknown actions are dropped without invoking cb; with
// StrictActions set they fail with UNKNOWN_ACTION instead.
func (b *Bridge) Dispatch(req Request, cb Callback) {
	switch req.Action {
	case ActionUnlock:
		b.unlock(req.Params, cb)
	case ActionSignTransaction:
		b.signTransaction(req.Params, cb)
	case ActionSignPersonalMessage:
		b.signPersonalMessage(req.Params, cb)
	case ActionSignTypedData:
		b.signTypedData(req.Params, cb)
	case ActionUpdateTransport:
		b.updateTransport(req.Params, cb)
	case ActionCloseBridge:
		b.closeBridge(cb)
	default:
		if b.cfg.StrictActions {
			cb(false, &ErrorResult{Error: ErrCodeUnknownAction})
			return
		}
		b.log.Debug("Dropping unknown bridge action", "action", req.Action)
	}
}

// run executes one device operation: acquire a session, invoke the signing
// app, classify any failure and apply the teardown policy. Relayed sessions
// stay warm across calls unless the operation opted out of keeping them.
func (b *Bridge) run(cb Callback, keepRelayed bool, op func(app SigningApp) (any, error)) {
	s, err := b.ensureSession()
	if err != nil {
		cb(false, &ErrorResult{Error: Classify(err)})
		return
	}
	result, err := op(s.app)

	if !keepRelayed || !s.relayed {
		b.setSession(nil)
	}
	if err != nil {
		cb(false, &ErrorResult{Error: Classify(err)})
		return
	}
	cb(true, result)
}

// unlock derives the account on the requested path without on-device
// confirmation, returning the address, public key and chain code.
func (b *Bridge) unlock(p Params, cb Callback) {
	path, err := accounts.ParseDerivationPath(p.HDPath)
	if err != nil {
		cb(false, &ErrorResult{Error: Classify(err)})
		return
	}
	b.run(cb, true, func(app SigningApp) (any, error) {
		return app.GetAddress(path, false, true)
	})
}

func (b *Bridge) signTransaction(p Params, cb Callback) {
	path, err := accounts.ParseDerivationPath(p.HDPath)
	if err != nil {
		cb(false, &ErrorResult{Error: Classify(err)})
		return
	}
	b.run(cb, true, func(app SigningApp) (any, error) {
		return app.SignTransaction(path, p.Tx)
	})
}

func (b *Bridge) signPersonalMessage(p Params, cb Callback) {
	path, err := accounts.ParseDerivationPath(p.HDPath)
	if err != nil {
		cb(false, &ErrorResult{Error: Classify(err)})
		return
	}
	b.run(cb, true, func(app SigningApp) (any, error) {
		return app.SignPersonalMessage(path, p.Message)
	})
}

// signTypedData signs a precomputed EIP-712 hash pair. Unlike the other
// signing operations it tears the session down unconditionally afterwards,
// relayed or not: typed-data signing is treated as a one-shot flow.
func (b *Bridge) signTypedData(p Params, cb Callback) {
	path, err := accounts.ParseDerivationPath(p.HDPath)
	if err != nil {
		cb(false, &ErrorResult{Error: Classify(err)})
		return
	}
	b.run(cb, false, func(app SigningApp) (any, error) {
		return app.SignTypedDataHash(path, p.DomainSeparator, p.HashStructMessage)
	})
}

// updateTransport switches the connection mode. Any live session is torn down
// so the next operation re-acquires under the new mode. No device I/O happens
// here; the callback fires synchronously.
func (b *Bridge) updateTransport(p Params, cb Callback) {
	if p.UseLedgerLive {
		b.mode = ModeRelayed
	} else {
		b.mode = ModeDirect
	}
	b.setSession(nil)
	b.log.Debug("Bridge transport updated", "ledgerlive", p.UseLedgerLive)
	cb(true, nil)
}

// closeBridge tears down any live session and reports synchronously.
func (b *Bridge) closeBridge(cb Callback) {
	b.setSession(nil)
	cb(true, nil)
}

// Mode returns the current connection mode.
func (b *Bridge) Mode() ConnectionMode {
	return b.mode
}
