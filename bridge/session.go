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
	"time"

	"github.com/ethwallet/ledger-bridge/transport"
)

// errRelayTimeout is returned when the Ledger Live bridge endpoint never
// became reachable within the polling budget.
var errRelayTimeout = errors.New("timeout waiting for Ledger Live bridge")

// session is a live transport/signing-app pair. The two are created together
// and torn down together; a session is never partially mutated, only replaced
// wholesale through setSession.
type session struct {
	transport transport.Transport
	app       SigningApp
	relayed   bool
}

// setSession atomically swaps the current session for a new one, closing
// whatever pair was active before. Every session transition in the bridge
// funnels through here.
func (b *Bridge) setSession(s *session) {
	if old := b.session; old != nil {
		if err := old.transport.Close(); err != nil {
			b.log.Debug("Stale transport close failed", "err", err)
		}
	}
	b.session = s
}

// ensureSession guarantees a live transport/app pair matching the current
// connection mode before a device operation runs. Acquisition failures are
// logged and returned, never swallowed.
func (b *Bridge) ensureSession() (*session, error) {
	if b.mode == ModeRelayed {
		return b.ensureRelaySession()
	}
	// Direct connections are one-shot: a fresh device handle is opened for
	// every operation, stale pairs included.
	b.setSession(nil)
	t, err := b.cfg.Device.Open()
	if err != nil {
		b.log.Warn("Ledger device unavailable", "err", err)
		return nil, err
	}
	s := &session{transport: t, app: b.newApp(t)}
	b.setSession(s)
	return s, nil
}

// ensureRelaySession resolves a session against the Ledger Live bridge. If
// the endpoint answers the probe, any cached session is still considered
// valid and reused. If not, Ledger Live is launched and the endpoint polled
// until it comes up or the attempt budget runs out; a session predating such
// a recovery is treated as stale and replaced unconditionally.
func (b *Bridge) ensureRelaySession() (*session, error) {
	if err := b.cfg.Relay.Check(b.cfg.RelayURL); err == nil {
		if b.session != nil {
			return b.session, nil
		}
		return b.openRelaySession()
	}
	b.log.Info("Ledger Live bridge unreachable, launching", "url", b.cfg.LaunchURL)
	if err := b.cfg.Launcher.Launch(b.cfg.LaunchURL); err != nil {
		b.log.Warn("Ledger Live launch failed", "err", err)
		return nil, err
	}
	if err := b.pollRelay(); err != nil {
		return nil, err
	}
	b.setSession(nil)
	return b.openRelaySession()
}

// openRelaySession dials the bridge endpoint and installs the resulting pair
// as the current session.
func (b *Bridge) openRelaySession() (*session, error) {
	t, err := b.cfg.Relay.Open(b.cfg.RelayURL)
	if err != nil {
		b.log.Warn("Ledger Live transport failed", "err", err)
		return nil, err
	}
	s := &session{transport: t, app: b.newApp(t), relayed: true}
	b.setSession(s)
	return s, nil
}

// pollRelay probes the bridge endpoint on a fixed interval until it answers
// or the attempt budget is exhausted. Interval and budget come from the
// config so tests can run the loop without wall-clock waits.
func (b *Bridge) pollRelay() error {
	for attempt := 1; attempt <= b.cfg.PollAttempts; attempt++ {
		time.Sleep(b.cfg.PollInterval)
		if err := b.cfg.Relay.Check(b.cfg.RelayURL); err == nil {
			b.log.Debug("Ledger Live bridge reachable", "attempt", attempt)
			return nil
		}
	}
	b.log.Warn("Ledger Live bridge never came up", "attempts", b.cfg.PollAttempts)
	return errRelayTimeout
}
