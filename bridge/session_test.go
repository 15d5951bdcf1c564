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
	"time"

	"github.com/ethwallet/ledger-bridge/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableFor(n int) []error {
	script := make([]error, n)
	for i := range script {
		script[i] = errors.New("dial tcp 127.0.0.1:8435: connection refused")
	}
	return script
}

func TestRelayPollingTimeout(t *testing.T) {
	env := newTestEnv(t, Config{PollInterval: time.Millisecond})
	switchToRelayed(t, env)

	// One initial probe plus the full polling budget, all refused
	env.relay.script = unreachableFor(1 + 120)

	res := dispatch(t, env, Request{Action: ActionUnlock, Params: Params{HDPath: testHDPath}})
	require.Equal(t, 1, res.calls)
	require.False(t, res.ok)
	require.Equal(t, &ErrorResult{Error: "timeout waiting for Ledger Live bridge"}, res.payload)

	// Exactly 120 poll probes after the initial one, a single launch, and no
	// transport ever created
	assert.Equal(t, 121, env.relay.checks)
	assert.Equal(t, []string{transport.LaunchURL}, env.launcher.urls)
	assert.Empty(t, env.relay.opened)
	assert.Nil(t, env.bridge.session)
}

func TestRelayPollingRecovery(t *testing.T) {
	env := newTestEnv(t, Config{PollInterval: time.Millisecond})
	switchToRelayed(t, env)

	// Warm a session up while the bridge is reachable
	res := dispatch(t, env, Request{Action: ActionUnlock, Params: Params{HDPath: testHDPath}})
	require.True(t, res.ok)
	require.Len(t, env.relay.opened, 1)
	cached := env.relay.opened[0]

	// Kill the endpoint for the initial probe only; the first poll probe
	// succeeds and triggers the recovery path
	env.relay.script = unreachableFor(1)

	res = dispatch(t, env, Request{Action: ActionUnlock, Params: Params{HDPath: testHDPath}})
	require.True(t, res.ok)

	require.Len(t, env.launcher.urls, 1)
	// Whatever was cached predates the recovery and must have been replaced
	assert.True(t, cached.closed)
	require.Len(t, env.relay.opened, 2)
	assert.False(t, env.relay.opened[1].closed)
}

func TestRelayPollingStopsAtFirstSuccess(t *testing.T) {
	env := newTestEnv(t, Config{PollInterval: time.Millisecond})
	switchToRelayed(t, env)

	// Initial probe plus four poll probes fail, the fifth poll succeeds
	env.relay.script = unreachableFor(5)

	res := dispatch(t, env, Request{Action: ActionUnlock, Params: Params{HDPath: testHDPath}})
	require.True(t, res.ok)
	assert.Equal(t, 6, env.relay.checks)
	assert.Len(t, env.relay.opened, 1)
}

func TestRelayLaunchFailure(t *testing.T) {
	env := newTestEnv(t, Config{PollInterval: time.Millisecond})
	switchToRelayed(t, env)

	env.relay.script = unreachableFor(1)
	env.launcher.err = errors.New("exec: \"xdg-open\": executable file not found in $PATH")

	res := dispatch(t, env, Request{Action: ActionUnlock, Params: Params{HDPath: testHDPath}})
	require.Equal(t, 1, res.calls)
	require.False(t, res.ok)

	// No polling happens when the launch itself fails
	assert.Equal(t, 1, env.relay.checks)
	assert.Empty(t, env.relay.opened)
}

func TestRelayOpenFailedClassifiedAsLocked(t *testing.T) {
	env := newTestEnv(t, Config{PollInterval: time.Millisecond})
	switchToRelayed(t, env)

	env.relay.openErr = fmt.Errorf("OpenFailed: unable to claim device")

	res := dispatch(t, env, Request{Action: ActionUnlock, Params: Params{HDPath: testHDPath}})
	require.Equal(t, 1, res.calls)
	require.False(t, res.ok)
	assert.Equal(t, &ErrorResult{Error: ErrCodeLocked}, res.payload)
	assert.Nil(t, env.bridge.session)
}

func TestDirectDeviceFailurePropagates(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.device.err = transport.ErrDeviceNotFound

	res := dispatch(t, env, Request{Action: ActionUnlock, Params: Params{HDPath: testHDPath}})
	require.Equal(t, 1, res.calls)
	require.False(t, res.ok)
	require.Equal(t, &ErrorResult{Error: transport.ErrDeviceNotFound.Error()}, res.payload)
}
