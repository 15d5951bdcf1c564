// Copyright 2025 The ledger-bridge Authors
// This file is part of ledger-bridge.
//
// ledger-bridge is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ledger-bridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with ledger-bridge. If not, see <http://www.gnu.org/licenses/>.

// ledger-bridge exposes the hardware wallet dispatch surface to host
// applications over a local WebSocket endpoint.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethwallet/ledger-bridge/bridge"
	"github.com/ethwallet/ledger-bridge/transport"
	"github.com/rs/cors"
	"github.com/urfave/cli/v2"
)

var (
	listenAddrFlag = &cli.StringFlag{
		Name:  "addr",
		Usage: "Listening address for the host-facing WebSocket endpoint",
		Value: "localhost:8841",
	}
	ledgerLiveFlag = &cli.BoolFlag{
		Name:  "ledgerlive",
		Usage: "Start in relayed mode, tunneling through the Ledger Live bridge",
	}
	bridgeURLFlag = &cli.StringFlag{
		Name:  "bridge.url",
		Usage: "WebSocket endpoint of the Ledger Live device bridge",
		Value: transport.BridgeURL,
	}
	launchURLFlag = &cli.StringFlag{
		Name:  "bridge.launch",
		Usage: "Deep link used to start Ledger Live when its bridge is down",
		Value: transport.LaunchURL,
	}
	strictFlag = &cli.BoolFlag{
		Name:  "strict",
		Usage: "Reply with an UNKNOWN_ACTION error instead of dropping unrecognized actions",
	}
	originsFlag = &cli.StringSliceFlag{
		Name:  "origins",
		Usage: "Origins from which to accept browser requests (CORS)",
		Value: cli.NewStringSlice("*"),
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:  "ledger-bridge",
		Usage: "dispatch bridge between host applications and Ledger hardware wallets",
		Flags: []cli.Flag{
			listenAddrFlag,
			ledgerLiveFlag,
			bridgeURLFlag,
			launchURLFlag,
			strictFlag,
			originsFlag,
			verbosityFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, false))
	glogger.Verbosity(log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)))
	log.SetDefault(log.NewLogger(glogger))

	cfg := bridge.DefaultConfig()
	cfg.RelayURL = ctx.String(bridgeURLFlag.Name)
	cfg.LaunchURL = ctx.String(launchURLFlag.Name)
	cfg.StrictActions = ctx.Bool(strictFlag.Name)

	b := bridge.New(cfg)
	if ctx.Bool(ledgerLiveFlag.Name) {
		b.Dispatch(bridge.Request{
			Action: bridge.ActionUpdateTransport,
			Params: bridge.Params{UseLedgerLive: true},
		}, func(bool, any) {})
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: ctx.StringSlice(originsFlag.Name),
	}).Handler(newServer(b))

	addr := ctx.String(listenAddrFlag.Name)
	log.Info("Ledger bridge listening", "addr", addr, "ledgerlive", ctx.Bool(ledgerLiveFlag.Name))
	return http.ListenAndServe(addr, handler)
}
