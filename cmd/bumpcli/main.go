// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (C) 2015-2022 The Lightning Network Developers

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli"

	"github.com/chainbump/bumpd"
	"github.com/chainbump/bumpd/build"
	"github.com/chainbump/bumpd/cln"
	"github.com/chainbump/bumpd/signal"
)

const (
	// defaultNetwork is the network directory lightningd uses on mainnet.
	defaultNetwork = "bitcoin"

	// defaultRPCFilename is the socket file lightningd serves its RPC
	// interface on, relative to the network directory.
	defaultRPCFilename = "lightning-rpc"

	// rpcCodeMethodNotFound is the JSON-RPC code lightningd answers with
	// when a method does not exist, which for our methods means the bumpd
	// plugin is not loaded.
	rpcCodeMethodNotFound = -32601
)

var (
	defaultLightningDir = btcutil.AppDataDir("lightning", false)
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[bumpcli] %v\n", err)
	os.Exit(1)
}

// getContext returns a context canceled when the process receives an
// interrupt, so a stuck call can be abandoned with ctrl-c.
func getContext() context.Context {
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctxc, cancel := context.WithCancel(context.Background())
	go func() {
		<-shutdownInterceptor.ShutdownChannel()
		cancel()
	}()
	return ctxc
}

// socketPath returns the path of lightningd's rpc socket, either as given
// explicitly or derived from the lightning directory and network the same
// way lightningd lays them out.
func socketPath(ctx *cli.Context) string {
	if path := ctx.GlobalString("rpcfile"); path != "" {
		return bumpd.CleanAndExpandPath(path)
	}

	lightningDir := bumpd.CleanAndExpandPath(
		ctx.GlobalString("lightningdir"),
	)

	return filepath.Join(
		lightningDir, ctx.GlobalString("network"), defaultRPCFilename,
	)
}

func getClient(ctx *cli.Context) (*cln.Client, func()) {
	client := cln.NewClient(socketPath(ctx))

	cleanUp := func() {
		client.Close()
	}

	return client, cleanUp
}

func printRespJSON(resp json.RawMessage) {
	var out bytes.Buffer
	if err := json.Indent(&out, resp, "", "    "); err != nil {
		fatal(err)
	}

	fmt.Println(out.String())
}

// actionDecorator is used to add additional information and error handling
// to command actions.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if err := f(c); err != nil {
			// lightningd answers with method-not-found when the
			// plugin is not loaded, which deserves a clearer
			// message than the raw code.
			var rpcErr *cln.RPCError
			if errors.As(err, &rpcErr) &&
				rpcErr.Code == rpcCodeMethodNotFound {

				return fmt.Errorf("%s is not available, is "+
					"the bumpd plugin loaded?",
					c.Command.Name)
			}

			return err
		}

		return nil
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "bumpcli"
	app.Version = build.Version()
	app.Usage = "control plane for your Core Lightning fee bumping " +
		"plugin (bumpd)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name: "rpcfile",
			Usage: "The full path to lightningd's rpc socket. " +
				"Overrides lightningdir and network.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "lightningdir",
			Value:     defaultLightningDir,
			Usage:     "The path to lightningd's base directory.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network lightningd is running on, e.g. " +
				"bitcoin, testnet, regtest.",
			Value: defaultNetwork,
		},
	}
	app.Commands = []cli.Command{
		bumpChannelOpenCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
