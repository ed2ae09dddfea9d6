package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/urfave/cli"
)

var bumpChannelOpenCommand = cli.Command{
	Name:     "bumpchannelopen",
	Category: "On-chain",
	Usage:    "Bump the fee of an unconfirmed transaction with CPFP.",
	Description: `
	Creates a Child-Pays-For-Parent (CPFP) transaction to increase the
	feerate of a specified wallet output, typically the change of a channel
	funding transaction stuck in the mempool.

	The amount either fixes the child's fee outright with a 'sats' suffix,
	or names a feerate target in sat/vB for the parent and child together
	with a 'satvb' suffix. With a feerate target the child pays only what
	is missing, and no transaction is created when the parent alone
	already meets the target.

	The child transaction is signed and finalized but not broadcast, and
	its input stays reserved so no other spend competes for it. Pass yolo
	to broadcast it in the same call.`,
	ArgsUsage: "txid vout amount [yolo]",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "txid",
			Usage: "the id of the unconfirmed parent transaction",
		},
		cli.Int64Flag{
			Name: "vout",
			Usage: "the index of the parent output that belongs " +
				"to the wallet",
		},
		cli.StringFlag{
			Name: "amount",
			Usage: "the fee target, either '<n>sats' for a fixed " +
				"child fee or '<n>satvb' for a package " +
				"feerate target",
		},
		cli.BoolFlag{
			Name: "yolo",
			Usage: "broadcast the child transaction right away " +
				"instead of leaving it for inspection",
		},
	},
	Action: actionDecorator(bumpChannelOpen),
}

func bumpChannelOpen(ctx *cli.Context) error {
	var (
		txid   string
		vout   int64
		amount string
		err    error
	)
	ctxc := getContext()
	client, cleanUp := getClient(ctx)
	defer cleanUp()

	args := ctx.Args()

	switch {
	case ctx.IsSet("txid"):
		txid = ctx.String("txid")
	case args.Present():
		txid = args.First()
		args = args.Tail()
	default:
		return fmt.Errorf("txid argument missing")
	}

	switch {
	case ctx.IsSet("vout"):
		vout = ctx.Int64("vout")
	case args.Present():
		vout, err = strconv.ParseInt(args.First(), 10, 64)
		if err != nil {
			return fmt.Errorf("unable to decode vout argument: %v",
				err)
		}
		args = args.Tail()
	default:
		return fmt.Errorf("vout argument missing")
	}

	switch {
	case ctx.IsSet("amount"):
		amount = ctx.String("amount")
	case args.Present():
		amount = args.First()
		args = args.Tail()
	default:
		return fmt.Errorf("amount argument missing")
	}

	params := struct {
		Txid   string `json:"txid"`
		Vout   int64  `json:"vout"`
		Amount string `json:"amount"`
		Yolo   string `json:"yolo,omitempty"`
	}{
		Txid:   txid,
		Vout:   vout,
		Amount: amount,
	}

	// Anything trailing is passed through as the yolo flag so the server
	// side gets to judge it.
	if ctx.Bool("yolo") {
		params.Yolo = "yolo"
	} else if args.Present() {
		params.Yolo = args.First()
	}

	var resp json.RawMessage
	err = client.Call(ctxc, "bumpchannelopen", params, &resp)
	if err != nil {
		return err
	}

	printRespJSON(resp)

	return nil
}
