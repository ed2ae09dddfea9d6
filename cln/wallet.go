package cln

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// OutputConfirmed marks a listfunds output whose funding transaction
	// has been mined.
	OutputConfirmed = "confirmed"

	// OutputUnconfirmed marks a listfunds output that is still waiting in
	// the mempool.
	OutputUnconfirmed = "unconfirmed"
)

// MSat is an amount of millisatoshis as lightningd reports them. Modern
// releases encode these as bare JSON numbers while older ones used strings
// with an "msat" suffix, so decoding accepts both.
type MSat uint64

// UnmarshalJSON decodes either a JSON number or a legacy "123msat" string.
func (m *MSat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}

		str = strings.TrimSuffix(str, "msat")
		value, err := strconv.ParseUint(str, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid msat amount %q: %w", str,
				err)
		}

		*m = MSat(value)
		return nil
	}

	var value uint64
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}

	*m = MSat(value)
	return nil
}

// ToSat converts the amount to whole satoshis, truncating any sub-satoshi
// remainder.
func (m MSat) ToSat() btcutil.Amount {
	return btcutil.Amount(m / 1000)
}

// String returns the amount formatted with its msat unit.
func (m MSat) String() string {
	return fmt.Sprintf("%d msat", uint64(m))
}

// ListFundsOutput is a single wallet UTXO as reported by listfunds.
type ListFundsOutput struct {
	Txid         string `json:"txid"`
	Output       uint32 `json:"output"`
	AmountMsat   MSat   `json:"amount_msat"`
	ScriptPubkey string `json:"scriptpubkey"`
	Address      string `json:"address"`
	Status       string `json:"status"`
	Reserved     bool   `json:"reserved"`
	Blockheight  uint32 `json:"blockheight"`
}

// Confirmed reports whether the output's funding transaction is mined.
func (o *ListFundsOutput) Confirmed() bool {
	return o.Status == OutputConfirmed
}

// ListFundsResponse is the wallet view returned by listfunds. Channel funds
// are intentionally not decoded, only on-chain outputs matter here.
type ListFundsResponse struct {
	Outputs []*ListFundsOutput `json:"outputs"`
}

// GetInfoResponse carries the subset of getinfo used to identify the node
// and the chain it runs on.
type GetInfoResponse struct {
	ID          string `json:"id"`
	Alias       string `json:"alias"`
	Network     string `json:"network"`
	Blockheight uint32 `json:"blockheight"`
	Version     string `json:"version"`
}

// NewAddrResponse is the address pair minted by newaddr.
type NewAddrResponse struct {
	Bech32 string `json:"bech32"`
	P2TR   string `json:"p2tr"`
}

// AddressListing is one entry of the listaddresses result.
type AddressListing struct {
	KeyIdx uint64 `json:"keyidx"`
	Bech32 string `json:"bech32"`
	P2TR   string `json:"p2tr"`
}

// ListAddressesResponse enumerates every address the wallet has handed out.
type ListAddressesResponse struct {
	Addresses []*AddressListing `json:"addresses"`
}

// Reservation describes the state transition of one input after a
// reserveinputs or unreserveinputs call.
type Reservation struct {
	Txid            string `json:"txid"`
	Vout            uint32 `json:"vout"`
	WasReserved     bool   `json:"was_reserved"`
	Reserved        bool   `json:"reserved"`
	ReservedToBlock uint32 `json:"reserved_to_block"`
}

// ReserveInputsResponse lists the reservations taken out by reserveinputs.
type ReserveInputsResponse struct {
	Reservations []*Reservation `json:"reservations"`
}

// UnreserveInputsResponse lists the reservations released by
// unreserveinputs.
type UnreserveInputsResponse struct {
	Reservations []*Reservation `json:"reservations"`
}

// SignPsbtResponse carries the PSBT with the wallet's signatures attached.
type SignPsbtResponse struct {
	SignedPsbt string `json:"signed_psbt"`
}

// ListFunds returns the wallet's current on-chain outputs.
func (c *Client) ListFunds(ctx context.Context) (*ListFundsResponse, error) {
	var resp ListFundsResponse
	err := c.Call(ctx, "listfunds", nil, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// GetInfo returns the node identity and network information.
func (c *Client) GetInfo(ctx context.Context) (*GetInfoResponse, error) {
	var resp GetInfoResponse
	err := c.Call(ctx, "getinfo", nil, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// NewAddr asks the wallet to mint a fresh receive address.
func (c *Client) NewAddr(ctx context.Context) (*NewAddrResponse, error) {
	var resp NewAddrResponse
	err := c.Call(ctx, "newaddr", nil, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// ListAddresses returns every address previously issued by the wallet.
func (c *Client) ListAddresses(ctx context.Context) (*ListAddressesResponse,
	error) {

	var resp ListAddressesResponse
	err := c.Call(ctx, "listaddresses", nil, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// ReserveInputs marks the inputs of the given PSBT as reserved so no other
// spend will double use them. With exclusive set, already reserved inputs
// cause the call to fail.
func (c *Client) ReserveInputs(ctx context.Context, psbt string,
	exclusive bool) (*ReserveInputsResponse, error) {

	params := struct {
		Psbt      string `json:"psbt"`
		Exclusive bool   `json:"exclusive"`
	}{
		Psbt:      psbt,
		Exclusive: exclusive,
	}

	var resp ReserveInputsResponse
	err := c.Call(ctx, "reserveinputs", &params, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// UnreserveInputs releases the reservations held on the inputs of the given
// PSBT.
func (c *Client) UnreserveInputs(ctx context.Context,
	psbt string) (*UnreserveInputsResponse, error) {

	params := struct {
		Psbt string `json:"psbt"`
	}{
		Psbt: psbt,
	}

	var resp UnreserveInputsResponse
	err := c.Call(ctx, "unreserveinputs", &params, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// SignPsbt asks the wallet to sign every input of the PSBT it has keys for.
// The inputs must have been reserved beforehand, lightningd refuses to sign
// unreserved inputs.
func (c *Client) SignPsbt(ctx context.Context,
	psbt string) (*SignPsbtResponse, error) {

	params := struct {
		Psbt string `json:"psbt"`
	}{
		Psbt: psbt,
	}

	var resp SignPsbtResponse
	err := c.Call(ctx, "signpsbt", &params, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}
