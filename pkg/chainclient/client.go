// Package chainclient implements spec.md §4.2's typed wrappers over RpcPool:
// block/account/access-key queries, view calls, signed tx submission, and
// tx-status polling. Per spec.md §9's "Polymorphic RPC client" design note,
// the capability set is expressed as small interfaces (AccountInfo,
// ViewContract, SendTx, GasInfo) so the swap and router packages can be
// generic over a live client, a simulation replay client, or a test fake.
//
// The teacher's domain dependency, go-ethereum, supplies two pieces that
// transfer directly to a non-EVM JSON-RPC 2.0 chain: rpc.Client (transport-
// agnostic JSON-RPC 2.0 over HTTP) and common.Hash (a plain 32-byte wrapper),
// per SPEC_FULL.md's DOMAIN STACK. EVM ABI encoding/ECDSA signing do not
// transfer and are replaced by plain JSON args and crypto/ed25519 (signer.go).
package chainclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/ref-trader/reftrader/internal/boterr"
	"github.com/ref-trader/reftrader/pkg/rpcpool"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// BlockInfo is the subset of the chain's `block` RPC response the bot needs.
type BlockInfo struct {
	Hash   common.Hash
	Height uint64
}

// AccessKeyInfo is the subset of the chain's `ViewAccessKey` response the bot
// needs to build a transaction: the signer's current nonce.
type AccessKeyInfo struct {
	Nonce uint64
}

// GasPrice is the per-unit gas cost returned by `gas_price`, in yocto.
type GasPrice struct {
	YoctoPerGas int64
}

// TxHandle opaquely identifies a broadcast transaction (its hash) plus a
// back-reference to the client for status polling, per spec.md §4.2.
type TxHandle struct {
	Hash   common.Hash
	client *Client
}

// TxOutcome is the terminal execution result of an awaited transaction.
type TxOutcome struct {
	Success bool
	Status  string
}

// AccountInfo is the capability to query native balance.
type AccountInfo interface {
	GetNativeBalance(ctx context.Context, account tokenaccount.Account) (*big.Int, error)
}

// ViewContract is the capability to perform a read-only contract call.
type ViewContract interface {
	ViewContract(ctx context.Context, receiver tokenaccount.Account, method string, args any) ([]byte, error)
}

// GasInfo is the capability to read the current gas price.
type GasInfo interface {
	GetGasPrice(ctx context.Context, block *uint64) (GasPrice, error)
}

// SendTx is the capability to sign and broadcast a transaction.
type SendTx interface {
	SendTx(ctx context.Context, signer *Signer, receiver tokenaccount.Account, actions []byte) (TxHandle, error)
	AwaitTxFinal(ctx context.Context, handle TxHandle) (TxOutcome, error)
}

// Client is the live implementation of every capability above, transporting
// calls through an RpcPool of JSON-RPC 2.0 endpoints.
type Client struct {
	pool    *rpcpool.Pool
	timeout time.Duration
}

// New builds a Client backed by pool. timeout bounds every individual call's
// deadline (spec.md §5 "RPC calls carry per-call deadlines").
func New(pool *rpcpool.Pool, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{pool: pool, timeout: timeout}
}

// dial opens a short-lived ethrpc.Client against ep for one call. Real
// deployments could hold a long-lived client per endpoint; recreating it per
// call keeps endpoint rotation (and failure quarantine) simple and matches
// the teacher's per-call ethclient.Dial pattern in cmd/main.go.
func dial(ctx context.Context, url string) (*ethrpc.Client, error) {
	c, err := ethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, rpcpool.ErrTransportSend
	}
	return c, nil
}

func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// GetRecentFinalBlock fetches the most recent final block's hash and height.
func (c *Client) GetRecentFinalBlock(ctx context.Context) (BlockInfo, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var out struct {
		Header struct {
			Hash   string `json:"hash"`
			Height uint64 `json:"height"`
		} `json:"header"`
	}
	err := c.pool.Call(ctx, func(ctx context.Context, ep rpcpool.Endpoint) error {
		rc, err := dial(ctx, ep.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		return rc.CallContext(ctx, &out, "block", map[string]string{"finality": "final"})
	})
	if err != nil {
		return BlockInfo{}, err
	}
	return BlockInfo{Hash: common.HexToHash(out.Header.Hash), Height: out.Header.Height}, nil
}

// GetGasPrice fetches the current (or historical, if block is non-nil) gas price.
func (c *Client) GetGasPrice(ctx context.Context, block *uint64) (GasPrice, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var out struct {
		GasPrice string `json:"gas_price"`
	}
	params := []any{nil}
	if block != nil {
		params[0] = *block
	}
	err := c.pool.Call(ctx, func(ctx context.Context, ep rpcpool.Endpoint) error {
		rc, err := dial(ctx, ep.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		return rc.CallContext(ctx, &out, "gas_price", params...)
	})
	if err != nil {
		return GasPrice{}, err
	}
	var price big.Int
	price.SetString(out.GasPrice, 10)
	return GasPrice{YoctoPerGas: price.Int64()}, nil
}

// GetNativeBalance fetches account's native-token balance via a ViewAccount query.
func (c *Client) GetNativeBalance(ctx context.Context, account tokenaccount.Account) (*big.Int, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var out struct {
		Amount string `json:"amount"`
	}
	err := c.pool.Call(ctx, func(ctx context.Context, ep rpcpool.Endpoint) error {
		rc, err := dial(ctx, ep.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		return rc.CallContext(ctx, &out, "query", map[string]string{
			"request_type": "view_account",
			"finality":     "final",
			"account_id":   account.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(out.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("chainclient: unparseable balance %q", out.Amount)
	}
	return bal, nil
}

// GetAccessKey fetches signer's current access key, used for nonce sequencing.
func (c *Client) GetAccessKey(ctx context.Context, signer tokenaccount.Account, publicKey string) (AccessKeyInfo, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	err := c.pool.Call(ctx, func(ctx context.Context, ep rpcpool.Endpoint) error {
		rc, err := dial(ctx, ep.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		return rc.CallContext(ctx, &out, "query", map[string]string{
			"request_type":   "view_access_key",
			"finality":       "final",
			"account_id":   signer.String(),
			"public_key":   publicKey,
		})
	})
	if err != nil {
		return AccessKeyInfo{}, err
	}
	return AccessKeyInfo{Nonce: out.Nonce}, nil
}

// ViewContract performs a read-only CallFunction query against receiver.
func (c *Client) ViewContract(ctx context.Context, receiver tokenaccount.Account, method string, args any) ([]byte, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("chainclient: marshal view args: %w", err)
	}
	var out struct {
		Result []byte `json:"result"`
	}
	err = c.pool.Call(ctx, func(ctx context.Context, ep rpcpool.Endpoint) error {
		rc, err := dial(ctx, ep.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		return rc.CallContext(ctx, &out, "query", map[string]any{
			"request_type": "call_function",
			"finality":     "final",
			"account_id":   receiver.String(),
			"method_name":  method,
			"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
		})
	})
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

// FunctionCallAction is the JSON shape of one FunctionCall action the router
// and FT contracts accept: a method name, JSON args, an attached deposit (in
// yocto), and a gas allowance.
type FunctionCallAction struct {
	MethodName string          `json:"method_name"`
	Args       json.RawMessage `json:"args"`
	Gas        uint64          `json:"gas"`
	Deposit    string          `json:"deposit"`
}

// defaultGas is the gas allowance attached to every change-method call, a
// generous fixed budget matching the teacher's "automatic gas limit
// estimation" comments — simplified here to a fixed ceiling since this chain
// charges gas from a prepaid allowance rather than an estimate-then-cap model.
const defaultGas = 100_000_000_000_000 // 100 Tgas

// CallMethod composes a single-action FunctionCall transaction and submits
// it, signed by signer. deposit is the attached yocto deposit (nil/zero for
// view-equivalent change calls); args is marshaled to JSON.
func (c *Client) CallMethod(ctx context.Context, signer *Signer, receiver tokenaccount.Account, method string, args any, deposit *big.Int) (TxHandle, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return TxHandle{}, fmt.Errorf("chainclient: marshal call args: %w", err)
	}
	if deposit == nil {
		deposit = big.NewInt(0)
	}
	action := FunctionCallAction{
		MethodName: method,
		Args:       argsJSON,
		Gas:        defaultGas,
		Deposit:    deposit.String(),
	}
	actionsJSON, err := json.Marshal([]FunctionCallAction{action})
	if err != nil {
		return TxHandle{}, fmt.Errorf("chainclient: marshal actions: %w", err)
	}
	return c.SendTx(ctx, signer, receiver, actionsJSON)
}

// TransferAction is the JSON shape of a plain native-token transfer action:
// no method call, just a deposit moved to the receiver.
type TransferAction struct {
	Deposit string `json:"deposit"`
}

// TransferNative composes a single-action native-token Transfer transaction
// moving amount from signer to receiver, signed and broadcast the same way
// CallMethod composes a FunctionCall action, then awaits finality. Used by
// the Harvest Controller to sweep surplus to the cold harvest account
// (spec.md §4.9) — unlike CallMethod/DepositToken, this never invokes a
// contract method, so it is the only way to move native tokens to an
// arbitrary account rather than crediting the router deposit of the signer.
func (c *Client) TransferNative(ctx context.Context, signer *Signer, receiver tokenaccount.Account, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	actionsJSON, err := json.Marshal([]TransferAction{{Deposit: amount.String()}})
	if err != nil {
		return fmt.Errorf("chainclient: marshal transfer action: %w", err)
	}
	handle, err := c.SendTx(ctx, signer, receiver, actionsJSON)
	if err != nil {
		return fmt.Errorf("chainclient: transfer native: %w", err)
	}
	_, err = c.AwaitTxFinal(ctx, handle)
	return err
}

// SendTx composes, signs, and broadcasts a transaction. The caller supplies
// the pre-serialized action payload (the router/FT JSON args); nonce and
// block hash are fetched here per spec.md §4.2's send path:
// nonce = access_key.nonce + 1, hash = recent final block.
func (c *Client) SendTx(ctx context.Context, signer *Signer, receiver tokenaccount.Account, actions []byte) (TxHandle, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	publicKey := "ed25519:" + base64.StdEncoding.EncodeToString(signer.PublicKey())
	accessKey, err := c.GetAccessKey(ctx, signer.AccountID, publicKey)
	if err != nil {
		return TxHandle{}, fmt.Errorf("chainclient: get access key: %w", err)
	}
	block, err := c.GetRecentFinalBlock(ctx)
	if err != nil {
		return TxHandle{}, fmt.Errorf("chainclient: get recent block: %w", err)
	}

	tx := struct {
		SignerID   string `json:"signer_id"`
		PublicKey  string `json:"public_key"`
		Nonce      uint64 `json:"nonce"`
		ReceiverID string `json:"receiver_id"`
		BlockHash  string `json:"block_hash"`
		Actions    []byte `json:"actions"`
	}{
		SignerID:   signer.AccountID.String(),
		PublicKey:  publicKey,
		Nonce:      accessKey.Nonce + 1,
		ReceiverID: receiver.String(),
		BlockHash:  block.Hash.Hex(),
		Actions:    actions,
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return TxHandle{}, fmt.Errorf("chainclient: marshal tx: %w", err)
	}
	sig := signer.Sign(payload)
	signedB64 := base64.StdEncoding.EncodeToString(append(payload, sig...))

	var out struct {
		TxHash string `json:"transaction_hash"`
	}
	err = c.pool.Call(ctx, func(ctx context.Context, ep rpcpool.Endpoint) error {
		rc, err := dial(ctx, ep.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		return rc.CallContext(ctx, &out, "broadcast_tx_async", signedB64)
	})
	if err != nil {
		return TxHandle{}, err
	}
	return TxHandle{Hash: common.HexToHash(out.TxHash), client: c}, nil
}

// AwaitTxFinal polls `tx` until the outcome reaches a terminal status.
func (c *Client) AwaitTxFinal(ctx context.Context, handle TxHandle) (TxOutcome, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	const pollInterval = time.Second
	for {
		var out struct {
			Status struct {
				SuccessValue string `json:"SuccessValue"`
				Failure      any    `json:"Failure"`
			} `json:"status"`
		}
		err := c.pool.Call(ctx, func(ctx context.Context, ep rpcpool.Endpoint) error {
			rc, err := dial(ctx, ep.URL)
			if err != nil {
				return err
			}
			defer rc.Close()
			return rc.CallContext(ctx, &out, "tx", handle.Hash.Hex())
		})
		if err != nil {
			return TxOutcome{}, err
		}
		if out.Status.Failure != nil {
			return TxOutcome{Success: false, Status: "failure"}, &boterr.TxFailure{Status: "failure"}
		}
		if out.Status.SuccessValue != "" {
			return TxOutcome{Success: true, Status: "success"}, nil
		}

		select {
		case <-ctx.Done():
			return TxOutcome{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
