package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// TokenAccountInfo pairs a token account address with its jsonParsed
// payload as the RPC node returned it.
type TokenAccountInfo struct {
	Address solana.PublicKey
	Data    json.RawMessage
}

// Client wraps the Solana JSON-RPC and websocket endpoints with the handful
// of read calls the indexer needs.
type Client struct {
	rpcClient *rpc.Client
	wsClient  *ws.Client
}

// NewClient dials the RPC endpoint and, when wsURL is non-empty, the
// websocket endpoint used for log subscriptions.
func NewClient(ctx context.Context, rpcURL, wsURL string) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	client := &Client{rpcClient: rpc.New(rpcURL)}

	if wsURL != "" {
		wsClient, err := ws.Connect(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("connect ws: %w", err)
		}
		client.wsClient = wsClient
	}

	return client, nil
}

// Close closes the websocket connection. The RPC client is stateless.
func (c *Client) Close() {
	if c.wsClient != nil {
		c.wsClient.Close()
	}
}

// SubscribeLogs opens a confirmed-commitment log subscription filtered to
// transactions mentioning the given program.
func (c *Client) SubscribeLogs(program solana.PublicKey) (*ws.LogSubscription, error) {
	if c.wsClient == nil {
		return nil, fmt.Errorf("ws endpoint not configured")
	}
	return c.wsClient.LogsSubscribeMentions(program, rpc.CommitmentConfirmed)
}

// GetAccountData fetches the raw base64-decoded data of an account at
// confirmed commitment. A missing account is returned as rpc.ErrNotFound.
func (c *Client) GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	out, err := c.rpcClient.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, rpc.ErrNotFound
	}
	return out.Value.Data.GetBinary(), nil
}

// GetTokenAccountsByOwner returns the SPL token accounts owned by an
// address, jsonParsed so the mint can be read without layout decoding.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]TokenAccountInfo, error) {
	programID := solana.TokenProgramID
	out, err := c.rpcClient.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: &programID},
		&rpc.GetTokenAccountsOpts{
			Encoding:   solana.EncodingJSONParsed,
			Commitment: rpc.CommitmentConfirmed,
		},
	)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	accounts := make([]TokenAccountInfo, 0, len(out.Value))
	for _, keyed := range out.Value {
		if keyed == nil {
			continue
		}
		accounts = append(accounts, TokenAccountInfo{
			Address: keyed.Pubkey,
			Data:    keyed.Account.Data.GetRawJSON(),
		})
	}
	return accounts, nil
}

// ListProgramAccounts enumerates every account of one type owned by the
// program, filtered by discriminator prefix and exact data size.
func (c *Client) ListProgramAccounts(ctx context.Context, program solana.PublicKey, discriminator []byte, dataSize uint64) (rpc.GetProgramAccountsResult, error) {
	return c.rpcClient.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{DataSize: dataSize},
			{Memcmp: &rpc.RPCFilterMemcmp{
				Offset: 0,
				Bytes:  solana.Base58(discriminator),
			}},
		},
	})
}
