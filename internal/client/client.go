package client

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/ppiankov/delayguard/api/delayguard/v1"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/sigcheck"
)

const callTimeout = 5 * time.Second

// Client connects to a delayguard gRPC server.
type Client struct {
	conn   *grpc.ClientConn
	client *pb.DelayGuardClient
}

// New creates a gRPC client connected to the given address.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to delayguard server: %w", err)
	}
	return &Client{conn: conn, client: pb.NewDelayGuardClient(conn)}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Check previews call for account. Fail-closed: an unreachable server
// yields a denial with reason "Unreachable" and no error.
func (c *Client) Check(ctx context.Context, account common.Address, call model.Call, at uint64) (*pb.CheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.client.Check(ctx, &pb.CheckRequest{Account: account, Call: pb.FromModel(call), At: at})
	if err != nil {
		return &pb.CheckResponse{
			Allowed: false,
			Reason:  "Unreachable",
			Detail:  fmt.Sprintf("delayguard server unreachable: %v", err),
		}, nil
	}
	return resp, nil
}

func (c *Client) Allowance(ctx context.Context, account, target common.Address, selector model.Selector, op model.Operation) (*pb.AllowanceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.client.Allowance(ctx, &pb.AllowanceRequest{Account: account, Target: target, Selector: selector, Operation: op})
}

func (c *Client) TokenAllowance(ctx context.Context, account, token, recipient common.Address) (*pb.TokenAllowanceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.client.TokenAllowance(ctx, &pb.TokenAllowanceRequest{Account: account, Token: token, Recipient: recipient})
}

func (c *Client) Cosigner(ctx context.Context, account common.Address) (*pb.CosignerResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.client.Cosigner(ctx, &pb.AccountRequest{Account: account})
}

func (c *Client) Removal(ctx context.Context, account common.Address) (*pb.RemovalResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.client.Removal(ctx, &pb.AccountRequest{Account: account})
}

func (c *Client) ListTransactions(ctx context.Context, account common.Address) ([]pb.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	resp, err := c.client.ListTransactions(ctx, &pb.AccountRequest{Account: account})
	if err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

func (c *Client) Status(ctx context.Context, account common.Address) (*pb.StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.client.Status(ctx, &pb.AccountRequest{Account: account})
}

// Authorizer signs configuration requests on behalf of Account.
type Authorizer struct {
	Account common.Address
	Sign    func(digest common.Hash) ([]byte, error)
	// TTL bounds how long a signed request stays valid. Defaults to one
	// minute.
	TTL time.Duration
}

// KeyAuthorizer signs with an ECDSA key; the account is the key's address.
func KeyAuthorizer(key *ecdsa.PrivateKey) Authorizer {
	raw := crypto.FromECDSA(key)
	return Authorizer{
		Account: crypto.PubkeyToAddress(key.PublicKey),
		Sign: func(digest common.Hash) ([]byte, error) {
			return sigcheck.Sign(digest, raw)
		},
	}
}

// authorize fills in the deadline, nonce and signature of req. The engine address
// comes from the server so that a signature cannot be replayed against a
// different engine.
func (c *Client) authorize(ctx context.Context, a Authorizer, req pb.Signed, auth *pb.Auth) error {
	st, err := c.Status(ctx, a.Account)
	if err != nil {
		return fmt.Errorf("read engine address: %w", err)
	}
	ttl := a.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	auth.Deadline = st.Now + uint64(ttl/time.Second)
	auth.Nonce = st.ConfigNonce + 1
	sig, err := a.Sign(pb.Digest(req, st.Engine))
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	auth.Signature = sig
	return nil
}

// SetAllowedTx configures (target, selector, op) and returns its
// activation timestamp.
func (c *Client) SetAllowedTx(ctx context.Context, a Authorizer, target common.Address, selector model.Selector, op model.Operation, reset bool) (uint64, error) {
	req := &pb.SetAllowedTxRequest{Account: a.Account, Target: target, Selector: selector, Operation: op, Reset: reset}
	if err := c.authorize(ctx, a, req, &req.Auth); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	resp, err := c.client.SetAllowedTx(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.ActiveFrom, nil
}

// SetCosigner registers cosigner and returns its activation timestamp.
func (c *Client) SetCosigner(ctx context.Context, a Authorizer, cosigner common.Address, reset bool) (uint64, error) {
	req := &pb.SetCosignerRequest{Account: a.Account, Cosigner: cosigner, Reset: reset}
	if err := c.authorize(ctx, a, req, &req.Auth); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	resp, err := c.client.SetCosigner(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.ActiveFrom, nil
}

// SetAllowedTokenTransfer sets a transfer ceiling and returns its
// activation timestamp.
func (c *Client) SetAllowedTokenTransfer(ctx context.Context, a Authorizer, token, recipient common.Address, amount *big.Int, reset bool) (uint64, error) {
	req := &pb.SetAllowedTokenTransferRequest{Account: a.Account, Token: token, Recipient: recipient, Amount: amount, Reset: reset}
	if err := c.authorize(ctx, a, req, &req.Auth); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	resp, err := c.client.SetAllowedTokenTransfer(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.ActiveFrom, nil
}

// ScheduleGuardRemoval opens the removal window and returns when it
// matures.
func (c *Client) ScheduleGuardRemoval(ctx context.Context, a Authorizer) (uint64, error) {
	req := &pb.ScheduleGuardRemovalRequest{Account: a.Account}
	if err := c.authorize(ctx, a, req, &req.Auth); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	resp, err := c.client.ScheduleGuardRemoval(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.ActiveFrom, nil
}
