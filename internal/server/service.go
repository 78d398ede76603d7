package server

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/ppiankov/delayguard/api/delayguard/v1"
	"github.com/ppiankov/delayguard/internal/activation"
	"github.com/ppiankov/delayguard/internal/ident"
	"github.com/ppiankov/delayguard/internal/model"
	"github.com/ppiankov/delayguard/internal/safe"
	"github.com/ppiankov/delayguard/internal/store"
)

// service adapts the engine to the RPC surface. Lookups are open;
// configuration requests must carry a signature by the account itself.
type service struct {
	s *Server
}

var _ pb.DelayGuardServer = (*service)(nil)

// Check previews a call. A store failure is an RPC error, which clients
// treat as a denial.
func (v *service) Check(ctx context.Context, req *pb.CheckRequest) (*pb.CheckResponse, error) {
	at := req.At
	if at == 0 {
		at = v.s.engine.Now()
	}
	resp := &pb.CheckResponse{At: at}
	err := v.s.engine.IsTransactionAllowedAt(ctx, req.Account, req.Call.ToModel(), at)
	if err == nil {
		resp.Allowed = true
		return resp, nil
	}
	var de *model.DenyError
	if !errors.As(err, &de) {
		return nil, status.Errorf(codes.Internal, "check: %v", err)
	}
	resp.Reason = model.Reason(err)
	resp.Detail = err.Error()
	resp.Depth = de.Depth
	return resp, nil
}

func (v *service) Allowance(ctx context.Context, req *pb.AllowanceRequest) (*pb.AllowanceResponse, error) {
	activeFrom, err := v.s.engine.AllowedTx(ctx, req.Account, req.Target, req.Selector, req.Operation)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "allowance: %v", err)
	}
	return &pb.AllowanceResponse{
		TxID:       ident.CallID(req.Target, req.Selector, req.Operation),
		ActiveFrom: activeFrom,
		Active:     model.IsActive(activeFrom, v.s.engine.Now()),
	}, nil
}

func (v *service) TokenAllowance(ctx context.Context, req *pb.TokenAllowanceRequest) (*pb.TokenAllowanceResponse, error) {
	a, err := v.s.engine.TokenAllowance(ctx, req.Account, req.Token, req.Recipient)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "token allowance: %v", err)
	}
	return &pb.TokenAllowanceResponse{
		ActiveFrom: a.ActiveFrom,
		Amount:     model.BigOrZero(a.Amount),
		Active:     a.Configured() && model.IsActive(a.ActiveFrom, v.s.engine.Now()),
	}, nil
}

func (v *service) Cosigner(ctx context.Context, req *pb.AccountRequest) (*pb.CosignerResponse, error) {
	rec, err := v.s.engine.Cosigner(ctx, req.Account)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "cosigner: %v", err)
	}
	return &pb.CosignerResponse{
		Cosigner:   rec.Cosigner,
		ActiveFrom: rec.ActiveFrom,
		Active:     model.IsActive(rec.ActiveFrom, v.s.engine.Now()),
	}, nil
}

func (v *service) Removal(ctx context.Context, req *pb.AccountRequest) (*pb.RemovalResponse, error) {
	ts, err := v.s.engine.RemovalSchedule(ctx, req.Account)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "removal schedule: %v", err)
	}
	return &pb.RemovalResponse{
		ScheduledAt: ts,
		Matured:     model.IsActive(ts, v.s.engine.Now()),
	}, nil
}

func (v *service) ListTransactions(_ context.Context, req *pb.AccountRequest) (*pb.ListTransactionsResponse, error) {
	now := v.s.engine.Now()
	entries := v.s.index.List(req.Account)
	resp := &pb.ListTransactionsResponse{Transactions: make([]pb.Transaction, 0, len(entries))}
	for _, e := range entries {
		resp.Transactions = append(resp.Transactions, pb.Transaction{
			TxID:       e.TxID,
			Target:     e.Target,
			Selector:   e.Selector,
			Operation:  e.Operation,
			ActiveFrom: e.ActiveFrom,
			Active:     model.IsActive(e.ActiveFrom, now),
		})
	}
	return resp, nil
}

func (v *service) Status(ctx context.Context, req *pb.AccountRequest) (*pb.StatusResponse, error) {
	acct, err := v.account(ctx, req.Account)
	if err != nil {
		return nil, err
	}
	resp := &pb.StatusResponse{
		Engine:       v.s.engine.Self(),
		Account:      req.Account,
		Strategy:     v.s.engine.Strategy().Name(),
		DelaySeconds: activation.Seconds(v.s.engine.Delay()),
		ConfigHash:   v.s.ConfigHash(),
		Now:          v.s.engine.Now(),
	}
	if resp.Guard, err = acct.Guard(ctx); err != nil {
		return nil, status.Errorf(codes.Unavailable, "read guard: %v", err)
	}
	if resp.ModuleGuard, err = acct.ModuleGuard(ctx); err != nil {
		return nil, status.Errorf(codes.Unavailable, "read module guard: %v", err)
	}
	if resp.Nonce, err = acct.Nonce(ctx); err != nil {
		return nil, status.Errorf(codes.Unavailable, "read nonce: %v", err)
	}
	if resp.FullyInstalled, err = v.s.engine.FullyInstalled(ctx, acct); err != nil {
		return nil, status.Errorf(codes.Unavailable, "check installation: %v", err)
	}
	err = v.s.store.View(ctx, func(r store.Reader) error {
		var err error
		resp.ConfigNonce, err = r.ConfigNonce(ctx, req.Account)
		return err
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read config nonce: %v", err)
	}
	return resp, nil
}

func (v *service) SetAllowedTx(ctx context.Context, req *pb.SetAllowedTxRequest) (*pb.ConfigResponse, error) {
	acct, err := v.authorized(ctx, req)
	if err != nil {
		return nil, err
	}
	activeFrom, err := v.s.engine.SetAllowedTx(ctx, acct, req.Target, req.Selector, req.Operation, req.Reset)
	if err != nil {
		return nil, configError(err)
	}
	return &pb.ConfigResponse{ActiveFrom: activeFrom}, nil
}

func (v *service) SetCosigner(ctx context.Context, req *pb.SetCosignerRequest) (*pb.ConfigResponse, error) {
	acct, err := v.authorized(ctx, req)
	if err != nil {
		return nil, err
	}
	activeFrom, err := v.s.engine.SetCosigner(ctx, acct, req.Cosigner, req.Reset)
	if err != nil {
		return nil, configError(err)
	}
	return &pb.ConfigResponse{ActiveFrom: activeFrom}, nil
}

func (v *service) SetAllowedTokenTransfer(ctx context.Context, req *pb.SetAllowedTokenTransferRequest) (*pb.ConfigResponse, error) {
	if req.Amount != nil && req.Amount.Sign() < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "negative amount %s", req.Amount)
	}
	acct, err := v.authorized(ctx, req)
	if err != nil {
		return nil, err
	}
	amount := req.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	activeFrom, err := v.s.engine.SetAllowedTokenTransfer(ctx, acct, req.Token, req.Recipient, amount, req.Reset)
	if err != nil {
		return nil, configError(err)
	}
	return &pb.ConfigResponse{ActiveFrom: activeFrom}, nil
}

func (v *service) ScheduleGuardRemoval(ctx context.Context, req *pb.ScheduleGuardRemovalRequest) (*pb.ConfigResponse, error) {
	acct, err := v.authorized(ctx, req)
	if err != nil {
		return nil, err
	}
	ts, err := v.s.engine.ScheduleGuardRemoval(ctx, acct)
	if err != nil {
		return nil, configError(err)
	}
	return &pb.ConfigResponse{ActiveFrom: ts}, nil
}

// authorized checks the request signature and resolves the account it
// configures.
func (v *service) authorized(ctx context.Context, req pb.Signed) (safe.Account, error) {
	auth := req.Authorization()
	if auth.Deadline < v.s.engine.Now() {
		return nil, status.Error(codes.PermissionDenied, "authorization expired")
	}
	ok, err := v.s.verifier.Verify(ctx, req.Signer(), pb.Digest(req, v.s.engine.Self()), auth.Signature)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "verify authorization: %v", err)
	}
	if !ok {
		v.s.logger.Warn("rejected configuration request", "account", req.Signer().Hex())
		return nil, status.Error(codes.PermissionDenied, "signature does not authorize account")
	}
	acct, err := v.account(ctx, req.Signer())
	if err != nil {
		return nil, err
	}
	if err := v.consumeNonce(ctx, req.Signer(), auth.Nonce); err != nil {
		return nil, err
	}
	return acct, nil
}

// consumeNonce records nonce as used for account. A nonce at or below
// the last consumed one is a replay.
func (v *service) consumeNonce(ctx context.Context, account common.Address, nonce uint64) error {
	var last uint64
	err := v.s.store.Update(ctx, func(w store.Writer) error {
		var err error
		if last, err = w.ConfigNonce(ctx, account); err != nil {
			return err
		}
		if nonce <= last {
			return errStaleNonce
		}
		return w.SetConfigNonce(ctx, account, nonce)
	})
	if errors.Is(err, errStaleNonce) {
		v.s.logger.Warn("replayed configuration request", "account", account.Hex(), "nonce", nonce, "last", last)
		return status.Errorf(codes.PermissionDenied, "authorization nonce %d already used (last %d)", nonce, last)
	}
	if err != nil {
		return status.Errorf(codes.Internal, "consume nonce: %v", err)
	}
	return nil
}

var errStaleNonce = errors.New("stale nonce")

func (v *service) account(ctx context.Context, address common.Address) (safe.Account, error) {
	acct, err := v.s.resolver.Account(ctx, address)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "resolve account: %v", err)
	}
	return acct, nil
}

func configError(err error) error {
	if errors.Is(err, model.ErrNotInstalled) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	if errors.Is(err, model.ErrMalformedCalldata) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Errorf(codes.Internal, "%v", err)
}
