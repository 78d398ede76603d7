package delayguardv1

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "delayguard.v1.DelayGuard"

// DelayGuardServer is the server API for the delayguard service.
type DelayGuardServer interface {
	Check(context.Context, *CheckRequest) (*CheckResponse, error)
	Allowance(context.Context, *AllowanceRequest) (*AllowanceResponse, error)
	TokenAllowance(context.Context, *TokenAllowanceRequest) (*TokenAllowanceResponse, error)
	Cosigner(context.Context, *AccountRequest) (*CosignerResponse, error)
	Removal(context.Context, *AccountRequest) (*RemovalResponse, error)
	ListTransactions(context.Context, *AccountRequest) (*ListTransactionsResponse, error)
	Status(context.Context, *AccountRequest) (*StatusResponse, error)
	SetAllowedTx(context.Context, *SetAllowedTxRequest) (*ConfigResponse, error)
	SetCosigner(context.Context, *SetCosignerRequest) (*ConfigResponse, error)
	SetAllowedTokenTransfer(context.Context, *SetAllowedTokenTransferRequest) (*ConfigResponse, error)
	ScheduleGuardRemoval(context.Context, *ScheduleGuardRemovalRequest) (*ConfigResponse, error)
}

func unary[Req, Resp any](name string, fn func(DelayGuardServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(DelayGuardServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(DelayGuardServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the delayguard service for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DelayGuardServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Check", DelayGuardServer.Check),
		unary("Allowance", DelayGuardServer.Allowance),
		unary("TokenAllowance", DelayGuardServer.TokenAllowance),
		unary("Cosigner", DelayGuardServer.Cosigner),
		unary("Removal", DelayGuardServer.Removal),
		unary("ListTransactions", DelayGuardServer.ListTransactions),
		unary("Status", DelayGuardServer.Status),
		unary("SetAllowedTx", DelayGuardServer.SetAllowedTx),
		unary("SetCosigner", DelayGuardServer.SetCosigner),
		unary("SetAllowedTokenTransfer", DelayGuardServer.SetAllowedTokenTransfer),
		unary("ScheduleGuardRemoval", DelayGuardServer.ScheduleGuardRemoval),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "delayguard/v1/delayguard.json",
}

// RegisterDelayGuardServer registers srv on s.
func RegisterDelayGuardServer(s grpc.ServiceRegistrar, srv DelayGuardServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// DelayGuardClient is the client API for the delayguard service.
type DelayGuardClient struct {
	cc grpc.ClientConnInterface
}

// NewDelayGuardClient wraps a client connection.
func NewDelayGuardClient(cc grpc.ClientConnInterface) *DelayGuardClient {
	return &DelayGuardClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *DelayGuardClient, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DelayGuardClient) Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error) {
	return invoke[CheckResponse](ctx, c, "Check", in, opts)
}

func (c *DelayGuardClient) Allowance(ctx context.Context, in *AllowanceRequest, opts ...grpc.CallOption) (*AllowanceResponse, error) {
	return invoke[AllowanceResponse](ctx, c, "Allowance", in, opts)
}

func (c *DelayGuardClient) TokenAllowance(ctx context.Context, in *TokenAllowanceRequest, opts ...grpc.CallOption) (*TokenAllowanceResponse, error) {
	return invoke[TokenAllowanceResponse](ctx, c, "TokenAllowance", in, opts)
}

func (c *DelayGuardClient) Cosigner(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*CosignerResponse, error) {
	return invoke[CosignerResponse](ctx, c, "Cosigner", in, opts)
}

func (c *DelayGuardClient) Removal(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*RemovalResponse, error) {
	return invoke[RemovalResponse](ctx, c, "Removal", in, opts)
}

func (c *DelayGuardClient) ListTransactions(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*ListTransactionsResponse, error) {
	return invoke[ListTransactionsResponse](ctx, c, "ListTransactions", in, opts)
}

func (c *DelayGuardClient) Status(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "Status", in, opts)
}

func (c *DelayGuardClient) SetAllowedTx(ctx context.Context, in *SetAllowedTxRequest, opts ...grpc.CallOption) (*ConfigResponse, error) {
	return invoke[ConfigResponse](ctx, c, "SetAllowedTx", in, opts)
}

func (c *DelayGuardClient) SetCosigner(ctx context.Context, in *SetCosignerRequest, opts ...grpc.CallOption) (*ConfigResponse, error) {
	return invoke[ConfigResponse](ctx, c, "SetCosigner", in, opts)
}

func (c *DelayGuardClient) SetAllowedTokenTransfer(ctx context.Context, in *SetAllowedTokenTransferRequest, opts ...grpc.CallOption) (*ConfigResponse, error) {
	return invoke[ConfigResponse](ctx, c, "SetAllowedTokenTransfer", in, opts)
}

func (c *DelayGuardClient) ScheduleGuardRemoval(ctx context.Context, in *ScheduleGuardRemovalRequest, opts ...grpc.CallOption) (*ConfigResponse, error) {
	return invoke[ConfigResponse](ctx, c, "ScheduleGuardRemoval", in, opts)
}
