package server

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	pb "github.com/ppiankov/delayguard/api/delayguard/v1"
	"github.com/ppiankov/delayguard/internal/ratelimit"
)

// rateLimit is the unary interceptor applying rate_limits. Signed
// requests count against the signing account, everything else against
// the peer host. Health checks are never limited.
func (s *Server) rateLimit(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !strings.HasPrefix(info.FullMethod, "/"+pb.ServiceName+"/") {
		return handler(ctx, req)
	}

	category, key := ratelimit.CategoryQuery, peerHost(ctx)
	if signed, ok := req.(pb.Signed); ok {
		category, key = ratelimit.CategoryConfig, signed.Signer().Hex()
	}
	if r := s.limiter.Allow(category, key); r.Exceeded {
		s.logger.Warn("rate limit exceeded",
			"method", info.FullMethod,
			"category", r.Category,
			"key", key,
			"limit", r.Limit,
		)
		return nil, status.Error(codes.ResourceExhausted, r.Reason)
	}
	return handler(ctx, req)
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
