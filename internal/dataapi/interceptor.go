package dataapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/rafaeljc/featuregate/internal/logger"
	"github.com/rafaeljc/featuregate/internal/observability"
)

// metadataRequestID is the incoming metadata key carrying the caller's request id.
// gRPC lowercases metadata keys.
const metadataRequestID = "x-request-id"

// rpcScope derives the request-scoped logger of one call and stores it in ctx.
func rpcScope(ctx context.Context, base *slog.Logger, method string) (context.Context, *slog.Logger) {
	var reqID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(metadataRequestID); len(ids) > 0 {
			reqID = ids[0]
		}
	}
	if reqID == "" {
		reqID = uuid.NewString()
	}

	l := base.With(slog.String("request_id", reqID), slog.String("rpc_method", method))
	return logger.WithContext(ctx, l), l
}

// logRPC logs the outcome at a level matching the status code: caller
// mistakes are info, server faults are errors.
func logRPC(ctx context.Context, l *slog.Logger, start time.Time, err error) {
	code := status.Code(err)

	level := slog.LevelInfo
	switch code {
	case codes.Internal, codes.Unavailable, codes.DataLoss, codes.Unknown:
		level = slog.LevelError
	case codes.DeadlineExceeded, codes.Unimplemented, codes.ResourceExhausted:
		level = slog.LevelWarn
	}

	l.LogAttrs(ctx, level, "grpc call finished",
		slog.String("code", code.String()),
		slog.Duration("duration", time.Since(start)),
		slog.String("peer_addr", peerAddr(ctx)),
	)
}

// UnaryLogger attaches a request-scoped logger to each unary call and logs its outcome.
func UnaryLogger(base *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		ctx, l := rpcScope(ctx, base, info.FullMethod)
		resp, err := handler(ctx, req)
		logRPC(ctx, l, start, err)
		return resp, err
	}
}

// StreamLogger is UnaryLogger for streams such as health Watch.
// The outcome is logged when the stream ends.
func StreamLogger(base *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		ctx, l := rpcScope(ss.Context(), base, info.FullMethod)
		err := handler(srv, &scopedStream{ServerStream: ss, ctx: ctx})
		logRPC(ctx, l, start, err)
		return err
	}
}

// UnaryMetrics counts unary calls by method and status code.
func UnaryMetrics() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		countRPC(info.FullMethod, err)
		return resp, err
	}
}

// StreamMetrics counts finished streams by method and status code.
func StreamMetrics() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		countRPC(info.FullMethod, err)
		return err
	}
}

func countRPC(method string, err error) {
	observability.DataPlaneGrpcTotal.WithLabelValues(method, status.Code(err).String()).Inc()
}

// scopedStream overrides the stream context so handlers see the scoped logger.
type scopedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *scopedStream) Context() context.Context { return s.ctx }

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}
