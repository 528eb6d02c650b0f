package grpcserver

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// slowCall is the duration after which a successful admin call logs at warn.
// Batch methods (FixAllInconsistencies, RecomputeRankings) routinely exceed it.
const slowCall = 5 * time.Second

// requestID returns the caller-supplied x-request-id, used to correlate CLI
// runs with audit entries and server logs.
func requestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("x-request-id"); len(v) > 0 {
		return v[0]
	}
	return ""
}

// shortMethod strips the service prefix: "/gamestats.admin.v1.Admin/FixUser" -> "FixUser".
func shortMethod(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[i+1:]
	}
	return full
}

// LoggingUnary returns a unary server interceptor for structured logging.
// Client errors log at info, everything else non-OK at warn.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)
		dur := time.Since(start)

		fields := []zap.Field{
			zap.String("op", shortMethod(info.FullMethod)),
			zap.String("code", code.String()),
			zap.Duration("dur", dur),
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			fields = append(fields, zap.String("peer", p.Addr.String()))
		}
		if id := requestID(ctx); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}

		// metadata only, never payloads
		lvl := zap.InfoLevel
		switch code {
		case codes.OK:
			if dur > slowCall {
				lvl = zap.WarnLevel
				fields = append(fields, zap.Bool("slow", true))
			}
		case codes.NotFound, codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.AlreadyExists:
		default:
			lvl = zap.WarnLevel
		}
		log.Log(lvl, "admin call", fields...)
		return resp, err
	}
}

// RecoverUnary turns handler panics into codes.Internal.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("admin call panic",
					zap.String("op", shortMethod(info.FullMethod)),
					zap.String("request_id", requestID(ctx)),
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}
