package server

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// requestIDMetadataKey carries a caller-supplied request id, mirroring the
// X-Request-ID header of the HTTP API
const requestIDMetadataKey = "x-request-id"

// LoggingInterceptor provides request logging
type LoggingInterceptor struct {
	logger *zap.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *zap.Logger) *LoggingInterceptor {
	return &LoggingInterceptor{logger: logger}
}

// Unary returns a unary server interceptor for logging
func (i *LoggingInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		i.log(ctx, "gRPC request", info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

// Stream returns a stream server interceptor for logging
func (i *LoggingInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		i.log(ss.Context(), "gRPC stream", info.FullMethod, time.Since(start), err)
		return err
	}
}

// log writes one line per call. Auth rejections are expected traffic and stay
// at Info; server-side failures are logged as errors.
func (i *LoggingInterceptor) log(ctx context.Context, msg, method string, duration time.Duration, err error) {
	code := status.Code(err)

	fields := []zap.Field{
		zap.String("method", method),
		zap.Duration("duration", duration),
		zap.String("code", code.String()),
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fields = append(fields, zap.String("peer", p.Addr.String()))
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(requestIDMetadataKey); len(ids) > 0 {
			fields = append(fields, zap.String("request_id", ids[0]))
		}
	}

	switch code {
	case codes.OK, codes.Unauthenticated, codes.PermissionDenied, codes.NotFound, codes.Canceled:
		i.logger.Info(msg, fields...)
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		i.logger.Error(msg, append(fields, zap.Error(err))...)
	default:
		i.logger.Warn(msg, append(fields, zap.Error(err))...)
	}
}

// RecoveryInterceptor provides panic recovery
type RecoveryInterceptor struct {
	logger *zap.Logger
}

// NewRecoveryInterceptor creates a new recovery interceptor
func NewRecoveryInterceptor(logger *zap.Logger) *RecoveryInterceptor {
	return &RecoveryInterceptor{logger: logger}
}

// Unary returns a unary server interceptor for panic recovery
func (i *RecoveryInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = i.recovered(r, info.FullMethod)
			}
		}()

		return handler(ctx, req)
	}
}

// Stream returns a stream server interceptor for panic recovery
func (i *RecoveryInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = i.recovered(r, info.FullMethod)
			}
		}()

		return handler(srv, ss)
	}
}

func (i *RecoveryInterceptor) recovered(r interface{}, method string) error {
	i.logger.Error("Panic recovered in gRPC handler",
		zap.Any("panic", r),
		zap.String("method", method),
		zap.String("stack", string(debug.Stack())),
	)
	return status.Error(codes.Internal, "internal server error")
}
