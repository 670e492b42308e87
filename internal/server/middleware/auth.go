// Package middleware provides server interceptors and middleware
package middleware

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/internal/metrics"
)

// authorizationMetadataKey is the gRPC metadata key carrying the bearer token.
// gRPC lowercases metadata keys.
const authorizationMetadataKey = "authorization"

// Authenticator applies the authentication gate and per-method requirements to gRPC calls
type Authenticator struct {
	gate               *auth.Gate
	policies           map[string]auth.Requirement
	defaultRequirement auth.Requirement
	metrics            metrics.Metrics
	logger             *zap.Logger
}

// NewAuthenticator creates a new authenticator. policies maps full method
// names ("/package.Service/Method") to requirements; methods not listed use
// defaultRequirement.
func NewAuthenticator(
	gate *auth.Gate,
	policies map[string]auth.Requirement,
	defaultRequirement auth.Requirement,
	m metrics.Metrics,
	logger *zap.Logger,
) *Authenticator {
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	copied := make(map[string]auth.Requirement, len(policies))
	for method, req := range policies {
		copied[method] = req
	}

	return &Authenticator{
		gate:               gate,
		policies:           copied,
		defaultRequirement: defaultRequirement,
		metrics:            m,
		logger:             logger,
	}
}

// GRPCUnaryInterceptor returns a gRPC unary server interceptor for authentication
func (a *Authenticator) GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, err := a.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// GRPCStreamInterceptor returns a gRPC stream server interceptor for authentication
func (a *Authenticator) GRPCStreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := a.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}

		// Wrap the stream with the new context
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
	}
}

// RequirementFor returns the requirement enforced for a full method name
func (a *Authenticator) RequirementFor(fullMethod string) auth.Requirement {
	if req, ok := a.policies[fullMethod]; ok {
		return req
	}
	return a.defaultRequirement
}

// authorize runs the gate over the call metadata, then checks the method's
// requirement against the resulting principal.
func (a *Authenticator) authorize(ctx context.Context, fullMethod string) (context.Context, error) {
	ctx, _ = a.gate.AuthenticateHeader(ctx, authorizationFromMetadata(ctx))

	principal, _ := auth.PrincipalFromContext(ctx)
	requirement := a.RequirementFor(fullMethod)
	decision := auth.Evaluate(principal, requirement)
	a.metrics.RecordAuthorization(decision.String())

	switch decision {
	case auth.Allow:
		return ctx, nil
	case auth.DenyUnauthenticated:
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	default:
		a.logger.Info("gRPC call forbidden",
			zap.String("method", fullMethod),
			zap.String("username", principal.Username),
			zap.Stringer("requirement", requirement))
		return nil, status.Error(codes.PermissionDenied, "insufficient permissions")
	}
}

// authorizationFromMetadata returns the first authorization metadata value, or ""
func authorizationFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	values := md.Get(authorizationMetadataKey)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// authenticatedStream wraps a grpc.ServerStream with an authenticated context
type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the authenticated context
func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}
