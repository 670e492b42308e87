// Package rpc exposes user lookups over gRPC. Messages are protobuf
// well-known types, so clients need no generated stubs.
package rpc

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/pkg/types"
)

const (
	// UserServiceName is the fully qualified gRPC service name
	UserServiceName = "tokenauth.v1.Users"

	// MeMethod returns the calling principal
	MeMethod = "/tokenauth.v1.Users/Me"

	// GetUserMethod looks up a user by name
	GetUserMethod = "/tokenauth.v1.Users/GetUser"
)

// UserServer is the server API for the Users service
type UserServer interface {
	Me(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	GetUser(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
}

// UserPolicies returns the access requirements of the Users methods. They
// match the HTTP routes: any authenticated caller may ask who they are, and
// looking up users requires the USER role.
func UserPolicies() map[string]auth.Requirement {
	return map[string]auth.Requirement{
		MeMethod:      auth.Authenticated(),
		GetUserMethod: auth.AnyRole("USER"),
	}
}

// UserService implements UserServer over the user directory
type UserService struct {
	directory auth.Directory
	logger    *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(directory auth.Directory, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{directory: directory, logger: logger}
}

// Register adds the service to a gRPC service registrar
func (s *UserService) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&UserServiceDesc, s)
}

// Me returns the id, name and roles of the authenticated caller
func (s *UserService) Me(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	principal, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	roles := make([]interface{}, 0, len(principal.Roles))
	for _, role := range principal.Roles {
		roles = append(roles, role)
	}

	return structpb.NewStruct(map[string]interface{}{
		"id":    principal.ID,
		"name":  principal.Username,
		"roles": roles,
	})
}

// GetUser returns the public view of the named user
func (s *UserService) GetUser(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	name := req.GetValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}

	user, err := s.directory.FindByUsername(ctx, name)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, status.Error(codes.NotFound, "user not found")
	}
	if err != nil {
		s.logger.Error("User lookup failed",
			zap.String("username", name),
			zap.Error(err))
		return nil, status.Error(codes.Internal, "an error occurred while processing the request")
	}

	return userStruct(types.UserDto{ID: user.ID, Name: user.Username})
}

func userStruct(dto types.UserDto) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"id":   dto.ID,
		"name": dto.Name,
	})
}

func meHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UserServer).Me(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(UserServer).Me(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getUserHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UserServer).GetUser(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetUserMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(UserServer).GetUser(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// UserServiceDesc describes the Users service for grpc.Server.RegisterService
var UserServiceDesc = grpc.ServiceDesc{
	ServiceName: UserServiceName,
	HandlerType: (*UserServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Me", Handler: meHandler},
		{MethodName: "GetUser", Handler: getUserHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// UserClient calls the Users service
type UserClient struct {
	cc grpc.ClientConnInterface
}

// NewUserClient creates a client over an established connection
func NewUserClient(cc grpc.ClientConnInterface) *UserClient {
	return &UserClient{cc: cc}
}

// Me returns the calling principal
func (c *UserClient) Me(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MeMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetUser looks up a user by name
func (c *UserClient) GetUser(ctx context.Context, username string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetUserMethod, wrapperspb.String(username), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
