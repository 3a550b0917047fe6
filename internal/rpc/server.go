package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dreamware/shardtopo/internal/cluster"
)

// RegisterServer exposes impl on s under the shardtopo.ShardManager service.
func RegisterServer(s *grpc.Server, impl ShardManager) {
	s.RegisterService(&serviceDesc, impl)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ShardManager)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetForwardings", func(m ShardManager, ctx context.Context, _ *empty) (*forwardingsResponse, error) {
			fs, err := m.GetForwardings(ctx)
			return &forwardingsResponse{Forwardings: fs}, err
		}),
		unary("SetForwarding", func(m ShardManager, ctx context.Context, in *cluster.Forwarding) (*empty, error) {
			return &empty{}, m.SetForwarding(ctx, *in)
		}),
		unary("ReplaceForwarding", func(m ShardManager, ctx context.Context, in *replaceForwardingRequest) (*empty, error) {
			return &empty{}, m.ReplaceForwarding(ctx, in.Old, in.New)
		}),
		unary("FindCurrentForwarding", func(m ShardManager, ctx context.Context, in *findForwardingRequest) (*shardResponse, error) {
			info, err := m.FindCurrentForwarding(ctx, in.TableID, in.BaseID)
			return &shardResponse{Shard: &info}, err
		}),
		unary("ListDownwardLinks", func(m ShardManager, ctx context.Context, in *shardIDRequest) (*linksResponse, error) {
			links, err := m.ListDownwardLinks(ctx, in.ID)
			return &linksResponse{Links: links}, err
		}),
		unary("ListUpwardLinks", func(m ShardManager, ctx context.Context, in *shardIDRequest) (*linksResponse, error) {
			links, err := m.ListUpwardLinks(ctx, in.ID)
			return &linksResponse{Links: links}, err
		}),
		unary("AddLink", func(m ShardManager, ctx context.Context, in *linkRequest) (*empty, error) {
			return &empty{}, m.AddLink(ctx, in.Up, in.Down, in.Weight)
		}),
		unary("RemoveLink", func(m ShardManager, ctx context.Context, in *linkRequest) (*empty, error) {
			return &empty{}, m.RemoveLink(ctx, in.Up, in.Down)
		}),
		unary("ListHostnames", func(m ShardManager, ctx context.Context, _ *empty) (*hostnamesResponse, error) {
			hosts, err := m.ListHostnames(ctx)
			return &hostnamesResponse{Hostnames: hosts}, err
		}),
		unary("ShardsForHostname", func(m ShardManager, ctx context.Context, in *hostnameRequest) (*shardsResponse, error) {
			shards, err := m.ShardsForHostname(ctx, in.Hostname)
			return &shardsResponse{Shards: shards}, err
		}),
		unary("GetShard", func(m ShardManager, ctx context.Context, in *shardIDRequest) (*shardResponse, error) {
			info, err := m.GetShard(ctx, in.ID)
			return &shardResponse{Shard: &info}, err
		}),
		unary("CreateShard", func(m ShardManager, ctx context.Context, in *cluster.ShardInfo) (*empty, error) {
			return &empty{}, m.CreateShard(ctx, *in)
		}),
		unary("DeleteShard", func(m ShardManager, ctx context.Context, in *shardIDRequest) (*empty, error) {
			return &empty{}, m.DeleteShard(ctx, in.ID)
		}),
		unary("GetBusyShards", func(m ShardManager, ctx context.Context, _ *empty) (*shardsResponse, error) {
			shards, err := m.GetBusyShards(ctx)
			return &shardsResponse{Shards: shards}, err
		}),
		unary("CopyShard", func(m ShardManager, ctx context.Context, in *copyRequest) (*empty, error) {
			return &empty{}, m.CopyShard(ctx, in.From, in.To)
		}),
		unary("ReloadForwardings", func(m ShardManager, ctx context.Context, _ *empty) (*empty, error) {
			return &empty{}, m.ReloadForwardings(ctx)
		}),
		unary("ReloadConfig", func(m ShardManager, ctx context.Context, _ *empty) (*empty, error) {
			return &empty{}, m.ReloadConfig(ctx)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shardmanager",
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// unary builds a method descriptor that decodes Req, calls the manager and
// converts its error into a gRPC status.
func unary[Req, Resp any](name string, call func(ShardManager, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(srv.(ShardManager), ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, cluster.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, cluster.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, cluster.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}
