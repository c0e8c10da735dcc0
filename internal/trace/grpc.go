// Package trace - gRPC interceptors for trace propagation.
package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor continues the caller's trace for unary calls and
// logs each call.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractMetadata(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor continues the caller's trace for streaming calls.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := extractMetadata(ss.Context())
		start := time.Now()
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		logCall(ctx, info.FullMethod, start, err)
		return err
	}
}

// UnaryClientInterceptor injects trace context into outgoing gRPC calls.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = injectMetadata(ctx)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

// extractMetadata continues the caller's trace from incoming gRPC metadata.
func extractMetadata(ctx context.Context) context.Context {
	md, _ := metadata.FromIncomingContext(ctx)
	return WithContext(ctx, Continue(first(md, TraceIDKey), first(md, SpanIDKey)))
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// injectMetadata adds the trace in ctx to outgoing gRPC metadata, starting
// one when ctx has none.
func injectMetadata(ctx context.Context) context.Context {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
		ctx = WithContext(ctx, tc)
	}

	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	kv := tc.pairs()
	for i := 0; i < len(kv); i += 2 {
		md.Set(kv[i], kv[i+1])
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func logCall(ctx context.Context, method string, start time.Time, err error) {
	Logger(ctx).Debug("grpc call",
		"method", method,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
}
