package status

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
	"github.com/GriffinCanCode/indicator-watch/internal/trace"
)

// Client asks a running indicatord for the indicator decision.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial connects to the status server at addr. Extra options are applied after
// the defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.Configuration, "status client for %s", addr)
	}
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}, nil
}

// Matched reports whether the indicator service is SERVING. RPC failures come
// back as AppErrors.
func (c *Client) Matched(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		return false, apperrors.FromGRPCError(err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
