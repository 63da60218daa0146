package probe

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// #region client-struct
// Client wraps the gRPC connection to a running daemon's health service.
type Client struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

// #endregion client-struct

// #region constructor
// NewClient connects to the daemon's gRPC listener.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		client: healthpb.NewHealthClient(conn),
	}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
func NewClientWithService(svc healthpb.HealthClient) *Client {
	return &Client{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region check
// Check asks for the status of service; "" is the whole server.
func (c *Client) Check(ctx context.Context, service string) (Status, error) {
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", fmt.Errorf("health check %q: %w", service, err)
	}
	return statusOf(resp.GetStatus()), nil
}

// #endregion check
