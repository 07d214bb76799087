package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the gRPC service the model adapter exposes.
	ServiceName    = "studypal.agent.v1.AgentService"
	converseMethod = "/" + ServiceName + "/Converse"

	// APIKeyHeader carries the model API key on each call.
	APIKeyHeader = "x-api-key"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	// ErrKeysExhausted means every API key was rate limited during one turn.
	ErrKeysExhausted = errors.New("all model api keys are rate limited")
)

// GrpcClient talks to the model adapter service. Messages are
// google.protobuf.Struct so no generated stubs are needed.
type GrpcClient struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	keys    *KeyPool
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcClient connects to the model adapter and waits until the connection
// is ready. keys may be nil when the adapter holds its own credentials.
// Extra dial options are appended after the defaults.
func NewGrpcClient(cfg GrpcClientConfig, keys *KeyPool, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	// Set up keepalive parameters
	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model service at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("Failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to model service", "address", cfg.Address, "api_keys", keys.Len())

	return &GrpcClient{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		keys:    keys,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("Failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks the standard gRPC health service for the adapter.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health check failed: status %s", resp.GetStatus())
	}
	return nil
}

// Converse runs one turn. A key the service rejects with ResourceExhausted
// cools down and the turn is retried with the next key.
func (c *GrpcClient) Converse(ctx context.Context, turn Turn) (Reply, error) {
	req, err := encodeTurn(turn)
	if err != nil {
		return Reply{}, err
	}

	if c.keys.Len() == 0 {
		return c.invoke(ctx, "", req)
	}

	tried := make(map[string]bool)
	for {
		key, ok := c.keys.Acquire(tried)
		if !ok {
			return Reply{}, ErrKeysExhausted
		}

		reply, err := c.invoke(ctx, key, req)
		if status.Code(err) == codes.ResourceExhausted {
			c.keys.Release(key, true)
			tried[key] = true
			c.logger.Warn("Model API key rate limited, rotating", "user_id", turn.UserID, "tried", len(tried))
			continue
		}
		c.keys.Release(key, false)
		return reply, err
	}
}

func (c *GrpcClient) invoke(ctx context.Context, key string, req *structpb.Struct) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, APIKeyHeader, key)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, converseMethod, req, resp); err != nil {
		return Reply{}, fmt.Errorf("converse failed: %w", err)
	}
	return decodeReply(resp)
}

// encodeTurn converts a turn into a Struct through its JSON form.
func encodeTurn(turn Turn) (*structpb.Struct, error) {
	data, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	return s, nil
}

// decodeReply keeps the reply text even when the action has the wrong shape,
// so the caller can still apply the text and reject the action.
func decodeReply(s *structpb.Struct) (Reply, error) {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	var wire struct {
		Text   string          `json:"text"`
		Action json.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}

	reply := Reply{Text: wire.Text}
	if len(wire.Action) == 0 || string(wire.Action) == "null" {
		return reply, nil
	}
	var action Action
	if err := json.Unmarshal(wire.Action, &action); err != nil {
		action = Action{Data: wire.Action}
	}
	reply.Action = &action
	return reply, nil
}
