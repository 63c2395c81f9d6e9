package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	renderServiceName  = "ecoplan.render.v1.RenderService"
	renderMethod       = "/" + renderServiceName + "/Render"
	maxRenderReplySize = 32 << 20
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errRenderResponse           = errors.New("render agent returned error")
)

// GrpcRenderer calls an external render agent over gRPC. Requests and
// replies are google.protobuf.Struct messages.
type GrpcRenderer struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration for addr.
func DefaultGrpcClientConfig(addr string) GrpcClientConfig {
	return GrpcClientConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcRenderer connects to the render agent and waits until the
// connection is ready.
func NewGrpcRenderer(ctx context.Context, cfg GrpcClientConfig, logger *slog.Logger) (*GrpcRenderer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Set up keepalive parameters
	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRenderReplySize)),
	}
	opts = append(opts, cfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to render agent at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad agent endpoints.
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("render agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to render agent", "address", cfg.Address)

	return &GrpcRenderer{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
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

// Name implements Renderer.
func (c *GrpcRenderer) Name() string { return "grpc:" + c.addr }

// Close closes the gRPC connection.
func (c *GrpcRenderer) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks if the render agent reports SERVING.
func (c *GrpcRenderer) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: renderServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("render agent status %s", resp.GetStatus())
	}
	return nil
}

// Render sends one unary Render call.
func (c *GrpcRenderer) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	in, err := renderRequestStruct(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Rendering via gRPC", "session_id", req.SessionID, "view", req.View)

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, renderMethod, in, out); err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}

	fields := out.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return nil, fmt.Errorf("%w: %s", errRenderResponse, msg)
	}

	encoded := fields["image_base64"].GetStringValue()
	if encoded == "" {
		return nil, ErrNoImage
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode render image: %w", err)
	}
	mime := fields["mime_type"].GetStringValue()
	if mime == "" {
		mime = "image/png"
	}
	return &RenderResult{
		Image: Image{Data: data, MIMEType: mime},
		Notes: fields["notes"].GetStringValue(),
	}, nil
}

// renderRequestStruct converts the request to its wire form. The design is
// passed through JSON so the Struct carries the same field names the HTTP API
// exposes.
func renderRequestStruct(req RenderRequest) (*structpb.Struct, error) {
	m := map[string]any{
		"session_id": req.SessionID,
		"attempt_id": req.AttemptID,
		"view":       string(req.View),
		"style":      req.Style,
		"prompt":     BuildPrompt(req),
	}
	if req.Design != nil {
		raw, err := json.Marshal(req.Design)
		if err != nil {
			return nil, fmt.Errorf("encode design: %w", err)
		}
		var design map[string]any
		if err := json.Unmarshal(raw, &design); err != nil {
			return nil, fmt.Errorf("encode design: %w", err)
		}
		m["design"] = design
	}
	if req.Reference != nil {
		m["reference_base64"] = base64.StdEncoding.EncodeToString(req.Reference.Data)
		m["reference_mime_type"] = req.Reference.MIMEType
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	return s, nil
}
