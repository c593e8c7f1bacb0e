package intent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/salon-voice-gateway/internal/resilience"
)

const (
	// IntentServiceName is the gRPC service exposing salon business logic.
	IntentServiceName = "salon.intent.v1.IntentService"

	extractMethod = "/" + IntentServiceName + "/Extract"
)

// GRPCConfig configures the business-logic intent client.
type GRPCConfig struct {
	Target     string
	TLSEnabled bool
	Reconnect  *resilience.ReconnectConfig
}

// GRPCClassifier manages the gRPC connection to the salon intent service.
// Requests and responses are google.protobuf.Struct messages, so no generated
// stubs are needed.
type GRPCClassifier struct {
	cfg         GRPCConfig
	dialOpts    []grpc.DialOption
	conn        *grpc.ClientConn
	mu          sync.RWMutex
	isConnected bool
	logger      zerolog.Logger
}

// NewGRPCClassifier creates a new intent gRPC client. Extra dial options are
// appended to the defaults.
func NewGRPCClassifier(cfg GRPCConfig, logger zerolog.Logger, opts ...grpc.DialOption) (*GRPCClassifier, error) {
	c := &GRPCClassifier{
		cfg:      cfg,
		dialOpts: opts,
		logger:   logger.With().Str("component", "intent_grpc").Logger(),
	}

	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to intent service: %w", err)
	}

	return c, nil
}

// connect establishes a gRPC connection to the intent service
func (c *GRPCClassifier) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected && c.conn != nil {
		return nil
	}

	var opts []grpc.DialOption
	if c.cfg.TLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, c.dialOpts...)

	conn, err := grpc.NewClient(c.cfg.Target, opts...)
	if err != nil {
		return fmt.Errorf("failed to dial intent service at %s: %w", c.cfg.Target, err)
	}

	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.isConnected = true

	c.logger.Info().Str("target", c.cfg.Target).Msg("Connected to intent service")
	return nil
}

// Name implements Classifier.
func (c *GRPCClassifier) Name() string {
	return "grpc"
}

// Classify implements Classifier by calling IntentService/Extract.
func (c *GRPCClassifier) Classify(ctx context.Context, text, callID string) (*Record, error) {
	c.mu.RLock()
	connected := c.isConnected
	c.mu.RUnlock()

	if !connected {
		if err := resilience.Reconnect(ctx, c.connect, c.cfg.Reconnect); err != nil {
			return nil, fmt.Errorf("failed to reconnect: %w", err)
		}
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("intent client is nil")
	}

	req, err := structpb.NewStruct(map[string]any{
		"text":    text,
		"call_id": callID,
	})
	if err != nil {
		return nil, fmt.Errorf("build extract request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, extractMethod, req, resp); err != nil {
		code := status.Code(err)
		err = fmt.Errorf("failed to call Extract: %w", err)
		switch code {
		case codes.Unavailable:
			c.markDisconnected()
			return nil, resilience.NewRetryableError(err)
		case codes.ResourceExhausted, codes.Aborted:
			return nil, resilience.NewRetryableError(err)
		}
		return nil, err
	}

	return recordFromStruct(resp), nil
}

// HealthCheck checks if the intent service is serving
func (c *GRPCClassifier) HealthCheck(ctx context.Context) (bool, error) {
	c.mu.RLock()
	if !c.isConnected || c.conn == nil {
		c.mu.RUnlock()
		return false, fmt.Errorf("intent client is not connected")
	}
	conn := c.conn
	c.mu.RUnlock()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: IntentServiceName})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}

	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection
func (c *GRPCClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.isConnected = false
		c.conn = nil
		return err
	}

	return nil
}

// IsConnected returns whether the client is currently connected
func (c *GRPCClassifier) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *GRPCClassifier) markDisconnected() {
	c.mu.Lock()
	c.isConnected = false
	c.mu.Unlock()
}

func recordFromStruct(s *structpb.Struct) *Record {
	fields := s.GetFields()
	str := func(key string) string {
		return fields[key].GetStringValue()
	}
	return &Record{
		Category: Category(str("category")),
		Entities: Entities{
			Service:       str("service"),
			RequestedTime: str("requested_time"),
			CustomerName:  str("customer_name"),
			Notes:         str("notes"),
		},
		Confidence: fields["confidence"].GetNumberValue(),
		Urgent:     fields["urgent"].GetBoolValue(),
		Source:     SourceGRPC,
	}
}
