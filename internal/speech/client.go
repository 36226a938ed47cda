// Package speech talks to the gRPC speech gateway that turns prompt text
// into encoded audio for the notification cache.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the gateway service used for health checks.
	ServiceName = "chatterbox.speech.v1.Synthesizer"
	// SynthesizeMethod is the unary synthesis RPC.
	SynthesizeMethod = "/" + ServiceName + "/Synthesize"

	defaultDialTimeout    = 3 * time.Second
	defaultRequestTimeout = 15 * time.Second
	defaultFormat         = "mp3"
)

// ErrEmptyAudio reports a synthesis reply without audio bytes.
var ErrEmptyAudio = errors.New("speech gateway returned no audio")

// Config controls the gateway connection.
type Config struct {
	Address        string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Voice          string
	Format         string
	// RequestsPerSecond paces synthesis calls; 0 leaves them unpaced.
	RequestsPerSecond float64
	// Hashcode tags requests with the dialogue channel's synthesis key.
	Hashcode func() int64
}

// Client is a connected speech gateway.
type Client struct {
	conn    *grpc.ClientConn
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Dial connects to the gateway and waits for the connection to become ready.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errors.New("speech gateway address is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = defaultFormat
	}

	conn, err := grpc.NewClient(
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial speech grpc %q: %w", address, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for speech grpc readiness: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{conn: conn, cfg: cfg, limiter: limiter, logger: logger}, nil
}

// Synthesize returns encoded audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("synthesis text is empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for synthesis slot: %w", err)
	}

	fields := map[string]any{
		"text":   text,
		"format": c.cfg.Format,
	}
	if c.cfg.Voice != "" {
		fields["voice"] = c.cfg.Voice
	}
	if c.cfg.Hashcode != nil {
		// structpb numbers are float64; hashcodes fit in the exact integer range.
		fields["hashcode"] = float64(c.cfg.Hashcode())
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	reply := &wrapperspb.BytesValue{}
	if err := c.conn.Invoke(callCtx, SynthesizeMethod, req, reply); err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if len(reply.GetValue()) == 0 {
		return nil, ErrEmptyAudio
	}
	c.logger.Debug("speech synthesized",
		"text_runes", len([]rune(text)),
		"bytes", len(reply.GetValue()),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply.GetValue(), nil
}

// SynthesizeToFile writes the synthesis of text to path.
func (c *Client) SynthesizeToFile(ctx context.Context, text, path string) error {
	audio, err := c.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return fmt.Errorf("write synthesis %q: %w", path, err)
	}
	return nil
}

// Health asks the gateway whether the synthesizer is serving.
func (c *Client) Health(ctx context.Context) error {
	return CheckHealth(ctx, c.conn)
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// CheckHealth runs the standard gRPC health check for the synthesizer service.
func CheckHealth(ctx context.Context, conn grpc.ClientConnInterface) error {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("speech health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("speech gateway status %s", resp.GetStatus().String())
	}
	return nil
}
