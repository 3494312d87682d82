package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const (
	registerPath = "/registry.RegistryService/Register"
	connectPath  = "/registry.RegistryService/EstablishConnection"

	heartbeatInterval = 30 * time.Second
	reconnectBase     = 5 * time.Second
	maxReconnects     = 5
)

// frameStream is the bidirectional frame exchange with the registry.
type frameStream interface {
	Send(*Frame) error
	Recv() (*Frame, error)
}

type grpcFrameStream struct {
	grpc.ClientStream
}

func (s *grpcFrameStream) Send(f *Frame) error { return s.SendMsg(f) }

func (s *grpcFrameStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := s.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// dialFunc opens the underlying connection; replaceable in tests.
type dialFunc func(cfg Config) (*grpc.ClientConn, error)

func dialRegistry(cfg Config) (*grpc.ClientConn, error) {
	return grpc.NewClient(cfg.ServerAddress,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
}

// Client keeps a reverse connection to the registry open, answering
// forwarded requests through its dispatcher.
type Client struct {
	cfg        Config
	dispatcher *Dispatcher
	logger     *slog.Logger
	dial       dialFunc
	now        func() time.Time

	mu                sync.Mutex
	conn              *grpc.ClientConn
	stream            frameStream
	streamCancel      context.CancelFunc
	connectionID      string
	connected         bool
	reconnectAttempts int
	reconnecting      bool
	reconnectTimer    *time.Timer
	closed            bool
}

func NewClient(cfg Config, dispatcher *Dispatcher, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		dial:       dialRegistry,
		now:        time.Now,
	}
}

// Start registers with the registry and opens the forwarding stream.
// Registration failure aborts startup; later stream failures are
// retried with backoff.
func (c *Client) Start(ctx context.Context) error {
	conn, err := c.dial(c.cfg)
	if err != nil {
		return fmt.Errorf("dial registry: %w", err)
	}

	req := &RegisterRequest{
		APIKey:   c.cfg.Token,
		Address:  c.cfg.ClientAddress(),
		Services: c.dispatcher.Methods(),
	}
	resp := new(RegisterResponse)
	if err := conn.Invoke(ctx, registerPath, req, resp); err != nil {
		conn.Close()
		return fmt.Errorf("register with registry: %w", err)
	}
	if !resp.Success {
		conn.Close()
		return fmt.Errorf("registry refused registration: %s", resp.Message)
	}
	c.logger.Info("registered with registry",
		slog.String("type", "grpc"),
		slog.String("server", c.cfg.ServerAddress),
		slog.String("message", resp.Message))

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return c.openStream(ctx)
}

func (c *Client) openStream(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("client closed")
	}
	conn := c.conn
	c.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	desc := &grpc.StreamDesc{
		StreamName:    "EstablishConnection",
		ClientStreams: true,
		ServerStreams: true,
	}
	raw, err := conn.NewStream(streamCtx, desc, connectPath)
	if err != nil {
		cancel()
		return fmt.Errorf("open registry stream: %w", err)
	}
	stream := &grpcFrameStream{ClientStream: raw}

	connectionID := c.newConnectionID()
	if err := stream.Send(&Frame{Register: &RegisterFrame{
		APIKey:       c.cfg.Token,
		Services:     c.dispatcher.Methods(),
		ConnectionID: connectionID,
	}}); err != nil {
		cancel()
		return fmt.Errorf("send register frame: %w", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.streamCancel = cancel
	c.connectionID = connectionID
	c.connected = true
	c.reconnectAttempts = 0
	c.reconnecting = false
	c.mu.Unlock()

	c.logger.Info("registry stream established",
		slog.String("type", "grpc"),
		slog.String("connection_id", connectionID))

	go c.readLoop(ctx, stream)
	go c.heartbeatLoop(ctx, stream, connectionID)
	return nil
}

func (c *Client) readLoop(ctx context.Context, stream frameStream) {
	for {
		frame, err := stream.Recv()
		if err != nil {
			c.handleStreamError(ctx, err)
			return
		}

		switch {
		case frame.Request != nil:
			go c.handleRequest(ctx, stream, frame.Request)
		case frame.Heartbeat != nil:
			// Echo with a fresh local timestamp, keeping the sender's
			// connection id so the registry can match the reply.
			echo := &Frame{Heartbeat: &HeartbeatFrame{
				Timestamp:    c.now().UnixMilli(),
				ConnectionID: frame.Heartbeat.ConnectionID,
			}}
			if err := stream.Send(echo); err != nil {
				c.logger.Warn("heartbeat echo failed",
					slog.String("type", "grpc"),
					slog.Any("error", err))
			}
		case frame.Status != nil:
			c.handleStatus(frame.Status)
		}
	}
}

func (c *Client) handleRequest(ctx context.Context, stream frameStream, req *RequestFrame) {
	resp := c.dispatcher.Dispatch(ctx, req)
	if err := stream.Send(&Frame{Response: resp}); err != nil {
		c.logger.Error("sending response failed",
			slog.String("type", "grpc"),
			slog.String("request_id", req.RequestID),
			slog.Any("error", err))
	}
}

func (c *Client) handleStatus(s *StatusFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.Status {
	case StatusConnected:
		c.connected = true
	case StatusDisconnected, StatusError:
		c.connected = false
	}
	c.logger.Info("registry connection status",
		slog.String("type", "grpc"),
		slog.String("status", s.Status))
}

func (c *Client) heartbeatLoop(ctx context.Context, stream frameStream, connectionID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		active := c.connected && c.stream == stream
		c.mu.Unlock()
		if !active {
			return
		}

		beat := &Frame{Heartbeat: &HeartbeatFrame{
			Timestamp:    c.now().UnixMilli(),
			ConnectionID: connectionID,
		}}
		if err := stream.Send(beat); err != nil {
			c.logger.Warn("heartbeat send failed",
				slog.String("type", "grpc"),
				slog.Any("error", err))
			return
		}
	}
}

func (c *Client) handleStreamError(ctx context.Context, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()

	if errors.Is(err, io.EOF) || status.Code(err) == codes.Unavailable {
		c.logger.Warn("registry stream lost",
			slog.String("type", "grpc"),
			slog.Any("error", err))
		c.scheduleReconnect(ctx)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	c.logger.Error("registry stream error",
		slog.String("type", "grpc"),
		slog.Any("error", err))
	c.scheduleReconnect(ctx)
}

// reconnectDelay is the backoff before a given attempt, counted from 1.
func reconnectDelay(attempt int) time.Duration {
	return reconnectBase * time.Duration(1<<(attempt-1))
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	if attempt > maxReconnects {
		c.mu.Unlock()
		c.logger.Error("giving up on registry reconnection",
			slog.String("type", "grpc"),
			slog.Int("attempts", maxReconnects))
		return
	}
	c.reconnecting = true
	delay := reconnectDelay(attempt)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnecting = false
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if err := c.openStream(ctx); err != nil {
			c.logger.Warn("reconnection attempt failed",
				slog.String("type", "grpc"),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			c.scheduleReconnect(ctx)
		}
	})
	c.mu.Unlock()

	c.logger.Info("reconnecting to registry",
		slog.String("type", "grpc"),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))
}

// Reconnect drops the current stream and retries immediately, resetting
// the backoff counter.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("client closed")
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.streamCancel != nil {
		c.streamCancel()
		c.streamCancel = nil
	}
	c.connected = false
	c.reconnectAttempts = 0
	c.reconnecting = false
	c.mu.Unlock()

	return c.openStream(ctx)
}

// Connected reports whether the forwarding stream is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears everything down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.streamCancel != nil {
		c.streamCancel()
		c.streamCancel = nil
	}
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) newConnectionID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("%s_%d_%s", c.cfg.ClientName, c.now().UnixMilli(), suffix)
}
