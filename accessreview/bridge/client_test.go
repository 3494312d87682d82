package bridge

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"
)

// fakeStream feeds scripted frames to readLoop and collects every frame
// the client sends back.
type fakeStream struct {
	incoming chan *Frame
	sent     chan *Frame
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		incoming: make(chan *Frame, 8),
		sent:     make(chan *Frame, 8),
	}
}

func (s *fakeStream) Send(f *Frame) error {
	s.sent <- f
	return nil
}

func (s *fakeStream) Recv() (*Frame, error) {
	f, ok := <-s.incoming
	if !ok {
		return nil, io.EOF
	}
	return f, nil
}

func (s *fakeStream) waitSent(t *testing.T) *Frame {
	t.Helper()
	select {
	case f := <-s.sent:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("client sent nothing")
		return nil
	}
}

func testClient(t *testing.T) (*Client, *fakeStream) {
	t.Helper()
	d, _ := testService(t)
	cfg := Config{ServerAddress: "localhost:50051", Token: "k", ClientName: "bot"}
	c := NewClient(cfg, d, testLogger())
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return c, newFakeStream()
}

func TestReadLoop_HeartbeatEcho(t *testing.T) {
	c, stream := testClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.readLoop(ctx, stream)
	stream.incoming <- &Frame{Heartbeat: &HeartbeatFrame{
		Timestamp:    1,
		ConnectionID: "server-conn",
	}}

	echo := stream.waitSent(t)
	if echo.Heartbeat == nil {
		t.Fatalf("echo = %+v, want heartbeat", echo)
	}
	if echo.Heartbeat.ConnectionID != "server-conn" {
		t.Errorf("connection id = %q, want sender's", echo.Heartbeat.ConnectionID)
	}
	if echo.Heartbeat.Timestamp != 1_700_000_000_000 {
		t.Errorf("timestamp = %d, want fresh local clock", echo.Heartbeat.Timestamp)
	}
	close(stream.incoming)
}

func TestReadLoop_DispatchesRequests(t *testing.T) {
	c, stream := testClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.readLoop(ctx, stream)
	payload, _ := json.Marshal(map[string]string{"user_id": "7"})
	stream.incoming <- &Frame{Request: &RequestFrame{
		RequestID:  "r1",
		MethodPath: ServicePrefix + "GetAutoApplyCooldown",
		Payload:    payload,
	}}

	reply := stream.waitSent(t)
	if reply.Response == nil {
		t.Fatalf("reply = %+v, want response", reply)
	}
	if reply.Response.RequestID != "r1" || reply.Response.StatusCode != 200 {
		t.Errorf("response = %+v", reply.Response)
	}
	close(stream.incoming)
}

func TestReadLoop_UnknownMethodKeepsStreamAlive(t *testing.T) {
	c, stream := testClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.readLoop(ctx, stream)
	stream.incoming <- &Frame{Request: &RequestFrame{RequestID: "bad", MethodPath: "/nope/Nope"}}

	reply := stream.waitSent(t)
	if reply.Response == nil || reply.Response.StatusCode != 404 {
		t.Fatalf("reply = %+v, want 404 response", reply)
	}

	// The stream still answers after a bad request.
	payload, _ := json.Marshal(map[string]string{"user_id": "7"})
	stream.incoming <- &Frame{Request: &RequestFrame{
		RequestID:  "good",
		MethodPath: ServicePrefix + "GetBlacklistStatus",
		Payload:    payload,
	}}
	reply = stream.waitSent(t)
	if reply.Response == nil || reply.Response.StatusCode != 200 {
		t.Fatalf("follow-up reply = %+v", reply)
	}
	close(stream.incoming)
}

func TestStatusFrameTogglesConnected(t *testing.T) {
	c, stream := testClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.connected = true
	go c.readLoop(ctx, stream)

	stream.incoming <- &Frame{Status: &StatusFrame{Status: StatusDisconnected}}
	waitFor(t, func() bool { return !c.Connected() })

	stream.incoming <- &Frame{Status: &StatusFrame{Status: StatusConnected}}
	waitFor(t, func() bool { return c.Connected() })
	close(stream.incoming)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestClose_Idempotent(t *testing.T) {
	c, _ := testClient(t)
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.Reconnect(context.Background()); err == nil {
		t.Fatal("Reconnect succeeded on a closed client")
	}
}

func TestScheduleReconnect_GivesUpAfterMaxAttempts(t *testing.T) {
	c, _ := testClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.mu.Lock()
	c.reconnectAttempts = maxReconnects
	c.mu.Unlock()

	c.scheduleReconnect(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnecting {
		t.Error("a sixth attempt was scheduled")
	}
	if c.reconnectTimer != nil {
		t.Error("a reconnect timer is pending past the attempt limit")
	}
}

func TestReconnectDelay(t *testing.T) {
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
	}
	for i, w := range want {
		if got := reconnectDelay(i + 1); got != w {
			t.Errorf("reconnectDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestConnectionID(t *testing.T) {
	c, _ := testClient(t)
	id := c.newConnectionID()
	want := "bot_1700000000000_"
	if len(id) != len(want)+9 || id[:len(want)] != want {
		t.Errorf("connection id = %q", id)
	}
}
