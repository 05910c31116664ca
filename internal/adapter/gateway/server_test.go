package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"formation-flying/internal/domain"
	"formation-flying/internal/usecase/eventbus"
)

func startTestServer(t *testing.T, bus domain.EventBus) *Server {
	t.Helper()
	srv := NewServer(bus, newFakeStore(), Options{Addr: "127.0.0.1:0", Auth: NewTokenAuth([]string{"test-token"})}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = srv.Start(ctx) }()

	deadline := time.After(3 * time.Second)
	for srv.BoundAddr() == "" {
		select {
		case <-deadline:
			t.Fatal("server did not start in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv
}

func dialWS(t *testing.T, addr, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func waitClients(t *testing.T, srv *Server, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Stats().clients.Load() != n {
		if time.Now().After(deadline) {
			t.Fatalf("stream clients = %d, want %d", srv.Stats().clients.Load(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func call(t *testing.T, ws *websocket.Conn, req Frame) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		var resp Frame
		if err := wsjson.Read(ctx, ws, &resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp.Type == FrameTypeResponse && resp.ID == req.ID {
			return resp
		}
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var frame Frame
	if err := wsjson.Read(ctx, ws, &frame); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if frame.Type != FrameTypeEvent {
		t.Fatalf("frame type = %q, want event", frame.Type)
	}
	var e domain.Event
	if err := json.Unmarshal(frame.Payload, &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if frame.Event != e.Type || frame.Tick != e.Tick {
		t.Errorf("frame header %s@%d disagrees with payload %s@%d", frame.Event, frame.Tick, e.Type, e.Tick)
	}
	return e
}

func TestServerAuthReject(t *testing.T) {
	srv := startTestServer(t, eventbus.New(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws?token=bad-token", nil); err == nil {
		t.Fatal("expected auth rejection")
	}
}

func TestServerPing(t *testing.T) {
	srv := startTestServer(t, eventbus.New(nil))
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, Frame{Type: FrameTypeRequest, ID: 1, Method: "ping"})
	if resp.Error != "" || string(resp.Payload) != `"pong"` {
		t.Errorf("resp = %+v", resp)
	}
}

func TestServerUnknownMethod(t *testing.T) {
	srv := startTestServer(t, eventbus.New(nil))
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, Frame{Type: FrameTypeRequest, ID: 2, Method: "nonexistent"})
	if resp.Error == "" {
		t.Error("expected error for unknown method")
	}
}

func TestServerForwardsEvents(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	srv := startTestServer(t, bus)
	ws := dialWS(t, srv.BoundAddr(), "test-token")
	waitClients(t, srv, 1)

	bus.Publish(context.Background(), domain.Event{Tick: 3, Type: domain.EventFormationStarted, Flight: 0, Peer: 1, Value: 12.5})

	e := readEvent(t, ws)
	if e.Type != domain.EventFormationStarted || e.Tick != 3 || e.Peer != 1 {
		t.Errorf("event = %+v", e)
	}
}

func TestServerSubscribeFilter(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	srv := startTestServer(t, bus)
	ws := dialWS(t, srv.BoundAddr(), "test-token")
	waitClients(t, srv, 1)

	payload, _ := json.Marshal(subscribeRequest{Types: []domain.EventType{domain.EventFlightArrived}})
	if resp := call(t, ws, Frame{Type: FrameTypeRequest, ID: 5, Method: "subscribe", Payload: payload}); resp.Error != "" {
		t.Fatalf("subscribe: %s", resp.Error)
	}

	ctx := context.Background()
	bus.Publish(ctx, domain.Event{Tick: 1, Type: domain.EventFuelBurned})
	bus.Publish(ctx, domain.Event{Tick: 2, Type: domain.EventFlightArrived, Flight: 4})

	e := readEvent(t, ws)
	if e.Type != domain.EventFlightArrived || e.Flight != 4 {
		t.Errorf("event = %+v, want only the arrival", e)
	}
}

func TestServerSubscribeBadPayload(t *testing.T) {
	srv := startTestServer(t, eventbus.New(nil))
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, Frame{Type: FrameTypeRequest, ID: 6, Method: "subscribe", Payload: json.RawMessage(`{"types":7}`)})
	if resp.Error == "" {
		t.Error("expected error for malformed subscribe payload")
	}
}

func TestServerSlowClient(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()
	srv := startTestServer(t, bus)
	_ = dialWS(t, srv.BoundAddr(), "test-token") // connected but not reading
	waitClients(t, srv, 1)

	for i := range 2000 {
		bus.Publish(context.Background(), domain.Event{Tick: i, Type: domain.EventFuelBurned})
	}
	// Reaching here without blocking is the assertion.
}

func TestServerDisconnectCleansUp(t *testing.T) {
	srv := startTestServer(t, eventbus.New(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws?token=test-token", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, srv, 1)
	ws.Close(websocket.StatusNormalClosure, "bye")
	waitClients(t, srv, 0)
}

func TestServerStopIsIdempotent(t *testing.T) {
	srv := startTestServer(t, eventbus.New(nil))
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
