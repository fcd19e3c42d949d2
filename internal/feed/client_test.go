package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pumpwatch/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedServer is a scripted pumpportal stand-in. It records the commands it
// receives and pushes frames to the client.
type feedServer struct {
	t *testing.T

	mu       sync.Mutex
	conn     *websocket.Conn
	commands []command

	httpServer *httptest.Server
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	s := &feedServer{t: t}

	s.httpServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd command
			if err := json.Unmarshal(msg, &cmd); err != nil {
				t.Errorf("unmarshal command: %v", err)
				continue
			}
			s.mu.Lock()
			s.commands = append(s.commands, cmd)
			s.mu.Unlock()
		}
	}))

	t.Cleanup(s.httpServer.Close)
	return s
}

func (s *feedServer) url() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
}

func (s *feedServer) push(frame string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.t.Fatal("no client connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		s.t.Errorf("push: %v", err)
	}
}

func (s *feedServer) waitForCommand(method string, timeout time.Duration) (command, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, cmd := range s.commands {
			if cmd.Method == method {
				s.mu.Unlock()
				return cmd, true
			}
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	return command{}, false
}

func TestClient_SubscribesNewTokensOnConnect(t *testing.T) {
	server := newFeedServer(t)

	client, err := Dial(context.Background(), server.url(), nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, ok := server.waitForCommand("subscribeNewToken", 2*time.Second); !ok {
		t.Fatal("client must subscribe to new tokens on connect")
	}
}

func TestClient_SubscribeTokenTrades(t *testing.T) {
	server := newFeedServer(t)

	client, err := Dial(context.Background(), server.url(), nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	unsub, err := client.SubscribeTokenTrades("mintA")
	if err != nil {
		t.Fatalf("SubscribeTokenTrades: %v", err)
	}

	cmd, ok := server.waitForCommand("subscribeTokenTrade", 2*time.Second)
	if !ok {
		t.Fatal("subscribe command never arrived")
	}
	if len(cmd.Keys) != 1 || cmd.Keys[0] != "mintA" {
		t.Errorf("keys = %v, want [mintA]", cmd.Keys)
	}

	if err := unsub(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	cmd, ok = server.waitForCommand("unsubscribeTokenTrade", 2*time.Second)
	if !ok {
		t.Fatal("unsubscribe command never arrived")
	}
	if len(cmd.Keys) != 1 || cmd.Keys[0] != "mintA" {
		t.Errorf("keys = %v, want [mintA]", cmd.Keys)
	}
}

func TestClient_DeliversDecodedEvents(t *testing.T) {
	server := newFeedServer(t)

	client, err := Dial(context.Background(), server.url(), nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	// Give the handler a moment to store the connection.
	if _, ok := server.waitForCommand("subscribeNewToken", 2*time.Second); !ok {
		t.Fatal("handshake incomplete")
	}

	server.push(`{"txType": "create", "mint": "` + validMint + `", "symbol": "TT",
		"vSolInBondingCurve": 30, "vTokensInBondingCurve": 1000000000, "marketCapSol": 30}`)

	select {
	case ev := <-client.Events():
		create, ok := ev.(domain.CreateEvent)
		if !ok {
			t.Fatalf("event is %T, want CreateEvent", ev)
		}
		if create.Mint != validMint {
			t.Errorf("mint = %s, want %s", create.Mint, validMint)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestClient_CloseClosesEvents(t *testing.T) {
	server := newFeedServer(t)

	client, err := Dial(context.Background(), server.url(), nil, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent.
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, open := <-client.Events():
		if open {
			// Drain any frame decoded before shutdown.
			for range client.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel must close on Close")
	}

	if _, err := client.SubscribeTokenTrades("mintA"); err == nil {
		t.Error("subscribe after Close must fail")
	}
}
