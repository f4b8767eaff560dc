package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

type patternBus struct {
	mu   sync.Mutex
	subs map[string]chan domain.BusMessage
}

func newPatternBus() *patternBus {
	return &patternBus{subs: make(map[string]chan domain.BusMessage)}
}

func (b *patternBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, ch := range b.subs {
		prefix, wild := strings.CutSuffix(pattern, "*")
		if pattern == channel || (wild && strings.HasPrefix(channel, prefix)) {
			ch <- domain.BusMessage{Channel: channel, Payload: payload}
		}
	}
	return nil
}

func (b *patternBus) PSubscribe(_ context.Context, pattern string) (<-chan domain.BusMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan domain.BusMessage, 8)
	b.subs[pattern] = ch
	return ch, nil
}

func (b *patternBus) subscribed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func TestEncodeRoundTrip(t *testing.T) {
	frame, err := Encode(domain.BusMessage{
		Channel: "ch:game:7",
		Payload: []byte(`{"pool_id":7,"game_status":"choosing"}`),
	}, FormatProto)
	if err != nil {
		t.Fatal(err)
	}
	env, err := Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	fields := env.GetFields()
	if fields["type"].GetStringValue() != "game_view" || fields["channel"].GetStringValue() != "ch:game:7" {
		t.Errorf("envelope = %v", env)
	}
	payload := fields["payload"].GetStructValue().GetFields()
	if payload["pool_id"].GetNumberValue() != 7 || payload["game_status"].GetStringValue() != "choosing" {
		t.Errorf("payload = %v", payload)
	}

	// Non-JSON payloads travel as strings.
	frame, err = Encode(domain.BusMessage{Channel: "ch:pool:1", Payload: []byte("raw")}, FormatProto)
	if err != nil {
		t.Fatal(err)
	}
	env, _ = Decode(frame)
	if env.GetFields()["type"].GetStringValue() != "event" || env.GetFields()["payload"].GetStringValue() != "raw" {
		t.Errorf("raw envelope = %v", env)
	}
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:game:*": true, "ch:pools": true}}
	tests := []struct {
		channel string
		want    bool
	}{
		{"ch:game:1", true},
		{"ch:pools", true},
		{"ch:pool:1", false},
	}
	for _, tt := range tests {
		if got := c.isSubscribed(tt.channel); got != tt.want {
			t.Errorf("isSubscribed(%q) = %v, want %v", tt.channel, got, tt.want)
		}
	}

	c.handleSubscription(subscribeMsg{Action: "only", Channels: []string{"ch:pool:1"}, Format: FormatJSON})
	if c.isSubscribed("ch:game:1") || !c.isSubscribed("ch:pool:1") || c.frameFormat() != FormatJSON {
		t.Errorf("only did not replace subscriptions: %v %s", c.subs, c.format)
	}
}

func TestHubDeliversJSONFrames(t *testing.T) {
	bus := newPatternBus()
	hub := NewHub(bus, nil, Config{Mode: "full", Watched: func() []uint64 { return []uint64{1} }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for bus.subscribed() < len(defaultPatterns) {
		if time.Now().After(deadline) {
			t.Fatal("hub never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?format=json"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	status := readEnvelope(t, conn)
	if status.GetFields()["channel"].GetStringValue() != "ch:status" {
		t.Fatalf("first frame = %v", status)
	}

	bus.Publish(ctx, domain.GameChannel(1), []byte(`{"pool_id":1}`))
	env := readEnvelope(t, conn)
	if env.GetFields()["type"].GetStringValue() != "game_view" {
		t.Errorf("frame = %v", env)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *structpb.Struct {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("frame kind = %d, want text", kind)
	}
	var env structpb.Struct
	if err := protojson.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	return &env
}

func httpHandler(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
