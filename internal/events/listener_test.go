package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) PSubscribe(context.Context, string) (<-chan domain.BusMessage, error) {
	return nil, errors.New("not implemented")
}

func completed(pool, round uint64, logIndex uint) domain.RoundCompleted {
	return domain.RoundCompleted{
		Log:   domain.EventMeta{BlockNumber: 10, TxHash: common.HexToHash("0x01"), LogIndex: logIndex},
		Pool:  pool,
		Round: round,
	}
}

func drain(s *Subscription) []domain.ChainEvent {
	var out []domain.ChainEvent
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestDeliverRoutesByPool(t *testing.T) {
	l := NewListener(nil, nil, nil)
	five := l.Subscribe(5)
	seven := l.Subscribe(7)
	all := l.SubscribeAll()

	l.Deliver(context.Background(), completed(5, 1, 0))

	if got := drain(five); len(got) != 1 {
		t.Errorf("pool 5 subscriber got %d events", len(got))
	}
	if got := drain(seven); len(got) != 0 {
		t.Errorf("pool 7 subscriber must not see pool 5 events, got %v", got)
	}
	if got := drain(all); len(got) != 1 {
		t.Errorf("catch-all subscriber got %d events", len(got))
	}
}

func TestDeliverDropsDuplicateLogs(t *testing.T) {
	l := NewListener(nil, nil, nil)
	sub := l.Subscribe(3)

	ev := completed(3, 2, 4)
	if !l.Deliver(context.Background(), ev) {
		t.Fatal("first delivery reported as duplicate")
	}
	if l.Deliver(context.Background(), ev) {
		t.Fatal("second delivery of the same log was accepted")
	}
	// A different log in the same tx is a distinct event.
	if !l.Deliver(context.Background(), completed(3, 2, 5)) {
		t.Fatal("distinct log rejected")
	}
	if got := drain(sub); len(got) != 2 {
		t.Errorf("expected 2 events, got %d", len(got))
	}
}

func TestCloseIsDeterministic(t *testing.T) {
	l := NewListener(nil, nil, nil)
	sub := l.Subscribe(1)
	sub.Close()
	sub.Close()

	if l.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", l.Subscribers())
	}
	l.Deliver(context.Background(), completed(1, 1, 0))
	if _, ok := <-sub.Events(); ok {
		t.Error("closed subscription still receives events")
	}
}

func TestDeliverMirrorsToBus(t *testing.T) {
	bus := &fakeBus{}
	l := NewListener(nil, bus, nil)
	l.Deliver(context.Background(), completed(9, 3, 0))

	msgs := bus.published[domain.PoolChannel(9)]
	if len(msgs) != 1 {
		t.Fatalf("expected one mirrored message, got %d", len(msgs))
	}
	var env struct {
		Kind string `json:"kind"`
		Pool uint64 `json:"pool_id"`
	}
	if err := json.Unmarshal(msgs[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Kind != string(domain.EventRoundCompleted) || env.Pool != 9 {
		t.Errorf("unexpected envelope %+v", env)
	}
}

type sliceSource struct{ events []domain.ChainEvent }

func (s sliceSource) Stream(ctx context.Context, sink chan<- domain.ChainEvent) error {
	for _, ev := range s.events {
		sink <- ev
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunStreamsSource(t *testing.T) {
	src := sliceSource{events: []domain.ChainEvent{
		completed(2, 1, 0),
		completed(2, 1, 0),
		completed(2, 2, 1),
	}}
	l := NewListener(src, nil, nil)
	sub := l.Subscribe(2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	var rounds []uint64
	timeout := time.After(time.Second)
	for len(rounds) < 2 {
		select {
		case ev := <-sub.Events():
			rounds = append(rounds, ev.(domain.RoundCompleted).Round)
		case <-timeout:
			t.Fatalf("timed out, got rounds %v", rounds)
		}
	}
	if rounds[0] != 1 || rounds[1] != 2 {
		t.Errorf("unexpected rounds %v", rounds)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDedupExpires(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("a") {
		t.Fatal("first sighting is not a duplicate")
	}
	if !d.IsDuplicate("a") {
		t.Fatal("second sighting within ttl is a duplicate")
	}
	now = now.Add(2 * time.Minute)
	if n := d.Cleanup(); n != 1 {
		t.Errorf("expected 1 expired key, got %d", n)
	}
	if d.IsDuplicate("a") {
		t.Error("expired key should be new again")
	}
}
