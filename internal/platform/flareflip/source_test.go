package flareflip

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

type fakeLogs struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (f *fakeLogs) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeLogs) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func TestPollingSourceDeliversOnce(t *testing.T) {
	first := buildLog(t, "RoundCompleted", []common.Hash{poolTopic(1)}, bigOne(), uint8(1))
	first.BlockNumber = 5
	removed := first
	removed.Removed = true
	removed.Index = 9

	backend := &fakeLogs{head: 10, logs: []types.Log{first, removed}}
	src := NewEventSource(backend, nil, testContract, 1, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := make(chan domain.ChainEvent, 8)
	done := make(chan error, 1)
	go func() { done <- src.Stream(ctx, sink) }()

	select {
	case ev := <-sink:
		if ev.Kind() != domain.EventRoundCompleted || ev.PoolID() != 1 {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	// Several more polls run with an unchanged head; nothing is redelivered.
	time.Sleep(20 * time.Millisecond)
	select {
	case ev := <-sink:
		t.Fatalf("unexpected redelivery %+v", ev)
	default:
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func bigOne() *big.Int { return big.NewInt(1) }

func TestReconnectBackoff(t *testing.T) {
	tests := []struct {
		name        string
		delay       time.Duration
		established bool
		wait, next  time.Duration
	}{
		{"first failure", reconnectDelay, false, reconnectDelay, 2 * reconnectDelay},
		{"keeps doubling", 8 * time.Second, false, 8 * time.Second, 16 * time.Second},
		{"capped", maxReconnectDelay, false, maxReconnectDelay, maxReconnectDelay},
		{"healthy session resets", maxReconnectDelay, true, reconnectDelay, 2 * reconnectDelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wait, next := backoff(tt.delay, tt.established)
			if wait != tt.wait || next != tt.next {
				t.Fatalf("backoff(%s, %v) = %s, %s, want %s, %s", tt.delay, tt.established, wait, next, tt.wait, tt.next)
			}
		})
	}
}
