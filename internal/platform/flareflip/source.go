package flareflip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

const (
	// reconnectDelay is the base delay before re-subscribing.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for re-subscription.
	maxReconnectDelay = 60 * time.Second

	// maxBlockSpan bounds a single eth_getLogs range.
	maxBlockSpan = 5_000
)

// LogBackend is the subset of an RPC client needed to read contract logs.
type LogBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LogSubscriber is implemented by websocket RPC clients.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// EventSource streams decoded game events. With a subscriber it follows new
// logs over a subscription and backfills gaps after every reconnect; without
// one it polls eth_getLogs.
type EventSource struct {
	reader     LogBackend
	subscriber LogSubscriber
	contract   common.Address
	fromBlock  uint64
	interval   time.Duration
	logger     *slog.Logger

	// next is the first block not yet delivered.
	next uint64
}

// NewEventSource creates a source. subscriber may be nil. A zero fromBlock
// starts at the chain head.
func NewEventSource(reader LogBackend, subscriber LogSubscriber, contract common.Address, fromBlock uint64, pollInterval time.Duration, logger *slog.Logger) *EventSource {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 4 * time.Second
	}
	return &EventSource{
		reader:     reader,
		subscriber: subscriber,
		contract:   contract,
		fromBlock:  fromBlock,
		interval:   pollInterval,
		logger:     logger.With(slog.String("component", "event_source")),
	}
}

// Stream delivers events into sink until ctx is cancelled. It returns
// ctx.Err() on shutdown.
func (s *EventSource) Stream(ctx context.Context, sink chan<- domain.ChainEvent) error {
	if s.fromBlock > 0 {
		s.next = s.fromBlock
	} else {
		head, err := s.reader.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("flareflip: event source: head: %w", err)
		}
		s.next = head + 1
	}

	if s.subscriber == nil {
		return s.poll(ctx, sink)
	}

	delay := reconnectDelay
	for {
		established, err := s.follow(ctx, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait, next := backoff(delay, established)
		s.logger.Warn("log subscription dropped, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", wait),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = next
	}
}

// backoff returns the wait before the next reconnect and the delay to use
// after it. A session that got established starts over from reconnectDelay.
func backoff(delay time.Duration, established bool) (wait, next time.Duration) {
	if established {
		delay = reconnectDelay
	}
	return delay, min(delay*2, maxReconnectDelay)
}

// follow subscribes, backfills anything missed since the last delivered
// block, then forwards live logs until the subscription fails. established
// reports whether the subscription got past the backfill.
func (s *EventSource) follow(ctx context.Context, sink chan<- domain.ChainEvent) (established bool, err error) {
	logs := make(chan types.Log, 64)
	sub, err := s.subscriber.SubscribeFilterLogs(ctx, FilterQuery(s.contract), logs)
	if err != nil {
		return false, err
	}
	defer sub.Unsubscribe()

	if err := s.catchUp(ctx, sink); err != nil {
		return false, err
	}
	s.logger.Info("log subscription established", slog.Uint64("from_block", s.next))

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return true, err
		case lg := <-logs:
			// Logs already covered by the backfill are skipped.
			if lg.BlockNumber < s.next-1 {
				continue
			}
			if err := s.emit(ctx, sink, lg); err != nil {
				return true, err
			}
			if lg.BlockNumber >= s.next {
				s.next = lg.BlockNumber + 1
			}
		}
	}
}

func (s *EventSource) poll(ctx context.Context, sink chan<- domain.ChainEvent) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.catchUp(ctx, sink); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("log poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// catchUp delivers every log from s.next to the current head.
func (s *EventSource) catchUp(ctx context.Context, sink chan<- domain.ChainEvent) error {
	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	for s.next <= head {
		to := s.next + maxBlockSpan - 1
		if to > head {
			to = head
		}
		q := FilterQuery(s.contract)
		q.FromBlock = new(big.Int).SetUint64(s.next)
		q.ToBlock = new(big.Int).SetUint64(to)
		logs, err := s.reader.FilterLogs(ctx, q)
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", s.next, to, err)
		}
		for _, lg := range logs {
			if err := s.emit(ctx, sink, lg); err != nil {
				return err
			}
		}
		s.next = to + 1
	}
	return nil
}

func (s *EventSource) emit(ctx context.Context, sink chan<- domain.ChainEvent, lg types.Log) error {
	if lg.Removed {
		s.logger.Debug("skipping removed log", slog.String("tx", lg.TxHash.Hex()))
		return nil
	}
	ev, err := DecodeLog(lg)
	if err != nil {
		s.logger.Warn("undecodable log",
			slog.String("tx", lg.TxHash.Hex()),
			slog.Uint64("block", lg.BlockNumber),
			slog.String("error", err.Error()),
		)
		return nil
	}
	select {
	case sink <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
