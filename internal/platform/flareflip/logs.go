package flareflip

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// ErrUnknownEvent is returned for logs whose topic is not a game event.
var ErrUnknownEvent = errors.New("flareflip: unknown event")

var watchedEvents = []string{
	string(domain.EventPlayerJoined),
	string(domain.EventRoundCompleted),
	string(domain.EventRoundWinners),
	string(domain.EventRoundLosers),
	string(domain.EventTieBroken),
}

// FilterQuery selects every game event emitted by contract.
func FilterQuery(contract common.Address) ethereum.FilterQuery {
	ids := make([]common.Hash, 0, len(watchedEvents))
	for _, name := range watchedEvents {
		ids = append(ids, contractABI.Events[name].ID)
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{ids},
	}
}

// DecodeLog turns a raw contract log into a typed chain event.
func DecodeLog(lg types.Log) (domain.ChainEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev, err := contractABI.EventByID(lg.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, lg.Topics[0].Hex())
	}

	vals := make(map[string]any, len(ev.Inputs))
	if len(lg.Data) > 0 {
		if err := contractABI.UnpackIntoMap(vals, ev.Name, lg.Data); err != nil {
			return nil, fmt.Errorf("flareflip: decode %s data: %w", ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(vals, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("flareflip: decode %s topics: %w", ev.Name, err)
	}

	meta := domain.EventMeta{BlockNumber: lg.BlockNumber, TxHash: lg.TxHash, LogIndex: lg.Index}
	d := decoder{vals: vals, event: ev.Name}
	pool := d.u64("poolId")

	var out domain.ChainEvent
	switch domain.EventKind(ev.Name) {
	case domain.EventPlayerJoined:
		out = domain.PlayerJoined{Log: meta, Pool: pool, Player: d.address("player")}
	case domain.EventRoundCompleted:
		out = domain.RoundCompleted{Log: meta, Pool: pool, Round: d.u64("round"), WinningChoice: d.choice("winningChoice")}
	case domain.EventRoundWinners:
		out = domain.RoundWinners{Log: meta, Pool: pool, Round: d.u64("round"), Winners: d.addresses("winners")}
	case domain.EventRoundLosers:
		out = domain.RoundLosers{Log: meta, Pool: pool, Round: d.u64("round"), Losers: d.addresses("losers")}
	case domain.EventTieBroken:
		out = domain.TieBrokenByHybrid{
			Log:              meta,
			Pool:             pool,
			Round:            d.u64("round"),
			StartPrice:       d.bigInt("startPrice"),
			LastPrice:        d.bigInt("lastPrice"),
			RandomValue:      d.bigInt("randomValue"),
			WinningSelection: d.choice("winningSelection"),
			HeadsCount:       d.u64("headsCount"),
			TailsCount:       d.u64("tailsCount"),
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Name)
	}
	if d.err != nil {
		return nil, d.err
	}
	return out, nil
}

// decoder reads typed fields from an unpacked event map, keeping the first
// error.
type decoder struct {
	vals  map[string]any
	event string
	err   error
}

func (d *decoder) field(name string) string { return d.event + "." + name }

func (d *decoder) u64(name string) uint64 {
	v, err := asUint64(d.vals[name], d.field(name))
	d.keep(err)
	return v
}

func (d *decoder) bigInt(name string) *big.Int {
	v, err := asBig(d.vals[name], d.field(name))
	d.keep(err)
	return v
}

func (d *decoder) address(name string) common.Address {
	v, err := asAddress(d.vals[name], d.field(name))
	d.keep(err)
	return v
}

func (d *decoder) addresses(name string) []common.Address {
	v, err := asAddresses(d.vals[name], d.field(name))
	d.keep(err)
	return v
}

// choice decodes the contract's choice enum; out of range values map to none.
func (d *decoder) choice(name string) domain.Choice {
	v, err := asUint8(d.vals[name], d.field(name))
	d.keep(err)
	c := domain.Choice(v)
	if !c.Valid() {
		return domain.ChoiceNone
	}
	return c
}

func (d *decoder) keep(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}
