// Package flareflip is the typed gateway to the FlareFlip game contract:
// reads, signed writes and event log decoding.
package flareflip

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed flareflip.abi.json
var abiJSON string

var contractABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("flareflip: embedded ABI: %v", err))
	}
	return parsed
}

// ABI returns the contract ABI.
func ABI() abi.ABI { return contractABI }

func asBig(v any, field string) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("flareflip: field %s: unexpected type %T", field, v)
	}
	return b, nil
}

func asUint64(v any, field string) (uint64, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil || !n.IsUint64() {
			return 0, fmt.Errorf("flareflip: field %s: value out of range", field)
		}
		return n.Uint64(), nil
	case uint8:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("flareflip: field %s: unexpected type %T", field, v)
	}
}

func asUint8(v any, field string) (uint8, error) {
	n, ok := v.(uint8)
	if !ok {
		return 0, fmt.Errorf("flareflip: field %s: unexpected type %T", field, v)
	}
	return n, nil
}

func asAddress(v any, field string) (common.Address, error) {
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("flareflip: field %s: unexpected type %T", field, v)
	}
	return a, nil
}

func asAddresses(v any, field string) ([]common.Address, error) {
	a, ok := v.([]common.Address)
	if !ok {
		return nil, fmt.Errorf("flareflip: field %s: unexpected type %T", field, v)
	}
	return a, nil
}

func asString(v any, field string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("flareflip: field %s: unexpected type %T", field, v)
	}
	return s, nil
}

func asBool(v any, field string) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("flareflip: field %s: unexpected type %T", field, v)
	}
	return b, nil
}
