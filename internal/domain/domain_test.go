package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseChoice(t *testing.T) {
	tests := []struct {
		in      string
		want    Choice
		wantErr bool
	}{
		{"heads", ChoiceHeads, false},
		{" Tails ", ChoiceTails, false},
		{"1", ChoiceHeads, false},
		{"2", ChoiceTails, false},
		{"0", ChoiceNone, false},
		{"", ChoiceNone, false},
		{"3", ChoiceNone, true},
		{"edge", ChoiceNone, true},
	}
	for _, tt := range tests {
		got, err := ParseChoice(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChoice(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidChoice) {
			t.Errorf("ParseChoice(%q) error = %v, want ErrInvalidChoice", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseChoice(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWinningChoiceFromIndex(t *testing.T) {
	if WinningChoiceFromIndex(0) != ChoiceHeads || WinningChoiceFromIndex(1) != ChoiceTails {
		t.Fatal("index mapping wrong")
	}
	if WinningChoiceFromIndex(2) != ChoiceNone || WinningChoiceFromIndex(255) != ChoiceNone {
		t.Fatal("undecided index must map to none")
	}
}

func TestNewRoundResult(t *testing.T) {
	a := common.HexToAddress("0xa")
	b := common.HexToAddress("0xb")

	res, err := NewRoundResult(3, 1, []common.Address{a}, []common.Address{b}, 1, b)
	if err != nil {
		t.Fatalf("NewRoundResult: %v", err)
	}
	if res.WinningChoice != ChoiceTails || res.MajorityChoice != ChoiceHeads || res.Survived {
		t.Fatalf("result = %+v", res)
	}
	if !res.IsLoser(b) || res.IsWinner(b) {
		t.Fatal("membership wrong")
	}

	if _, err := NewRoundResult(3, 1, []common.Address{a, b}, []common.Address{b}, 0, a); !errors.Is(err, ErrMalformedRoundResult) {
		t.Fatalf("overlap err = %v", err)
	}
	if _, err := NewRoundResult(3, 1, []common.Address{a}, nil, 2, a); !errors.Is(err, ErrRoundUndecided) {
		t.Fatalf("undecided err = %v", err)
	}

	zero, err := NewRoundResult(3, 1, []common.Address{{}}, nil, 0, common.Address{})
	if err != nil {
		t.Fatalf("NewRoundResult: %v", err)
	}
	if zero.Survived {
		t.Fatal("zero viewer must never survive")
	}
}

func TestParsePoolStatus(t *testing.T) {
	for raw, want := range map[uint8]PoolStatus{0: PoolStatusOpen, 1: PoolStatusActive, 2: PoolStatusCompleted} {
		got, err := ParsePoolStatus(raw)
		if err != nil || got != want {
			t.Errorf("ParsePoolStatus(%d) = %s, %v", raw, got, err)
		}
	}
	got, err := ParsePoolStatus(9)
	if got != PoolStatusUnknown || !errors.Is(err, ErrUnknownPoolStatus) {
		t.Fatalf("ParsePoolStatus(9) = %s, %v", got, err)
	}
}

func TestTokenAmounts(t *testing.T) {
	wei, err := ParseToken("1.5")
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if wei.Cmp(big.NewInt(1_500_000_000_000_000_000)) != 0 {
		t.Fatalf("wei = %s", wei)
	}
	if _, err := ParseToken("-1"); err == nil {
		t.Fatal("negative amount accepted")
	}

	tests := []struct {
		tokens string
		want   string
	}{
		{"0.5", "0.50 CORE"},
		{"1500", "1.50K CORE"},
		{"2500000", "2.50M CORE"},
	}
	for _, tt := range tests {
		v, _ := ParseToken(tt.tokens)
		if got := FormatToken(v); got != tt.want {
			t.Errorf("FormatToken(%s) = %q, want %q", tt.tokens, got, tt.want)
		}
	}
}

func TestSelectionKey(t *testing.T) {
	if got := SelectionKey("flareflip", 12); got != "flareflip-12-selection" {
		t.Fatalf("SelectionKey = %q", got)
	}
}

func TestStakerRules(t *testing.T) {
	staked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	justBelow := new(big.Int).Sub(MinimumCreatorStake, big.NewInt(1))

	tests := []struct {
		name       string
		staker     Staker
		now        time.Time
		canCreate  bool
		canUnstake bool
	}{
		{"no stake", Staker{}, staked, false, true},
		{"below minimum", Staker{StakedAmount: justBelow, LastStakeTimestamp: staked}, staked, false, false},
		{"at minimum, locked", Staker{StakedAmount: MinimumCreatorStake, LastStakeTimestamp: staked}, staked.Add(time.Hour), true, false},
		{"lock elapsed", Staker{StakedAmount: MinimumCreatorStake, LastStakeTimestamp: staked}, staked.Add(MinStakingPeriod), true, true},
		{"active pools", Staker{StakedAmount: MinimumCreatorStake, ActivePoolsCount: 1, LastStakeTimestamp: staked}, staked.Add(30 * 24 * time.Hour), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.staker.CanCreatePools(); got != tt.canCreate {
				t.Errorf("CanCreatePools = %v, want %v", got, tt.canCreate)
			}
			if got := tt.staker.CanUnstake(tt.now); got != tt.canUnstake {
				t.Errorf("CanUnstake = %v, want %v", got, tt.canUnstake)
			}
		})
	}

	st := Staker{LastStakeTimestamp: staked}
	if want := staked.Add(7 * 24 * time.Hour); !st.UnlocksAt().Equal(want) {
		t.Fatalf("UnlocksAt = %v, want %v", st.UnlocksAt(), want)
	}
}
