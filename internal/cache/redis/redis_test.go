package redis

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

func TestChoiceEncoding(t *testing.T) {
	for _, c := range []domain.Choice{domain.ChoiceHeads, domain.ChoiceTails} {
		got, err := decodeChoice(encodeChoice(c))
		if err != nil || got != c {
			t.Fatalf("round trip %s = %s, %v", c, got, err)
		}
	}
	if encodeChoice(domain.ChoiceHeads) != "1" || encodeChoice(domain.ChoiceTails) != "2" {
		t.Fatal("stored values must be the contract index")
	}
	for _, raw := range []string{"0", "", "7", "garbage"} {
		if _, err := decodeChoice(raw); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("decodeChoice(%q) err = %v, want ErrNotFound", raw, err)
		}
	}
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "ff"}
	if got := c.key("lock", "join"); got != "ff:lock:join" {
		t.Fatalf("key = %q", got)
	}
	bare := &Client{}
	if got := bare.key("pool", "3"); got != "pool:3" {
		t.Fatalf("key = %q", got)
	}
}
