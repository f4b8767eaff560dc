package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

type recordSender struct {
	name   string
	titles []string
	err    error
}

func (r *recordSender) Send(ctx context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventWon, " eliminated "}, nil)
	ctx := context.Background()

	_ = n.Notify(ctx, EventWon, "won", "")
	_ = n.Notify(ctx, EventEliminated, "out", "")
	_ = n.Notify(ctx, EventSurvived, "survived", "")
	if len(s.titles) != 2 {
		t.Fatalf("delivered %v", s.titles)
	}

	all := NewNotifier([]Sender{s}, nil, nil)
	if !all.Enabled(EventPoolActive) {
		t.Fatal("empty filter must allow everything")
	}
	var none *Notifier
	if none.Enabled(EventWon) || none.Notify(ctx, EventWon, "x", "y") != nil {
		t.Fatal("nil notifier must drop silently")
	}
}

func TestNotifierCollectsFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordSender{name: "bad", err: boom}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, nil)

	err := n.Notify(context.Background(), EventWon, "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatal("one failing sender blocked the others")
	}
}

type fakeBot struct {
	fails int
	sent  []tgbotapi.MessageConfig
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if b.fails > 0 {
		b.fails--
		return tgbotapi.Message{}, errors.New("429 too many requests")
	}
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramRetriesAndEscapes(t *testing.T) {
	bot := &fakeBot{fails: 1}
	s := newTelegramSender(bot, 42)
	s.retryDelay = 0

	if err := s.Send(context.Background(), "Pool #3 won", "Prize 1.50 CORE!"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages", len(bot.sent))
	}
	msg := bot.sent[0]
	if msg.ChatID != 42 || msg.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Fatalf("chat=%d mode=%s", msg.ChatID, msg.ParseMode)
	}
	if !strings.Contains(msg.Text, `Pool \#3 won`) || !strings.Contains(msg.Text, `1\.50 CORE\!`) {
		t.Fatalf("text not escaped: %q", msg.Text)
	}

	failing := newTelegramSender(&fakeBot{fails: 5}, 1)
	failing.retryDelay = 0
	if err := failing.Send(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestMessages(t *testing.T) {
	pool := domain.Pool{ID: 3, AssetSymbol: "BTC", CurrentPlayers: 4, MaxPlayers: 4}
	res := domain.RoundResult{Round: 2, WinningChoice: domain.ChoiceTails, MajorityChoice: domain.ChoiceHeads}

	if m := Eliminated(pool, res); m.Event != EventEliminated || !strings.Contains(m.Body, "round 2") {
		t.Fatalf("Eliminated = %+v", m)
	}
	if m := PoolActive(pool); m.Event != EventPoolActive || !strings.Contains(m.Body, "4/4") {
		t.Fatalf("PoolActive = %+v", m)
	}
	if m := WriteFailed(3, domain.ChoiceHeads, 1, errors.New("reverted")); !strings.Contains(m.Body, "heads") {
		t.Fatalf("WriteFailed = %+v", m)
	}
}

func TestDiscordSend(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "Pool #1 is active", "BTC pool filled"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Title != "Pool #1 is active" || got.Username != "flareflip" {
		t.Fatalf("payload = %+v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer failing.Close()
	if err := NewDiscordSender(failing.URL).Send(context.Background(), "t", "m"); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v", err)
	}
}
