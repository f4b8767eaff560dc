package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	multipart int
}

func (m *memBlobs) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	m.multipart++
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(ctx context.Context, q domain.AuditQuery) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveAndLoadGame(t *testing.T) {
	blobs := &memBlobs{objects: make(map[string][]byte)}
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, audit)
	ctx := context.Background()

	winner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	transcript := domain.GameTranscript{
		Pool:    domain.Pool{ID: 9, AssetSymbol: "BTC", Status: domain.PoolStatusCompleted},
		Viewer:  winner.Hex(),
		Outcome: domain.OutcomeWon,
		Rounds: []domain.RoundResult{
			{PoolID: 9, Round: 1, Winners: []common.Address{winner}, WinningChoice: domain.ChoiceHeads},
			{PoolID: 9, Round: 2, Winners: []common.Address{winner}, WinningChoice: domain.ChoiceTails},
		},
	}

	path, err := a.ArchiveGame(ctx, transcript)
	if err != nil {
		t.Fatalf("ArchiveGame: %v", err)
	}
	if path != "games/9/transcript.json" {
		t.Fatalf("path = %q", path)
	}
	if lines := bytes.Count(blobs.objects["games/9/rounds.jsonl"], []byte("\n")); lines != 2 {
		t.Fatalf("rounds.jsonl has %d lines", lines)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.game" {
		t.Fatalf("audit = %v", audit.events)
	}

	got, err := a.LoadGame(ctx, 9)
	if err != nil {
		t.Fatalf("LoadGame: %v", err)
	}
	if got.Outcome != domain.OutcomeWon || len(got.Rounds) != 2 || got.ArchivedAt.IsZero() {
		t.Fatalf("loaded = %+v", got)
	}

	archived, err := a.ArchivedPools(ctx)
	if err != nil || len(archived) != 1 || archived[0] != 9 {
		t.Fatalf("ArchivedPools = %v, %v", archived, err)
	}
	if ok, err := a.IsArchived(ctx, 9); err != nil || !ok {
		t.Fatalf("IsArchived(9) = %v, %v", ok, err)
	}
	if ok, _ := a.IsArchived(ctx, 10); ok {
		t.Fatal("IsArchived(10) = true")
	}

	if _, err := a.LoadGame(ctx, 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing transcript err = %v", err)
	}
	if blobs.multipart != 0 {
		t.Fatal("small transcript used multipart upload")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}

func TestClientKey(t *testing.T) {
	c := &Client{prefix: "flareflip"}
	if got := c.Key("games/1/transcript.json"); got != "flareflip/games/1/transcript.json" {
		t.Fatalf("Key = %q", got)
	}
	if got := c.relative("flareflip/games/1/transcript.json"); got != "games/1/transcript.json" {
		t.Fatalf("relative = %q", got)
	}
}

func TestPoolFromTranscriptPath(t *testing.T) {
	tests := []struct {
		path string
		id   uint64
		ok   bool
	}{
		{"games/12/transcript.json", 12, true},
		{"games/12/rounds.jsonl", 0, false},
		{"games/x/transcript.json", 0, false},
		{"other/12/transcript.json", 0, false},
	}
	for _, tt := range tests {
		id, ok := poolFromTranscriptPath(tt.path)
		if id != tt.id || ok != tt.ok {
			t.Errorf("poolFromTranscriptPath(%q) = %d, %v", tt.path, id, ok)
		}
	}
}
