package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// GameArchiver implements domain.Archiver. A finished game is written as
//
//	games/{poolID}/transcript.json  the full transcript
//	games/{poolID}/rounds.jsonl     one round result per line
//
// and the upload is recorded in the audit log when one is configured.
type GameArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates a GameArchiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *GameArchiver {
	return &GameArchiver{writer: writer, reader: reader, audit: audit, now: time.Now}
}

// ArchiveGame uploads t and returns the transcript path. Archiving the same
// pool again overwrites the previous objects.
func (a *GameArchiver) ArchiveGame(ctx context.Context, t domain.GameTranscript) (string, error) {
	if t.ArchivedAt.IsZero() {
		t.ArchivedAt = a.now().UTC()
	}
	path := transcriptPath(t.Pool.ID)

	doc, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal transcript %d: %w", t.Pool.ID, err)
	}
	if err := a.put(ctx, path, doc, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive game %d: %w", t.Pool.ID, err)
	}

	lines, err := marshalJSONL(t.Rounds)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive rounds %d marshal: %w", t.Pool.ID, err)
	}
	if err := a.put(ctx, roundsPath(t.Pool.ID), lines, "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive rounds %d: %w", t.Pool.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.game", map[string]any{
			"pool_id": t.Pool.ID,
			"path":    path,
			"rounds":  len(t.Rounds),
			"outcome": string(t.Outcome),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive game %d audit log: %w", t.Pool.ID, err)
		}
	}
	return path, nil
}

// LoadGame reads back an archived transcript. A missing transcript yields an
// error wrapping domain.ErrNotFound.
func (a *GameArchiver) LoadGame(ctx context.Context, poolID uint64) (domain.GameTranscript, error) {
	body, err := a.reader.Get(ctx, transcriptPath(poolID))
	if err != nil {
		return domain.GameTranscript{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return domain.GameTranscript{}, fmt.Errorf("s3blob: read transcript %d: %w", poolID, err)
	}
	var t domain.GameTranscript
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.GameTranscript{}, fmt.Errorf("s3blob: decode transcript %d: %w", poolID, err)
	}
	return t, nil
}

// IsArchived reports whether a transcript exists for poolID.
func (a *GameArchiver) IsArchived(ctx context.Context, poolID uint64) (bool, error) {
	ok, err := a.reader.Exists(ctx, transcriptPath(poolID))
	if err != nil {
		return false, fmt.Errorf("s3blob: check archive %d: %w", poolID, err)
	}
	return ok, nil
}

// ArchivedPools lists the pools that have a transcript, ascending.
func (a *GameArchiver) ArchivedPools(ctx context.Context) ([]uint64, error) {
	infos, err := a.reader.List(ctx, "games/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archive: %w", err)
	}
	var ids []uint64
	for _, info := range infos {
		if id, ok := poolFromTranscriptPath(info.Path); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (a *GameArchiver) put(ctx context.Context, path string, data []byte, contentType string) error {
	if len(data) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(data), contentType)
}

func transcriptPath(poolID uint64) string {
	return fmt.Sprintf("games/%d/transcript.json", poolID)
}

// poolFromTranscriptPath parses games/{id}/transcript.json.
func poolFromTranscriptPath(path string) (uint64, bool) {
	rest, ok := strings.CutPrefix(path, "games/")
	if !ok {
		return 0, false
	}
	idText, ok := strings.CutSuffix(rest, "/transcript.json")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	return id, err == nil
}

func roundsPath(poolID uint64) string {
	return fmt.Sprintf("games/%d/rounds.jsonl", poolID)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*GameArchiver)(nil)
