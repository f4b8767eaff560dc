package domain

import (
	"context"
	"io"
	"strconv"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// GameTranscript is the archived record of a finished pool.
type GameTranscript struct {
	Pool       Pool          `json:"pool"`
	Viewer     string        `json:"viewer"`
	Rounds     []RoundResult `json:"rounds"`
	TieBreaks  []TieBreak    `json:"tie_breaks"`
	Outcome    Outcome       `json:"outcome"`
	ArchivedAt time.Time     `json:"archived_at"`
}

// Archiver moves finished games to cold storage.
type Archiver interface {
	ArchiveGame(ctx context.Context, t GameTranscript) (path string, err error)
	LoadGame(ctx context.Context, poolID uint64) (GameTranscript, error)
	// IsArchived reports whether poolID already has a transcript.
	IsArchived(ctx context.Context, poolID uint64) (bool, error)
	// ArchivedPools lists pool ids with a transcript, ascending.
	ArchivedPools(ctx context.Context) ([]uint64, error)
}

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }
