package mirror

import (
	"context"
	"time"
)

// Source provides paginated read access to the external corpus.
type Source interface {
	ListPage(ctx context.Context, skip, limit int) (ListPage, error)
	FetchDetail(ctx context.Context, title string) (MirroredContent, error)
}

// ObjectAttrs describes a stored object without its body.
type ObjectAttrs struct {
	Key      string
	Metadata map[string]string
}

// ObjectStore persists blobs together with side-channel metadata. Put must
// write body and metadata as a single unit.
type ObjectStore interface {
	Head(ctx context.Context, key string) (ObjectAttrs, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key, contentType string, body []byte, metadata map[string]string) error
}

// PageStore is the relational store for page rows.
type PageStore interface {
	UpsertPage(ctx context.Context, page PageRecord) (int64, error)
	// ResolveTitles maps titles to page ids; unknown titles are absent from the result.
	ResolveTitles(ctx context.Context, titles []string) (map[string]int64, error)
	ListDayPages(ctx context.Context, q DayPageQuery) ([]DayPage, error)
}

// CrossReferenceStore persists temporal cross references.
type CrossReferenceStore interface {
	// ReplaceCrossReferences atomically swaps the whole set owned by sourcePageID.
	ReplaceCrossReferences(ctx context.Context, sourcePageID int64, refs []TemporalCrossReference) error
	CountByDayAndYear(ctx context.Context) ([]DayYearCount, error)
}

// ClassificationStore reports pages awaiting manual triage.
type ClassificationStore interface {
	ListUnclassified(ctx context.Context, limit int) ([]UnclassifiedPage, error)
}

// Store bundles every relational capability.
type Store interface {
	PageStore
	CrossReferenceStore
	ClassificationStore
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces workflow instance IDs.
type IDGenerator interface {
	NewID() (string, error)
}
