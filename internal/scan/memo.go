package scan

import (
	"context"

	"github.com/xxxsen/romsort/internal/db"
)

// CRCMemo remembers streamed checksums for the lifetime of a run.
type CRCMemo interface {
	Lookup(ctx context.Context, location string, modTime, size int64) (*db.CRCMemo, bool, error)
	Upsert(ctx context.Context, location string, m *db.CRCMemo) error
}

type nopMemo struct{}

func (nopMemo) Lookup(context.Context, string, int64, int64) (*db.CRCMemo, bool, error) {
	return nil, false, nil
}

func (nopMemo) Upsert(context.Context, string, *db.CRCMemo) error { return nil }
