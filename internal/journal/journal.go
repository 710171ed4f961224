// Package journal stores merge records as immutable JSON objects in a blob
// store, one object per merge under merges/<yyyy>/<mm>/<dd>/<id>.json.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"refereecore/internal/blob"
	"refereecore/internal/core"
)

const (
	prefix      = "merges/"
	contentType = "application/json"
)

var _ core.MergeJournal = (*BlobJournal)(nil)

// BlobJournal implements core.MergeJournal on a blob.Store.
type BlobJournal struct {
	store blob.Store
}

// New returns a journal writing to store.
func New(store blob.Store) *BlobJournal {
	return &BlobJournal{store: store}
}

// Key returns the object key for record.
func Key(record core.MergeRecord) string {
	return path.Join(prefix, record.OccurredAt.UTC().Format("2006/01/02"), record.ID.String()+".json")
}

// Append writes record. Records are create-only; appending the same record
// twice fails with blob.ErrExists.
func (j *BlobJournal) Append(ctx context.Context, record core.MergeRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode merge record %s: %w", record.ID, err)
	}
	_, err = j.store.Put(ctx, Key(record), bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"kind":      string(record.Kind),
			"merged-by": record.MergedBy,
		},
	})
	if err != nil {
		return fmt.Errorf("append merge record %s: %w", record.ID, err)
	}
	return nil
}

// List returns every record, oldest first.
func (j *BlobJournal) List(ctx context.Context) ([]core.MergeRecord, error) {
	infos, err := j.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list merge records: %w", err)
	}
	records := make([]core.MergeRecord, 0, len(infos))
	for _, info := range infos {
		record, err := j.read(ctx, info.Key)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].OccurredAt.Before(records[b].OccurredAt)
	})
	return records, nil
}

func (j *BlobJournal) read(ctx context.Context, key string) (core.MergeRecord, error) {
	_, rc, err := j.store.Get(ctx, key)
	if err != nil {
		return core.MergeRecord{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return core.MergeRecord{}, fmt.Errorf("read merge record %s: %w", key, err)
	}
	var record core.MergeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return core.MergeRecord{}, fmt.Errorf("decode merge record %s: %w", key, err)
	}
	return record, nil
}
