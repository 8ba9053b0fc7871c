// Package export writes session artefacts (the schema as markdown, the last
// result as parquet) to object storage and serves them back to their owner.
package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatdb/chatdb/internal/errs"
	"github.com/chatdb/chatdb/internal/observability"
	"github.com/chatdb/chatdb/internal/schema"
	"github.com/chatdb/chatdb/internal/session"
	"github.com/chatdb/chatdb/internal/storage"
)

const (
	KindSchema = "schema"
	KindResult = "result"

	contentTypeMarkdown = "text/markdown; charset=utf-8"
	contentTypeParquet  = "application/vnd.apache.parquet"
)

type Artefact struct {
	Kind        string    `json:"kind"`
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ETag        string    `json:"etag,omitempty"`
	RowCount    int64     `json:"row_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Exporter struct {
	store storage.ObjectStore
	now   func() time.Time
}

func NewExporter(store storage.ObjectStore, now func() time.Time) *Exporter {
	if now == nil {
		now = time.Now
	}
	return &Exporter{store: store, now: now}
}

func (e *Exporter) ExportSchema(ctx context.Context, principal, sessionID string, snap schema.Snapshot) (Artefact, error) {
	artefact, err := e.put(ctx, principal, sessionID, KindSchema, "md", contentTypeMarkdown, []byte(snap.Markdown()))
	observability.ObserveExport(KindSchema, err)
	return artefact, err
}

// ExportResult writes the rows of the session's last successful turn.
func (e *Exporter) ExportResult(ctx context.Context, principal, sessionID string, turn *session.Turn) (Artefact, error) {
	artefact, err := e.exportResult(ctx, principal, sessionID, turn)
	observability.ObserveExport(KindResult, err)
	return artefact, err
}

func (e *Exporter) exportResult(ctx context.Context, principal, sessionID string, turn *session.Turn) (Artefact, error) {
	if turn == nil || turn.Result == nil {
		return Artefact{}, errs.New(errs.NotFound, "no result to export; ask a question first")
	}
	encoded, err := EncodeResultToParquet(*turn.Result)
	if err != nil {
		return Artefact{}, errs.Wrap(errs.Validation, "the last statement returned no rows to export", err)
	}
	artefact, err := e.put(ctx, principal, sessionID, KindResult, "parquet", contentTypeParquet, encoded.Data)
	if err != nil {
		return Artefact{}, err
	}
	artefact.RowCount = encoded.RecordCount
	return artefact, nil
}

// Open streams an export back. Keys outside the principal's prefix are
// reported as missing.
func (e *Exporter) Open(ctx context.Context, principal, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	if !ownsKey(principal, key) {
		return nil, storage.ObjectInfo{}, errs.New(errs.NotFound, "export not found")
	}
	info, err := e.store.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, storageError(err)
	}
	body, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, storageError(err)
	}
	return body, info, nil
}

func (e *Exporter) put(ctx context.Context, principal, sessionID, kind, ext, contentType string, data []byte) (Artefact, error) {
	now := e.now().UTC()
	key, err := storage.BuildExportKey(principal, sessionID, kind, now, uuid.NewString()[:8], ext)
	if err != nil {
		return Artefact{}, errs.Wrap(errs.Validation, "", err)
	}
	info, err := e.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: contentType})
	if err != nil {
		return Artefact{}, storageError(err)
	}
	return Artefact{
		Kind:        kind,
		Key:         key,
		Size:        int64(len(data)),
		ContentType: contentType,
		ETag:        info.ETag,
		CreatedAt:   now,
	}, nil
}

func ownsKey(principal, key string) bool {
	if strings.TrimSpace(principal) == "" {
		principal = "anonymous"
	}
	return strings.HasPrefix(key, "exports/"+principal+"/") && !strings.Contains(key, "..")
}

func storageError(err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return errs.Wrap(errs.NotFound, "export not found", err)
	}
	return errs.Wrap(errs.Upstream, "object storage request failed", err)
}
