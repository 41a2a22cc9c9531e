package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/thermoscan/internal/archive"
	"github.com/example/thermoscan/internal/domain"
	"github.com/example/thermoscan/internal/export"
)

// HistoryLimit caps the history view.
const HistoryLimit = 20

// HistoryEntry is one row of the history view.
type HistoryEntry struct {
	ID        uint    `json:"id"`
	Temp      float64 `json:"temp"`
	Timestamp string  `json:"timestamp"`
	Status    string  `json:"status"`
	Model     string  `json:"model"`
}

// HistoryService is the read path over both stores.
type HistoryService struct {
	local   LocalStore
	archive ArchiveStore
	cache   Cache
	ttl     time.Duration
	logger  *zap.Logger
}

// NewHistoryService constructs a HistoryService. cache may be nil.
func NewHistoryService(local LocalStore, archive ArchiveStore, cache Cache, ttl time.Duration, logger *zap.Logger) *HistoryService {
	return &HistoryService{
		local:   local,
		archive: archive,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.Named("history"),
	}
}

// History returns the newest session readings with display-zone timestamps.
func (s *HistoryService) History(ctx context.Context) ([]HistoryEntry, error) {
	generation, cacheable := s.generation(ctx)
	if cacheable {
		if entries, ok := s.cachedHistory(ctx, generation); ok {
			return entries, nil
		}
	}

	records, err := s.local.Recent(ctx, HistoryLimit)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		reading, err := rec.ToReading()
		if err != nil {
			s.logger.Warn("skipping row with unreadable timestamp", zap.Uint("id", rec.ID), zap.Error(err))
			continue
		}
		entries = append(entries, HistoryEntry{
			ID:        rec.ID,
			Temp:      reading.Temperature,
			Timestamp: domain.FormatDisplay(reading.Timestamp),
			Status:    string(reading.Status),
			Model:     string(reading.Model),
		})
	}

	if cacheable {
		s.storeHistory(ctx, generation, entries)
	}
	return entries, nil
}

// ExportSession writes the whole session store as CSV, newest first. Nothing
// is written to w unless the read succeeds.
func (s *HistoryService) ExportSession(ctx context.Context, w io.Writer) error {
	records, err := s.local.All(ctx)
	if err != nil {
		return err
	}
	rows := make([]export.SessionRow, 0, len(records))
	for _, rec := range records {
		reading, err := rec.ToReading()
		if err != nil {
			return domain.ErrLocalStore.Wrap(err)
		}
		rows = append(rows, export.SessionRow{ID: rec.ID, Reading: reading})
	}
	return writeBuffered(w, func(buf io.Writer) error { return export.WriteSession(buf, rows) })
}

// ExportArchive writes the whole archive as CSV, newest first, with display
// timestamps. An unreachable archive yields domain.ErrArchiveUnavailable.
func (s *HistoryService) ExportArchive(ctx context.Context, w io.Writer) error {
	docs, err := s.archive.All(ctx)
	if err != nil {
		return err
	}
	rows := make([]export.ArchiveRow, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, export.ArchiveRow{ID: doc.ID.Hex(), Reading: doc.ToReading(), Source: doc.Source})
	}
	return writeBuffered(w, func(buf io.Writer) error { return export.WriteArchive(buf, rows) })
}

// ArchiveStatus checks the archive for diagnostics.
func (s *HistoryService) ArchiveStatus(ctx context.Context) (*archive.Status, error) {
	return s.archive.Status(ctx)
}

// generation reads the store generation the cached history is keyed on. It
// must be read before the store so a concurrent write moves readers on.
func (s *HistoryService) generation(ctx context.Context) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	gen, err := s.cache.Get(ctx, historyGenerationKey)
	switch {
	case errors.Is(err, redis.Nil):
		return "0", true
	case err != nil:
		s.logger.Warn("failed to read history cache generation", zap.Error(err))
		return "", false
	}
	return gen, true
}

func (s *HistoryService) cachedHistory(ctx context.Context, generation string) ([]HistoryEntry, bool) {
	raw, err := s.cache.Get(ctx, historyKey(generation))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("failed to read history cache", zap.Error(err))
		}
		return nil, false
	}
	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("failed to decode cached history", zap.Error(err))
		return nil, false
	}
	return entries, true
}

func (s *HistoryService) storeHistory(ctx context.Context, generation string, entries []HistoryEntry) {
	serialized, err := json.Marshal(entries)
	if err != nil {
		s.logger.Warn("failed to serialize history", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, historyKey(generation), string(serialized), s.ttl); err != nil {
		s.logger.Warn("failed to cache history", zap.Error(err))
	}
}

func writeBuffered(w io.Writer, fn func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}
