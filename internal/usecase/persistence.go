package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/thermoscan/internal/archive"
	"github.com/example/thermoscan/internal/domain"
	"github.com/example/thermoscan/internal/logging"
	"github.com/example/thermoscan/internal/metrics"
	"github.com/example/thermoscan/internal/repository"
)

// LocalStore is the session store used by persistence and history.
type LocalStore interface {
	Save(ctx context.Context, reading domain.Reading) (*repository.ReadingRecord, error)
	Recent(ctx context.Context, limit int) ([]repository.ReadingRecord, error)
	All(ctx context.Context) ([]repository.ReadingRecord, error)
	AggregateByStatus(ctx context.Context) ([]repository.StatusAggregate, error)
}

// ArchiveStore is the long-term store.
type ArchiveStore interface {
	Insert(ctx context.Context, reading domain.Reading) (string, error)
	All(ctx context.Context) ([]archive.Document, error)
	Status(ctx context.Context) (*archive.Status, error)
}

// PersistOutcome reports each store independently.
type PersistOutcome struct {
	Reading    domain.Reading
	LocalOK    bool
	ArchiveOK  bool
	LocalErr   error
	ArchiveErr error
}

// Persister writes a reading to both stores. It owns the reading timestamp.
type Persister struct {
	local   LocalStore
	archive ArchiveStore
	cache   Cache
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewPersister constructs a Persister. cache may be nil.
func NewPersister(local LocalStore, archive ArchiveStore, cache Cache, logger *zap.Logger, m *metrics.Metrics) *Persister {
	return &Persister{
		local:   local,
		archive: archive,
		cache:   cache,
		logger:  logger.Named("persister"),
		metrics: m,
		now:     time.Now,
	}
}

// Stamp assigns the persistence clock's current UTC instant to draft.
func (p *Persister) Stamp(draft domain.Reading) domain.Reading {
	return draft.Stamped(p.now())
}

// Persist stamps draft once and writes it to both stores concurrently. A
// failure in one store neither blocks nor undoes the other.
func (p *Persister) Persist(ctx context.Context, requestID string, draft domain.Reading) PersistOutcome {
	reading := p.Stamp(draft)
	out := PersistOutcome{Reading: reading}
	opLogger := logging.WithOperation(p.logger, "usecase.persist", requestID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := p.local.Save(ctx, reading); err != nil {
			out.LocalErr = logging.NewOperationError("persist.local", requestID, err)
			return
		}
		out.LocalOK = true
	}()
	go func() {
		defer wg.Done()
		id, err := p.archive.Insert(ctx, reading)
		if err != nil {
			out.ArchiveErr = logging.NewOperationError("persist.archive", requestID, err)
			return
		}
		out.ArchiveOK = true
		opLogger.Debug("archived reading", zap.String("archive_id", id))
	}()
	wg.Wait()

	p.metrics.StoreWrite("local", out.LocalOK)
	p.metrics.StoreWrite("archive", out.ArchiveOK)

	if out.LocalErr != nil {
		opLogger.Error("session store write failed", zap.Error(out.LocalErr))
	}
	if out.ArchiveErr != nil {
		opLogger.Warn("archive write failed", zap.Error(out.ArchiveErr))
	}
	if out.LocalOK && p.cache != nil {
		if _, err := p.cache.Incr(ctx, historyGenerationKey); err != nil {
			opLogger.Warn("failed to invalidate history cache", zap.Error(err))
		}
	}
	return out
}
