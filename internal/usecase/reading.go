package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/thermoscan/internal/domain"
	"github.com/example/thermoscan/internal/logging"
)

// ProcessRequest is one extraction request.
type ProcessRequest struct {
	Image       string
	Provider    domain.Provider
	Credentials Credentials
}

// ProcessResult is returned to the caller even when storage partially failed.
type ProcessResult struct {
	RequestID string
	Reading   domain.Reading
	Simulated bool
	LocalOK   bool
	ArchiveOK bool
}

// ReadingUseCase runs dispatch, classification and dual persistence.
type ReadingUseCase struct {
	dispatcher *Dispatcher
	persister  *Persister
	logger     *zap.Logger
}

// NewReadingUseCase constructs a new use case instance.
func NewReadingUseCase(dispatcher *Dispatcher, persister *Persister, logger *zap.Logger) *ReadingUseCase {
	return &ReadingUseCase{
		dispatcher: dispatcher,
		persister:  persister,
		logger:     logger.Named("reading_usecase"),
	}
}

// Providers lists the providers callers may request.
func (uc *ReadingUseCase) Providers() []domain.Provider {
	return uc.dispatcher.Providers()
}

// Process extracts, classifies and records a reading. Input and extraction
// failures return before anything is written. Simulated free-tier values are
// returned labeled and are not written to either store.
func (uc *ReadingUseCase) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.process", requestID)

	extraction, err := uc.dispatcher.Process(ctx, req.Image, req.Provider, req.Credentials)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.extract", requestID, err)
		if domain.KindOf(err) == domain.KindInput {
			opLogger.Info("request rejected", zap.Error(wrapped))
		} else {
			opLogger.Error("extraction failed", zap.Error(wrapped), zap.String("provider", string(req.Provider)))
		}
		return nil, wrapped
	}

	draft := domain.NewReading(extraction.Temperature, extraction.Provider)

	if extraction.Outcome == domain.OutcomeSimulated {
		reading := uc.persister.Stamp(draft)
		opLogger.Warn("returning simulated reading without persisting",
			zap.String("provider", string(extraction.Provider)),
			zap.Float64("temperature", reading.Temperature),
		)
		return &ProcessResult{RequestID: requestID, Reading: reading, Simulated: true}, nil
	}

	outcome := uc.persister.Persist(ctx, requestID, draft)
	opLogger.Info("reading processed",
		zap.String("provider", string(extraction.Provider)),
		zap.String("credential_source", string(extraction.CredentialSource)),
		zap.Float64("temperature", outcome.Reading.Temperature),
		zap.String("status", string(outcome.Reading.Status)),
		zap.Bool("local_ok", outcome.LocalOK),
		zap.Bool("archive_ok", outcome.ArchiveOK),
	)

	return &ProcessResult{
		RequestID: requestID,
		Reading:   outcome.Reading,
		LocalOK:   outcome.LocalOK,
		ArchiveOK: outcome.ArchiveOK,
	}, nil
}
