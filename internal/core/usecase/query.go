package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bchauvel/lexia/internal/core/domain"
)

// Retriever is the read side the query use case depends on.
type Retriever interface {
	Retrieve(ctx context.Context, question string, filter domain.SearchFilter, limit int) ([]domain.SearchHit, error)
}

// LegalQueryUseCase answers a legal question or refers to a professional.
// Retrieval and generation failures, and the per-query timeout, all land on
// the referral path; only malformed input is an error to the caller.
type LegalQueryUseCase struct {
	retriever Retriever
	gate      *AnswerGate
	timeout   time.Duration
	logger    *slog.Logger
}

func NewLegalQueryUseCase(retriever Retriever, gate *AnswerGate, timeout time.Duration, logger *slog.Logger) *LegalQueryUseCase {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LegalQueryUseCase{
		retriever: retriever,
		gate:      gate,
		timeout:   timeout,
		logger:    logger,
	}
}

func (uc *LegalQueryUseCase) Answer(
	ctx context.Context,
	question string,
	filter domain.SearchFilter,
	limit int,
) (domain.AnswerCandidate, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.AnswerCandidate{}, domain.WrapError(domain.ErrInvalidInput, "answer query", errors.New("empty question"))
	}
	if limit <= 0 {
		limit = 10
	}

	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	hits, err := uc.retriever.Retrieve(ctx, question, filter, limit)
	if err != nil {
		uc.logger.Warn("retrieval failed, referring",
			slog.String("error", err.Error()))
		return uc.referralFor(err), nil
	}

	candidate, err := uc.gate.Decide(ctx, question, hits)
	if err != nil {
		uc.logger.Warn("answer generation failed, referring",
			slog.String("error", err.Error()))
		return uc.referralFor(err), nil
	}
	return candidate, nil
}

func (uc *LegalQueryUseCase) referralFor(err error) domain.AnswerCandidate {
	if errors.Is(err, context.DeadlineExceeded) {
		return uc.gate.Referral(ReasonTimeout)
	}
	return uc.gate.Referral(ReasonNoRelevantSource)
}
