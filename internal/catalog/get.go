package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/collective/pkg/blackboard"
)

// Reader is the part of the blackboard client the catalog reads through.
type Reader interface {
	GetInsight(ctx context.Context, insightID string) (*blackboard.Insight, error)
	ListInsights(ctx context.Context, since, until time.Time) ([]*blackboard.Insight, error)
}

// GetInsight fetches one insight and writes it as indented JSON.
func GetInsight(ctx context.Context, r Reader, insightID string, w io.Writer) error {
	if _, err := uuid.Parse(insightID); err != nil {
		return fmt.Errorf("invalid insight ID format: must be a valid UUID")
	}

	insight, err := r.GetInsight(ctx, insightID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return &InsightNotFoundError{InsightID: insightID}
		}
		return fmt.Errorf("failed to fetch insight: %w", err)
	}

	if err := FormatSingleJSON(w, insight); err != nil {
		return fmt.Errorf("failed to format insight: %w", err)
	}
	return nil
}

// InsightNotFoundError distinguishes a missing insight from other failures.
type InsightNotFoundError struct {
	InsightID string
}

func (e *InsightNotFoundError) Error() string {
	return fmt.Sprintf("insight with ID '%s' not found", e.InsightID)
}

// IsNotFound returns true if err is or wraps an InsightNotFoundError.
func IsNotFound(err error) bool {
	var nf *InsightNotFoundError
	return errors.As(err, &nf)
}
