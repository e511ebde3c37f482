// Package resolver turns the short insight IDs typed at the CLI into full IDs.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dyluth/collective/pkg/blackboard"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// maxListed bounds how many candidates FormatAmbiguousError prints.
const maxListed = 10

// Source is the slice of the blackboard client the resolver needs.
type Source interface {
	GetInsight(ctx context.Context, insightID string) (*blackboard.Insight, error)
	ScanInsights(ctx context.Context, prefix string) ([]*blackboard.Insight, error)
}

// ResolveInsightID resolves a short ID prefix to a full insight ID.
//
// A full UUID is checked for existence and returned as-is. Anything else must
// be at least MinShortIDLength characters and match exactly one stored insight.
func ResolveInsightID(ctx context.Context, src Source, shortID string) (string, error) {
	shortID = strings.ToLower(strings.TrimSpace(shortID))

	if _, err := uuid.Parse(shortID); err == nil && len(shortID) == 36 {
		if _, err := src.GetInsight(ctx, shortID); err != nil {
			if blackboard.IsNotFound(err) {
				return "", &NotFoundError{ShortID: shortID}
			}
			return "", fmt.Errorf("failed to verify insight existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := src.ScanInsights(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to search for insight: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0].ID, nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return "", &AmbiguousError{ShortID: shortID, Matches: ids}
	}
}

// NotFoundError indicates no insights matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no insights found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple insights matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d insights", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError lists the candidates, up to ten, then "...and N more".
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: ambiguous short ID '%s' matches %d insights:\n", err.ShortID, len(err.Matches))

	for i, id := range err.Matches {
		if i == maxListed {
			fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-maxListed)
			break
		}
		fmt.Fprintf(&b, "  %s\n", id)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the insight.")
	return b.String()
}

// IsNotFoundError checks if err is or wraps a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError checks if err is or wraps an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var amb *AmbiguousError
	return errors.As(err, &amb)
}
