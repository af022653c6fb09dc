package filtering

import (
	"context"

	"mqdiag/pkg/models"
)

// NopFilter returns every event unchanged.
type NopFilter struct{}

func (NopFilter) FilterEvent(_ context.Context, event interface{}, _ string) (models.FilterResult, error) {
	return models.FilterResult{Filtered: event}, nil
}
