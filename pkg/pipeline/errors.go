package pipeline

import (
	"context"
	"errors"
	"fmt"

	"restock-forecaster/pkg/prediction"
	"restock-forecaster/pkg/series"
)

// PanicError is recorded for a retailer whose pipeline panicked
type PanicError struct {
	Retailer string
	Value    interface{}
	Stack    []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("retailer %s: pipeline panicked: %v", e.Retailer, e.Value)
}

// Error types used as metric labels
const (
	errorTypeEmptyGroup = "empty_group"
	errorTypeSpan       = "span"
	errorTypeModelFit   = "model_fit"
	errorTypeTimeout    = "timeout"
	errorTypeCanceled   = "canceled"
	errorTypePanic      = "panic"
	errorTypeOther      = "other"
)

// classifyError maps a per-retailer error to its metric label
func classifyError(err error) string {
	var emptyErr *series.EmptyGroupError
	var spanErr *series.SpanError
	var fitErr *prediction.ModelFitError
	var panicErr *PanicError

	switch {
	case errors.As(err, &emptyErr):
		return errorTypeEmptyGroup
	case errors.As(err, &spanErr):
		return errorTypeSpan
	case errors.As(err, &fitErr) && errors.Is(err, context.DeadlineExceeded):
		return errorTypeTimeout
	case errors.As(err, &fitErr):
		return errorTypeModelFit
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorTypeCanceled
	case errors.As(err, &panicErr):
		return errorTypePanic
	default:
		return errorTypeOther
	}
}
