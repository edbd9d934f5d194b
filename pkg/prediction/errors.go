package prediction

import "fmt"

// InvalidHorizonError reports a horizon below one hour
type InvalidHorizonError struct {
	Horizon int
}

func (e *InvalidHorizonError) Error() string {
	return fmt.Sprintf("horizon must be at least 1 hour, got %d", e.Horizon)
}

// ModelFitError reports a series the model cannot be fitted to
type ModelFitError struct {
	Retailer string
	Points   int
	Reason   string
	Err      error
}

func (e *ModelFitError) Error() string {
	msg := fmt.Sprintf("model fit failed (%d points): %s", e.Points, e.Reason)
	if e.Retailer != "" {
		msg = fmt.Sprintf("model fit failed for retailer %q (%d points): %s", e.Retailer, e.Points, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelFitError) Unwrap() error {
	return e.Err
}

// ValidateHorizon returns an InvalidHorizonError for horizons below 1
func ValidateHorizon(horizon int) error {
	if horizon < 1 {
		return &InvalidHorizonError{Horizon: horizon}
	}
	return nil
}
