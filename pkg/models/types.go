package models

import (
	"fmt"
	"time"
)

// EventRecord is one row of raw restock input
type EventRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Retailer  string    `json:"retailer"`
	Count     int       `json:"count"` // restock events observed in the hour, >= 0
}

// Validate checks the record invariants required by the regularizer
func (r EventRecord) Validate() error {
	if r.Retailer == "" {
		return fmt.Errorf("retailer is empty")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is zero")
	}
	if r.Count < 0 {
		return fmt.Errorf("count must be non-negative, got %d", r.Count)
	}
	return nil
}
