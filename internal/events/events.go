// Package events publishes lifecycle notifications for the reporting
// layer. Publishing is best-effort: a failed publish never affects the
// distribution outcome.
package events

import (
	"context"
	"time"
)

// Subjects the daemon publishes on.
const (
	SubjectConversionCompleted   = "rewards.conversion.completed"
	SubjectDistributionCompleted = "rewards.distribution.completed"
)

// ConversionCompleted announces a resolved conversion.
type ConversionCompleted struct {
	ConversionID int64     `json:"conversion_id"`
	InputAmount  int64     `json:"input_amount"`
	OutputAmount int64     `json:"output_amount"`
	TxReference  string    `json:"tx_reference"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// DistributionCompleted announces a finished distribution run.
type DistributionCompleted struct {
	DistributionID string    `json:"distribution_id"`
	TotalAmount    int64     `json:"total_amount"`
	HolderCount    int       `json:"holder_count"`
	Successful     int       `json:"successful"`
	Failed         int       `json:"failed"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher sends JSON-encoded events to a subject.
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, data any) error
	Close() error
}

// NopPublisher discards all events; used when messaging is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishJSON(context.Context, string, any) error { return nil }
func (NopPublisher) Close() error                                   { return nil }
