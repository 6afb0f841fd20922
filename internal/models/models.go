// Package models defines the persisted entities of the distribution
// ledger: conversion events, distribution events, and per-holder transfer
// allocations.
package models

import "time"

// DryRunReference is the sentinel transaction reference recorded when
// dry-run mode substitutes a no-op for real fund movement.
const DryRunReference = "DRY_RUN_NO_TX"

// ConversionStatus is the lifecycle state of a ConversionEvent.
type ConversionStatus string

const (
	ConversionPending ConversionStatus = "pending"
	ConversionSuccess ConversionStatus = "success"
	ConversionFailed  ConversionStatus = "failed"
)

// Valid reports whether s is a known conversion status.
func (s ConversionStatus) Valid() bool {
	switch s {
	case ConversionPending, ConversionSuccess, ConversionFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s ConversionStatus) Terminal() bool {
	return s == ConversionSuccess || s == ConversionFailed
}

// DistributionStatus is the lifecycle state of a DistributionEvent.
type DistributionStatus string

const (
	DistributionPending    DistributionStatus = "pending"
	DistributionInProgress DistributionStatus = "in_progress"
	DistributionSuccess    DistributionStatus = "success"
	DistributionFailed     DistributionStatus = "failed"
)

// Valid reports whether s is a known distribution status.
func (s DistributionStatus) Valid() bool {
	switch s {
	case DistributionPending, DistributionInProgress, DistributionSuccess, DistributionFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s DistributionStatus) Terminal() bool {
	return s == DistributionSuccess || s == DistributionFailed
}

// CanTransition reports whether moving to next is a legal lifecycle step.
// Transitions only move forward: pending -> in_progress -> terminal.
func (s DistributionStatus) CanTransition(next DistributionStatus) bool {
	switch s {
	case DistributionPending:
		return next == DistributionInProgress || next.Terminal()
	case DistributionInProgress:
		return next.Terminal()
	case DistributionSuccess, DistributionFailed:
		return false
	}
	return false
}

// AllocationStatus is the lifecycle state of a TransferAllocation.
type AllocationStatus string

const (
	AllocationPending AllocationStatus = "pending"
	AllocationSuccess AllocationStatus = "success"
	AllocationFailed  AllocationStatus = "failed"
)

// Valid reports whether s is a known allocation status.
func (s AllocationStatus) Valid() bool {
	switch s {
	case AllocationPending, AllocationSuccess, AllocationFailed:
		return true
	}
	return false
}

// ConversionEvent records one attempted swap of native funds into the
// reward asset. Rows are append-only audit records; a conversion is
// resolved to success or failed exactly once and never re-executed.
type ConversionEvent struct {
	ID           int64            `json:"id"`
	Timestamp    time.Time        `json:"timestamp"`
	InputAmount  int64            `json:"input_amount"`  // lamports
	OutputAmount int64            `json:"output_amount"` // reward smallest units, 0 until resolved
	TxReference  string           `json:"tx_reference"`
	Status       ConversionStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
}

// DistributionEvent records one attempt to pay out a total amount to a
// holder snapshot. Exactly one row exists per DistributionID.
type DistributionEvent struct {
	ID             int64              `json:"id"`
	DistributionID string             `json:"distribution_id"`
	Timestamp      time.Time          `json:"timestamp"`
	TotalAmount    int64              `json:"total_amount"` // reward smallest units
	HolderCount    int                `json:"holder_count"` // snapshot size, dust-skipped holders included
	Status         DistributionStatus `json:"status"`
	Error          string             `json:"error,omitempty"`
}

// TransferAllocation records one planned payment to one holder within a
// distribution. An allocation may be retried in place (status and
// reference overwritten on the same row) but is never duplicated.
type TransferAllocation struct {
	ID             int64            `json:"id"`
	DistributionID string           `json:"distribution_id"`
	HolderAddress  string           `json:"holder_address"`
	Amount         int64            `json:"amount"` // reward smallest units, always > 0
	TxReference    string           `json:"tx_reference,omitempty"`
	Status         AllocationStatus `json:"status"`
	Error          string           `json:"error,omitempty"`
}
