package model

import (
	"errors"
	"fmt"
	"time"
)

// Error classes. Use errors.Is to test a returned error against them.
var (
	// ErrInvalidParameter marks a bad period or threshold configuration.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidInput marks a malformed price series or point.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoData marks a provider answer with no prices in the requested
	// window. Pollers treat it as a quiet interval, not a failure.
	ErrNoData = errors.New("no data")
)

// ParameterError describes a rejected configuration value.
type ParameterError struct {
	Name   string
	Value  any
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Name, e.Value, e.Reason)
}

func (e *ParameterError) Unwrap() error { return ErrInvalidParameter }

// InputError identifies the offending point of a rejected series.
type InputError struct {
	Index  int
	TS     time.Time
	Value  float64
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input at index %d (ts=%s close=%v): %s",
		e.Index, e.TS.UTC().Format(time.RFC3339), e.Value, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }
