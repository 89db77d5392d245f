// Package models contains shared data models used across the MerchMate codebase.
package models

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ImageGenerator is the contract every image-generation backend implements.
// Callers depend on this interface, never on a concrete backend.
type ImageGenerator interface {
	// Generate transforms the source image according to the prompt.
	Generate(ctx context.Context, req GenerateRequest) (Image, error)
	// Name returns the backend identifier (e.g., "gemini", "proxy").
	Name() string
}

// GenerateRequest is the input to a single generation call.
type GenerateRequest struct {
	Image  Image
	Prompt string
}

// ErrorKind classifies why a generation job failed.
type ErrorKind string

const (
	ErrorKindRateLimited      ErrorKind = "rate_limited"
	ErrorKindBackendFailure   ErrorKind = "backend_failure"
	ErrorKindTransportFailure ErrorKind = "transport_failure"
)

var (
	ErrRateLimited      = errors.New("generation backend rate limited")
	ErrBackendFailure   = errors.New("generation backend returned no usable result")
	ErrTransportFailure = errors.New("generation request could not complete")
)

// GenerationError is returned by generators for every failed call.
type GenerationError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration // only meaningful for ErrorKindRateLimited
	Err        error
}

func (e *GenerationError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *GenerationError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == ErrorKindRateLimited
	case ErrBackendFailure:
		return e.Kind == ErrorKindBackendFailure
	case ErrTransportFailure:
		return e.Kind == ErrorKindTransportFailure
	}
	return false
}

func RateLimited(msg string, retryAfter time.Duration) *GenerationError {
	return &GenerationError{Kind: ErrorKindRateLimited, Message: msg, RetryAfter: retryAfter}
}

func BackendFailure(msg string) *GenerationError {
	return &GenerationError{Kind: ErrorKindBackendFailure, Message: msg}
}

func TransportFailure(err error) *GenerationError {
	return &GenerationError{Kind: ErrorKindTransportFailure, Err: err}
}

// DefaultRetryAfter is used when a rate-limited backend gives no retry delay.
const DefaultRetryAfter = 60 * time.Second

var retryDelayPattern = regexp.MustCompile(`retryDelay"\s*:\s*"(\d+)(?:\.\d+)?s`)

// IsQuotaMessage reports whether a backend diagnostic describes a quota or
// rate-limit rejection. The match is deliberately narrow: "429" or "quota".
func IsQuotaMessage(msg string) bool {
	return strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "quota")
}

// RetryAfterFromMessage extracts the retryDelay hint from a backend error
// payload, falling back to DefaultRetryAfter.
func RetryAfterFromMessage(msg string) time.Duration {
	m := retryDelayPattern.FindStringSubmatch(msg)
	if m == nil {
		return DefaultRetryAfter
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil || secs <= 0 {
		return DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
