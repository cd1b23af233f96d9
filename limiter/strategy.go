/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FailureStrategy defines how a decision is made when the shared store is unavailable.
type FailureStrategy string

// Failure strategies.
const (
	// FailOpen admits the request (availability over enforcement).
	FailOpen FailureStrategy = "fail-open"

	// FailClosed denies the request (enforcement over availability).
	FailClosed FailureStrategy = "fail-closed"

	// LocalFallback evaluates the request against an in-process limiter.
	// Limits are then enforced per process, not globally.
	LocalFallback FailureStrategy = "local-fallback"
)

// FailureStrategies lists all supported failure strategies.
var FailureStrategies = []FailureStrategy{FailOpen, FailClosed, LocalFallback}

// ParseFailureStrategy parses a failure strategy (case-insensitive).
func ParseFailureStrategy(s string) (FailureStrategy, error) {
	for _, fs := range FailureStrategies {
		if strings.EqualFold(strings.TrimSpace(s), string(fs)) {
			return fs, nil
		}
	}
	return "", fmt.Errorf("unknown failure strategy %q, should be one of %v", s, FailureStrategies)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (fs *FailureStrategy) UnmarshalText(text []byte) error {
	parsed, err := ParseFailureStrategy(string(text))
	if err != nil {
		return err
	}
	*fs = parsed
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (fs *FailureStrategy) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return fs.UnmarshalText([]byte(text))
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (fs *FailureStrategy) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return fs.UnmarshalText([]byte(text))
}

// FallbackAlgorithm is the algorithm of the in-process limiter used by the LocalFallback strategy.
type FallbackAlgorithm string

// Fallback algorithms.
const (
	// FallbackExact keeps an exact sliding-window log in process memory (same semantics as the shared store).
	FallbackExact FallbackAlgorithm = "exact"

	// FallbackGCRA uses the generic cell rate algorithm with a bounded number of tracked keys.
	// It spreads the limit evenly over the window and doesn't support blocking.
	FallbackGCRA FallbackAlgorithm = "gcra"

	// FallbackSlidingWindow estimates the window count from the counts of the current and the previous
	// fixed windows, keeping two counters per key for a bounded number of keys. It doesn't support blocking.
	FallbackSlidingWindow FallbackAlgorithm = "sliding-window"
)

// FallbackAlgorithms lists all supported fallback algorithms.
var FallbackAlgorithms = []FallbackAlgorithm{FallbackExact, FallbackGCRA, FallbackSlidingWindow}

// ParseFallbackAlgorithm parses a fallback algorithm (case-insensitive).
func ParseFallbackAlgorithm(s string) (FallbackAlgorithm, error) {
	for _, alg := range FallbackAlgorithms {
		if strings.EqualFold(strings.TrimSpace(s), string(alg)) {
			return alg, nil
		}
	}
	return "", fmt.Errorf("unknown fallback algorithm %q, should be one of %v", s, FallbackAlgorithms)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (a *FallbackAlgorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseFallbackAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (a *FallbackAlgorithm) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return a.UnmarshalText([]byte(text))
}
