/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"fmt"
	"strings"
	"sync"
)

// CompositeUnit starts and stops several units together.
// In ratelimitctl it runs the HTTP front next to the eviction workers.
type CompositeUnit struct {
	Units []Unit
}

var _ Unit = (*CompositeUnit)(nil)
var _ MetricsRegisterer = (*CompositeUnit)(nil)

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{units}
}

// Start starts all units concurrently and blocks until all of them return or one of them fails.
// On the first fatal error the rest are stopped non-gracefully, and a CompositeUnitError holding
// the fatal errors and the stop errors is sent to fatalError.
func (cu *CompositeUnit) Start(fatalError chan<- error) {
	failures := make(chan error, len(cu.Units))
	var wg sync.WaitGroup
	for i, u := range cu.Units {
		wg.Add(1)
		go func(i int, u Unit) {
			defer wg.Done()
			unitErr := make(chan error, 1)
			u.Start(unitErr)
			select {
			case err := <-unitErr:
				failures <- fmt.Errorf("unit #%d: %w", i, err)
			default:
			}
		}(i, u)
	}
	returned := make(chan struct{})
	go func() {
		wg.Wait()
		close(returned)
	}()

	var firstErr error
	select {
	case firstErr = <-failures:
	case <-returned:
		select {
		case firstErr = <-failures:
		default:
			return
		}
	}

	errs := []error{firstErr}
	if stopErr := cu.Stop(false); stopErr != nil {
		errs = append(errs, stopErr.(*CompositeUnitError).UnitErrors...)
	}
	for {
		select {
		case err := <-failures:
			errs = append(errs, err)
		default:
			fatalError <- &CompositeUnitError{errs}
			return
		}
	}
}

// Stop stops all units concurrently and collects their errors into a single CompositeUnitError.
// Errors keep the order of the units.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	unitErrs := make([]error, len(cu.Units))
	var wg sync.WaitGroup
	for i, u := range cu.Units {
		wg.Add(1)
		go func(i int, u Unit) {
			defer wg.Done()
			if err := u.Stop(gracefully); err != nil {
				unitErrs[i] = fmt.Errorf("unit #%d: %w", i, err)
			}
		}(i, u)
	}
	wg.Wait()

	var errs []error
	for _, err := range unitErrs {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &CompositeUnitError{errs}
	}
	return nil
}

// MustRegisterMetrics registers metrics of all units that have them.
func (cu *CompositeUnit) MustRegisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.MustRegisterMetrics()
		}
	}
}

// UnregisterMetrics unregisters metrics of all units that have them.
func (cu *CompositeUnit) UnregisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.UnregisterMetrics()
		}
	}
}

// CompositeUnitError holds errors of the units in a composition.
type CompositeUnitError struct {
	UnitErrors []error
}

func (cue *CompositeUnitError) Error() string {
	msgs := make([]string, 0, len(cue.UnitErrors))
	for _, err := range cue.UnitErrors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap returns the errors of the units so errors.Is and errors.As look through them.
func (cue *CompositeUnitError) Unwrap() []error {
	return cue.UnitErrors
}
