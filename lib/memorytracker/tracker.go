// Package memorytracker implements memory accounting and limit enforcement
// for logical scopes such as query, user session and the whole process.
//
// The package doesn't allocate or free memory itself. Allocation call sites
// report sizes to a Tracker and the Tracker decides whether the attributed
// usage fits the configured limit.
package memorytracker

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/valyala/fastrand"

	"github.com/hzjiangm/memtracker/lib/atomicutil"
	"github.com/hzjiangm/memtracker/lib/formatutil"
	"github.com/hzjiangm/memtracker/lib/logger"
)

var (
	limitExceededTotal  = metrics.NewCounter(`memtracker_limit_exceeded_total`)
	injectedFaultsTotal = metrics.NewCounter(`memtracker_injected_faults_total`)
)

// Tracker accounts memory usage attributed to a single logical scope.
//
// A single Tracker may be shared by concurrent goroutines cooperating
// on the same scope. Alloc, Free, Realloc, Get, GetPeak and Reset are
// safe for concurrent use and never block.
//
// The remaining methods configure the tracker. Call them before the tracker
// enters concurrent use.
//
// The zero Tracker is ready to use and has no limit.
type Tracker struct {
	amount atomicutil.Int64
	peak   atomicutil.Int64

	// limit is the maximum allowed amount. Zero means "no limit".
	limit int64

	// faultProbability is the probability of a synthetic Alloc failure.
	// It is used for verifying that calling code unwinds correctly
	// on allocation failures.
	faultProbability float64
	faultRand        func() float64

	// next receives every delta charged to this tracker.
	// The chain must be acyclic and every tracker in it must outlive
	// the operations of its descendants.
	next *Tracker

	metric      string
	description string
}

// New returns a Tracker with the given limit in bytes.
//
// Zero limit means "no limit".
func New(limit int64) *Tracker {
	return &Tracker{
		limit: limit,
	}
}

// Alloc attributes size bytes to mt and forwards the same delta
// to the parent tracker if it is set.
//
// size may be negative for shrinking reallocations.
//
// The delta is charged before the limit is checked, so on a returned error
// the attempted size is already reflected in Get and GetPeak. This keeps
// peak numbers accurate under repeated near-limit pressure. The caller must
// unwind with Free for the same size; Alloc doesn't roll back on failure
// at this tracker or at any ancestor.
//
// The returned error is either *LimitExceededError or *InjectedFaultError.
func (mt *Tracker) Alloc(size int64) error {
	amount := mt.amount.Add(size)
	if amount > mt.peak.Load() {
		mt.updatePeak(amount)
	}
	if p := mt.faultProbability; p > 0 && mt.drawFault() < p {
		injectedFaultsTotal.Inc()
		return &InjectedFaultError{
			Description: mt.description,
			Size:        size,
		}
	}
	if limit := mt.limit; limit != 0 && amount > limit {
		limitExceededTotal.Inc()
		return &LimitExceededError{
			Description: mt.description,
			Size:        size,
			Amount:      amount,
			Limit:       limit,
		}
	}
	if next := mt.next; next != nil {
		return next.Alloc(size)
	}
	return nil
}

// Free subtracts size bytes from mt and forwards the same delta
// to the parent tracker if it is set.
//
// Free never fails.
func (mt *Tracker) Free(size int64) {
	mt.amount.Add(-size)
	if next := mt.next; next != nil {
		next.Free(size)
	}
}

// Realloc attributes the difference between newSize and oldSize.
//
// It has the same failure semantics as Alloc.
func (mt *Tracker) Realloc(oldSize, newSize int64) error {
	return mt.Alloc(newSize - oldSize)
}

// Get returns the currently attributed amount in bytes.
func (mt *Tracker) Get() int64 {
	return mt.amount.Load()
}

// GetPeak returns the maximum amount ever attributed to mt.
//
// GetPeak is monotonically non-decreasing until Reset.
func (mt *Tracker) GetPeak() int64 {
	return mt.peak.Load()
}

func (mt *Tracker) updatePeak(amount int64) {
	for {
		peak := mt.peak.Load()
		if amount <= peak || mt.peak.CompareAndSwap(peak, amount) {
			return
		}
	}
}

func (mt *Tracker) drawFault() float64 {
	if f := mt.faultRand; f != nil {
		return f()
	}
	return float64(fastrand.Uint32()) / (1 << 32)
}

// SetLimit sets the maximum allowed amount in bytes. Zero means "no limit".
func (mt *Tracker) SetLimit(limit int64) {
	mt.limit = limit
}

// SetFaultProbability sets the probability in [0..1] of a synthetic Alloc failure.
func (mt *Tracker) SetFaultProbability(p float64) {
	if p < 0 || p > 1 {
		logger.Panicf("BUG: fault probability must be in the range [0..1]; got %g", p)
	}
	mt.faultProbability = p
}

// SetFaultRand sets the randomness source for fault injection draws.
//
// f must return values in the range [0..1). It is intended for tests,
// which need deterministic fault sequences instead of statistical sampling.
func (mt *Tracker) SetFaultRand(f func() float64) {
	mt.faultRand = f
}

// SetNext links parent as the tracker receiving every delta charged to mt.
//
// The parent is borrowed, not owned - it is routinely shared by many
// children and must outlive all of them.
func (mt *Tracker) SetNext(parent *Tracker) {
	mt.next = parent
}

// SetMetric registers a gauge with the given name, which mirrors
// the currently attributed amount.
//
// The gauge is purely observational and adds no cost to Alloc and Free.
func (mt *Tracker) SetMetric(name string) {
	mt.metric = name
	metrics.GetOrCreateGauge(name, func() float64 {
		return float64(mt.Get())
	})
}

// SetDescription sets a human-readable label used in diagnostic output,
// e.g. "for user".
func (mt *Tracker) SetDescription(description string) {
	mt.description = description
}

// Reset zeroes the attributed amount and the peak.
//
// The limit, the fault probability and the parent linkage are left intact,
// so the tracker can be reused for the next scope instance.
func (mt *Tracker) Reset() {
	mt.amount.Store(0)
	mt.peak.Store(0)
}

// LogPeakMemoryUsage writes the peak attributed amount to the log.
func (mt *Tracker) LogPeakMemoryUsage() {
	logger.Infof("peak memory usage%s: %s", mt.descriptionSuffix(), formatutil.HumanizeBytes(float64(mt.GetPeak())))
}

// MustClose unregisters the tracker metric and logs the peak attributed amount.
//
// The tracker cannot be used after MustClose. Close children before
// their parents.
func (mt *Tracker) MustClose() {
	if mt.metric != "" {
		metrics.UnregisterMetric(mt.metric)
	}
	mt.LogPeakMemoryUsage()
}

func (mt *Tracker) descriptionSuffix() string {
	if mt.description == "" {
		return ""
	}
	return " " + mt.description
}

// LimitExceededError is returned from Alloc and Realloc when the attributed
// amount exceeds the limit at the tracker or at any of its ancestors.
//
// The attempted size is already charged by the time the error is returned.
type LimitExceededError struct {
	// Description is the label of the tracker which rejected the allocation.
	Description string

	// Size is the attempted delta in bytes.
	Size int64

	// Amount is the attributed amount after charging Size.
	Amount int64

	// Limit is the configured limit of the rejecting tracker.
	Limit int64
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	desc := ""
	if e.Description != "" {
		desc = " " + e.Description
	}
	return fmt.Sprintf("memory limit%s exceeded: cannot attribute %s; attributed: %s; limit: %s",
		desc,
		formatutil.HumanizeBytes(float64(e.Size)),
		formatutil.HumanizeBytes(float64(e.Amount)),
		formatutil.HumanizeBytes(float64(e.Limit)))
}

// InjectedFaultError is returned from Alloc and Realloc when the fault
// injection draw fires. See SetFaultProbability.
//
// The attempted size is already charged by the time the error is returned,
// the same as for LimitExceededError.
type InjectedFaultError struct {
	// Description is the label of the tracker which injected the fault.
	Description string

	// Size is the attempted delta in bytes.
	Size int64
}

// Error implements the error interface.
func (e *InjectedFaultError) Error() string {
	desc := ""
	if e.Description != "" {
		desc = " " + e.Description
	}
	return fmt.Sprintf("injected memory allocation fault%s: cannot attribute %s", desc, formatutil.HumanizeBytes(float64(e.Size)))
}
