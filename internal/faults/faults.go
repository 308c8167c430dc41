// Package faults implements the deterministic fault-injection registry used
// to exercise negative paths against a peer implementation. It is the Go
// rendering of the redesigned §4.3 contract; the original's
// dfu_logic/dfu_fail_mgr.py only supported a single always/never bool per
// validation point, so this is grounded on spec.md itself rather than a
// direct port, following spec.md §9's "explicit registry keyed by an enum of
// injection points, with FaultSpec values owned by the registry" guidance.
package faults

import (
	"log/slog"
	"time"
)

// Point identifies a well-known injection point, in protocol order.
type Point int

const (
	OnPreValidation Point = iota
	AfterPreValidation
	OnPageCreateRequest
	OnPageStoreRequest
	OnPostValidation
)

func (p Point) String() string {
	switch p {
	case OnPreValidation:
		return "on_pre_validation"
	case AfterPreValidation:
		return "after_pre_validation"
	case OnPageCreateRequest:
		return "on_page_create_request"
	case OnPageStoreRequest:
		return "on_page_store_request"
	case OnPostValidation:
		return "on_post_validation"
	default:
		return "unknown"
	}
}

// Kind distinguishes the two fault behaviours §4.3 defines.
type Kind int

const (
	NoResponse Kind = iota
	FaultWithStatus
)

// AlwaysCallNumber marks a FaultSpec that matches every consult and is never
// consumed.
const AlwaysCallNumber = -1

// Spec is an immutable fault value registered at one injection point.
type Spec struct {
	Kind       Kind
	CallNumber int // a positive ordinal, or AlwaysCallNumber
	Status     uint8
	Callback   func()
	Delay      time.Duration
}

// Result is what a consult returns: Fired is false when nothing matched.
type Result struct {
	Fired bool
	Spec  Spec
}

// point holds one injection point's ordered fault list and its shared
// call counter, starting at 1.
type point struct {
	specs       []Spec
	callCounter int
}

// Registry is the per-injection-point ordered list of FaultSpecs.
type Registry struct {
	points map[Point]*point
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{points: make(map[Point]*point), logger: logger}
}

// Register adds spec to p's ordered list.
func (r *Registry) Register(p Point, spec Spec) {
	pt := r.pointFor(p)
	pt.specs = append(pt.specs, spec)
}

func (r *Registry) pointFor(p Point) *point {
	pt, ok := r.points[p]
	if !ok {
		pt = &point{callCounter: 1}
		r.points[p] = pt
	}
	return pt
}

// Consult snapshots p's call counter, increments it, and evaluates the
// ordered fault list per §4.3's algorithm: an "always" spec fires on every
// consult without being consumed; a spec whose call number matches the
// snapshot fires once and is removed. The caller must apply a Fired result
// (suppress the response for NoResponse, or reply with Status for
// FaultWithStatus) and abort the local action that would otherwise run.
func (r *Registry) Consult(p Point) Result {
	pt := r.pointFor(p)
	callNumber := pt.callCounter
	pt.callCounter++

	for i, spec := range pt.specs {
		switch {
		case spec.CallNumber == AlwaysCallNumber:
			fire(spec)
			r.logger.Debug("faults: always-spec fired", "point", p.String(), "call", callNumber)
			return Result{Fired: true, Spec: spec}
		case spec.CallNumber == callNumber:
			pt.specs = append(pt.specs[:i], pt.specs[i+1:]...)
			fire(spec)
			r.logger.Debug("faults: spec fired and consumed", "point", p.String(), "call", callNumber)
			return Result{Fired: true, Spec: spec}
		}
	}

	return Result{}
}

func fire(spec Spec) {
	if spec.Delay > 0 {
		time.Sleep(spec.Delay)
	}
	if spec.Callback != nil {
		spec.Callback()
	}
}
