package graph

import (
	"time"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform"
)

// State is the lifecycle state of the managed processing context
type State string

const (
	StateUninitialized State = "uninitialized"
	StateSuspended     State = "suspended"
	StateRunning       State = "running"
	StateClosed        State = "closed"
)

// AllStates lists every state, used for metrics
var AllStates = []string{
	string(StateUninitialized), string(StateSuspended), string(StateRunning), string(StateClosed),
}

// Binding is the capture attachment of one media element. Its fields are
// mutated only while the graph lock is held; use Manager.Diagnostics for
// concurrent reads.
type Binding struct {
	ID       string
	Element  platform.MediaElement
	Capture  platform.SourceNode
	Analyser platform.AnalyserNode // nil when analysis could not be created
	Mix      platform.GainNode     // nil when the mix stage could not be created

	FFTSize   int
	Smoothing float64

	// AnalysisBypassed is set once capture feeds the output directly
	AnalysisBypassed bool
	// FallbackUsed records that the direct connection was attempted,
	// FallbackOK whether it succeeded
	FallbackUsed bool
	FallbackOK   bool

	CreatedAt time.Time
}

// BindKind tags the outcome of Bind
type BindKind int

const (
	// Bound: the element is captured and routed (new or idempotent re-entry)
	Bound BindKind = iota
	// Rerouted: the context could not resume, the existing binding of another
	// element was re-routed straight to the output and returned
	Rerouted
	// AlreadyBoundElsewhere: another element holds the capture binding
	AlreadyBoundElsewhere
	// PlatformRejected: the platform refused to attach the element
	PlatformRejected
	// ContextUnavailable: the context could not be resumed or locked
	ContextUnavailable
)

// String returns the metric label of the kind
func (k BindKind) String() string {
	switch k {
	case Bound:
		return "bound"
	case Rerouted:
		return "rerouted"
	case AlreadyBoundElsewhere:
		return "already_bound_elsewhere"
	case PlatformRejected:
		return "platform_rejected"
	case ContextUnavailable:
		return "context_unavailable"
	default:
		return "unknown"
	}
}

// BindResult is the tagged result of Bind. Binding is non-nil only for
// Bound and Rerouted.
type BindResult struct {
	Kind    BindKind
	Binding *Binding
	Err     error
}

// OK reports whether a usable binding was returned
func (r BindResult) OK() bool {
	return r.Binding != nil
}

// Diagnostics is a point-in-time view of the manager
type Diagnostics struct {
	State     State  `json:"state"`
	ContextID string `json:"context_id,omitempty"`

	Bound            bool    `json:"bound"`
	BindingID        string  `json:"binding_id,omitempty"`
	ElementID        string  `json:"element_id,omitempty"`
	FFTSize          int     `json:"fft_size,omitempty"`
	Smoothing        float64 `json:"smoothing,omitempty"`
	AnalysisBypassed bool    `json:"analysis_bypassed"`
	FallbackUsed     bool    `json:"fallback_used"`
	FallbackOK       bool    `json:"fallback_ok"`
	Audible          *bool   `json:"audible,omitempty"`

	LastResumeError string           `json:"last_resume_error,omitempty"`
	BindCounts      map[string]int64 `json:"bind_counts"`
	RetiredCaptures int              `json:"retired_captures"`

	LockHeld   bool   `json:"lock_held"`
	LockHolder string `json:"lock_holder,omitempty"`
	LockQueue  int    `json:"lock_queue"`
}
