// Package platform defines the audio primitives the core coordinates: a
// processing context with graph nodes and the playback elements feeding it.
//
// Implementations must enforce the constraints real audio stacks impose:
// an element can be attached to a capture node only once in its lifetime,
// duplicate connections fault, and a context may start suspended until a
// user gesture resumes it.
package platform

import (
	"context"
)

// ContextState is the lifecycle state of a processing context
type ContextState string

const (
	StateSuspended ContextState = "suspended"
	StateRunning   ContextState = "running"
	StateClosed    ContextState = "closed"
)

// Node is a vertex in the processing graph
type Node interface {
	ID() string
	// Connect adds an edge to dst. Connecting an existing edge returns
	// ErrAlreadyConnected.
	Connect(dst Node) error
	// Disconnect removes every outgoing edge
	Disconnect() error
}

// SourceNode captures the output of a media element
type SourceNode interface {
	Node
	Element() MediaElement
}

// AnalyserNode exposes frequency analysis parameters
type AnalyserNode interface {
	Node
	FFTSize() int
	SetFFTSize(size int) error
	Smoothing() float64
	SetSmoothing(value float64) error
}

// GainNode is the mix stage in front of the destination
type GainNode interface {
	Node
	Gain() float64
	SetGain(value float64)
}

// AudioContext is the singleton processing graph container
type AudioContext interface {
	ID() string
	State() ContextState
	Resume(ctx context.Context) error
	Close(ctx context.Context) error

	// CreateMediaElementSource attaches el to the graph. It fails with
	// ErrAlreadyAttached if el was ever attached before, in any context.
	CreateMediaElementSource(el MediaElement) (SourceNode, error)
	CreateAnalyser() (AnalyserNode, error)
	CreateGain() (GainNode, error)
	Destination() Node
}

// ContextFactory creates processing contexts
type ContextFactory interface {
	NewContext() AudioContext
}

// ReadyState mirrors the HTML media readiness levels
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// NetworkState mirrors the HTML media network states
type NetworkState int

const (
	NetworkEmpty NetworkState = iota
	NetworkIdle
	NetworkLoading
	NetworkNoSource
)

// MediaErrorCode classifies a media element fault
type MediaErrorCode int

const (
	MediaErrAborted         MediaErrorCode = 1
	MediaErrNetwork         MediaErrorCode = 2
	MediaErrDecode          MediaErrorCode = 3
	MediaErrSrcNotSupported MediaErrorCode = 4
)

// String returns the code name
func (c MediaErrorCode) String() string {
	switch c {
	case MediaErrAborted:
		return "aborted"
	case MediaErrNetwork:
		return "network"
	case MediaErrDecode:
		return "decode"
	case MediaErrSrcNotSupported:
		return "src_not_supported"
	default:
		return "unknown"
	}
}

// MediaError is the fault reported by a media element
type MediaError struct {
	Code    MediaErrorCode
	Message string
}

// Error implements error
func (e *MediaError) Error() string {
	if e.Message == "" {
		return "media error: " + e.Code.String()
	}
	return "media error: " + e.Code.String() + ": " + e.Message
}

// MediaElement is a playback element
type MediaElement interface {
	ID() string

	Src() string
	SetSrc(src string)
	Load()
	Play(ctx context.Context) error
	Pause()
	Paused() bool

	CurrentTime() float64
	SetCurrentTime(t float64)
	Duration() float64
	Volume() float64
	SetVolume(v float64)
	Seeking() bool

	ReadyState() ReadyState
	NetworkState() NetworkState
	Err() *MediaError

	AddEventListener(event string, fn func()) ListenerID
	RemoveEventListener(id ListenerID)
	RemoveAllListeners()
	ListenerCount() int
}

// ListenerID identifies a registered event listener
type ListenerID uint64

// ElementFactory creates playback elements
type ElementFactory interface {
	NewElement() (MediaElement, error)
}
