// Package graph owns the singleton processing context and the capture
// binding of the currently playing element.
//
// Every mutating entry point (Bind, EnsureRouted, Disconnect, Reset) runs
// under the graph lock so that the non-idempotent "create capture node" step
// can never race. Failures on the analysis path degrade to a direct
// capture-to-output connection; failures on the output path are compensated
// by the same fallback.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/lock"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/observability/metrics"
)

const componentGraph = "audiocore.graph"

// ErrNoElement is returned in a BindResult when Bind is called without an element
var ErrNoElement = errors.New(nil).
	Component(componentGraph).
	Category(errors.CategoryValidation).
	Context("reason", "no_element").
	Build()

// retiredCapture keeps a disconnected capture node so its element can be
// bound again without asking the platform for a second node
type retiredCapture struct {
	contextID string
	capture   platform.SourceNode
}

// Manager is the context manager
type Manager struct {
	factory platform.ContextFactory
	lock    *lock.Mutex
	logger  logger.Logger
	metrics *metrics.AudioCoreMetrics

	mu            sync.Mutex
	audioCtx      platform.AudioContext
	binding       *Binding
	retired       map[string]retiredCapture
	lastResumeErr error
	bindCounts    map[BindKind]int64
}

// Option configures a Manager
type Option func(*Manager)

// WithLock uses an existing graph lock
func WithLock(l *lock.Mutex) Option {
	return func(m *Manager) {
		m.lock = l
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(mt *metrics.AudioCoreMetrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a manager. No context exists until first use.
func NewManager(factory platform.ContextFactory, opts ...Option) *Manager {
	m := &Manager{
		factory:    factory,
		retired:    make(map[string]retiredCapture),
		bindCounts: make(map[BindKind]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Global().Module(componentGraph)
	}
	if m.lock == nil {
		m.lock = lock.New(lock.WithLogger(m.logger), lock.WithMetrics(m.metrics))
	}
	m.metrics.SetContextState(string(StateUninitialized), AllStates)
	return m
}

// Lock returns the graph lock
func (m *Manager) Lock() *lock.Mutex {
	return m.lock
}

// Context returns the processing context, creating it on first call
func (m *Manager) Context(_ context.Context) platform.AudioContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contextLocked()
}

func (m *Manager) contextLocked() platform.AudioContext {
	if m.audioCtx == nil {
		m.audioCtx = m.factory.NewContext()
		m.logger.Info("processing context created",
			logger.String("context_id", m.audioCtx.ID()),
			logger.String("state", string(m.audioCtx.State())))
		m.publishStateLocked()
	}
	return m.audioCtx
}

// State returns the current context state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	if m.audioCtx == nil {
		return StateUninitialized
	}
	return State(m.audioCtx.State())
}

func (m *Manager) publishStateLocked() {
	m.metrics.SetContextState(string(m.stateLocked()), AllStates)
}

// Resume starts a suspended context. A platform rejection is returned to the
// caller so it can surface the failure to the user; internal state is left
// unchanged apart from the recorded error.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.contextLocked()
	if err := m.resumeLocked(ctx, c); err != nil {
		return errors.New(err).
			Component(componentGraph).
			Category(errors.CategoryTransient).
			Context("operation", "resume").
			Context("context_id", c.ID()).
			Build()
	}
	return nil
}

func (m *Manager) resumeLocked(ctx context.Context, c platform.AudioContext) error {
	if c.State() == platform.StateRunning {
		return nil
	}
	err := c.Resume(ctx)
	m.publishStateLocked()
	if err != nil {
		m.lastResumeErr = err
		m.metrics.RecordResumeFailure()
		m.logger.Warn("context resume rejected",
			logger.String("context_id", c.ID()),
			logger.Error(err))
		return err
	}
	m.lastResumeErr = nil
	return nil
}

// ensureRunningLocked resumes the context, retrying a rejection once
func (m *Manager) ensureRunningLocked(ctx context.Context, c platform.AudioContext) error {
	err := m.resumeLocked(ctx, c)
	if err == nil || ctx.Err() != nil {
		return err
	}
	return m.resumeLocked(ctx, c)
}

// Bind attaches element to the graph and routes it through the analyser to
// the output. See BindKind for the possible outcomes; Bind never panics on
// platform faults.
func (m *Manager) Bind(ctx context.Context, element platform.MediaElement, fftSize int, smoothing float64) BindResult {
	var result BindResult
	err := m.lock.RunExclusive(ctx, "bind", func(ctx context.Context) error {
		result = m.bind(ctx, element, fftSize, smoothing)
		return nil
	})
	if err != nil {
		result = BindResult{Kind: ContextUnavailable, Err: err}
	}

	m.mu.Lock()
	m.bindCounts[result.Kind]++
	m.mu.Unlock()
	m.metrics.RecordBindResult(result.Kind.String())
	return result
}

func (m *Manager) bind(ctx context.Context, element platform.MediaElement, fftSize int, smoothing float64) BindResult {
	if element == nil {
		return BindResult{Kind: PlatformRejected, Err: ErrNoElement}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.contextLocked()
	current := m.binding

	if err := m.ensureRunningLocked(ctx, c); err != nil {
		if current != nil && current.Element.ID() != element.ID() {
			m.fallbackLocked(c, current)
			m.logger.Warn("context unavailable, re-routed existing binding without analysis",
				logger.String("binding_id", current.ID),
				logger.String("requested_element", element.ID()),
				logger.Bool("fallback_ok", current.FallbackOK))
			return BindResult{Kind: Rerouted, Binding: current, Err: err}
		}
		return BindResult{Kind: ContextUnavailable, Err: err}
	}

	if current != nil {
		if current.Element.ID() == element.ID() {
			m.configureAnalyserLocked(current, fftSize, smoothing)
			m.ensureRoutedLocked(c, current)
			return BindResult{Kind: Bound, Binding: current}
		}
		m.logger.Warn("refusing to bind a second element while another is captured",
			logger.String("bound_element", current.Element.ID()),
			logger.String("requested_element", element.ID()))
		return BindResult{Kind: AlreadyBoundElsewhere}
	}

	capture, err := m.captureLocked(c, element)
	if err != nil {
		m.logger.Error("platform rejected capture attachment",
			logger.String("element_id", element.ID()),
			logger.Error(err))
		return BindResult{Kind: PlatformRejected, Err: err}
	}

	b := &Binding{
		ID:        uuid.NewString(),
		Element:   element,
		Capture:   capture,
		CreatedAt: time.Now(),
	}
	m.wireLocked(c, b)
	m.configureAnalyserLocked(b, fftSize, smoothing)
	m.binding = b

	if c.State() != platform.StateRunning {
		if err := m.resumeLocked(ctx, c); err != nil {
			m.logger.Warn("context not running after bind",
				logger.String("binding_id", b.ID),
				logger.Error(err))
		}
	}

	m.logger.Info("capture binding created",
		logger.String("binding_id", b.ID),
		logger.String("element_id", element.ID()),
		logger.Int("fft_size", b.FFTSize),
		logger.Bool("analysis_bypassed", b.AnalysisBypassed))
	return BindResult{Kind: Bound, Binding: b}
}

// captureLocked returns the capture node for element, reusing a node retired
// by Disconnect in the same context
func (m *Manager) captureLocked(c platform.AudioContext, element platform.MediaElement) (platform.SourceNode, error) {
	if r, ok := m.retired[element.ID()]; ok && r.contextID == c.ID() {
		delete(m.retired, element.ID())
		return r.capture, nil
	}
	return c.CreateMediaElementSource(element)
}

// wireLocked builds capture -> analyser -> mix -> destination, falling back
// to a direct capture -> output edge when the analysis path cannot be built
func (m *Manager) wireLocked(c platform.AudioContext, b *Binding) {
	if mix, err := c.CreateGain(); err != nil {
		m.logger.Warn("mix stage unavailable, routing to destination", logger.Error(err))
	} else if err := connect(mix, c.Destination()); err != nil {
		m.logger.Warn("mix stage could not reach destination", logger.Error(err))
	} else {
		b.Mix = mix
	}

	analyser, err := c.CreateAnalyser()
	if err != nil {
		m.logger.Warn("analyser unavailable", logger.Error(err))
		m.fallbackLocked(c, b)
		return
	}
	b.Analyser = analyser

	if err := connect(b.Capture, analyser); err != nil {
		m.logger.Warn("capture to analyser connection failed", logger.Error(err))
		m.fallbackLocked(c, b)
		return
	}
	if err := connect(analyser, outputOf(c, b)); err != nil {
		m.logger.Warn("analyser to output connection failed", logger.Error(err))
		m.fallbackLocked(c, b)
	}
}

// fallbackLocked connects capture straight to the output, sacrificing
// analysis to keep audio audible
func (m *Manager) fallbackLocked(c platform.AudioContext, b *Binding) {
	b.AnalysisBypassed = true
	b.FallbackUsed = true

	err := connect(b.Capture, outputOf(c, b))
	if err != nil && b.Mix != nil {
		err = connect(b.Capture, c.Destination())
	}
	b.FallbackOK = err == nil
	m.metrics.RecordRoutingFallback(b.FallbackOK)

	if err != nil {
		m.logger.Error("direct connection fallback failed, element may be silent",
			logger.String("binding_id", b.ID),
			logger.Error(err))
		return
	}
	m.logger.Info("direct connection fallback active", logger.String("binding_id", b.ID))
}

func (m *Manager) configureAnalyserLocked(b *Binding, fftSize int, smoothing float64) {
	if b.Analyser == nil {
		b.FFTSize, b.Smoothing = fftSize, smoothing
		return
	}
	if fftSize > 0 {
		if err := b.Analyser.SetFFTSize(fftSize); err != nil {
			m.logger.Warn("keeping previous fft size", logger.Int("requested", fftSize), logger.Error(err))
		}
	}
	if err := b.Analyser.SetSmoothing(smoothing); err != nil {
		m.logger.Warn("keeping previous smoothing", logger.Float64("requested", smoothing), logger.Error(err))
	}
	b.FFTSize = b.Analyser.FFTSize()
	b.Smoothing = b.Analyser.Smoothing()
}

// EnsureRouted re-asserts the connections of the current binding. Edges that
// already exist are left alone; any other fault switches to the direct
// fallback. Only a lock timeout is returned.
func (m *Manager) EnsureRouted(ctx context.Context) error {
	return m.lock.RunExclusive(ctx, "ensure_routed", func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.binding == nil || m.audioCtx == nil {
			return nil
		}
		m.ensureRoutedLocked(m.audioCtx, m.binding)
		return nil
	})
}

func (m *Manager) ensureRoutedLocked(c platform.AudioContext, b *Binding) {
	if b.Mix != nil {
		if err := connect(b.Mix, c.Destination()); err != nil {
			m.logger.Warn("mix stage lost its destination", logger.Error(err))
			b.Mix = nil
		}
	}

	if b.AnalysisBypassed || b.Analyser == nil {
		if err := connect(b.Capture, outputOf(c, b)); err != nil {
			m.fallbackLocked(c, b)
		}
		return
	}

	if err := connect(b.Capture, b.Analyser); err != nil {
		m.fallbackLocked(c, b)
		return
	}
	if err := connect(b.Analyser, outputOf(c, b)); err != nil {
		m.fallbackLocked(c, b)
	}
}

// Disconnect tears down the current binding. The capture node is kept so the
// same element can be bound again in this context.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.lock.RunExclusive(ctx, "disconnect", func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.disconnectLocked()
		return nil
	})
}

func (m *Manager) disconnectLocked() {
	b := m.binding
	if b == nil {
		return
	}
	for _, n := range []platform.Node{b.Capture, b.Analyser, b.Mix} {
		if n == nil {
			continue
		}
		if err := n.Disconnect(); err != nil {
			m.logger.Debug("node disconnect failed", logger.String("node", n.ID()), logger.Error(err))
		}
	}
	if m.audioCtx != nil {
		m.retired[b.Element.ID()] = retiredCapture{contextID: m.audioCtx.ID(), capture: b.Capture}
	}
	m.binding = nil
	m.logger.Info("capture binding disconnected", logger.String("binding_id", b.ID))
}

// Reset disconnects everything and closes the context. The next call to
// Context creates a new one. Elements captured in the old context cannot be
// bound again.
func (m *Manager) Reset(ctx context.Context) error {
	return m.lock.RunExclusive(ctx, "reset", func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		m.disconnectLocked()
		clear(m.retired)
		m.lastResumeErr = nil

		if m.audioCtx == nil {
			return nil
		}
		old := m.audioCtx
		m.audioCtx = nil
		m.publishStateLocked()

		if err := old.Close(ctx); err != nil {
			m.logger.Warn("closing context failed", logger.String("context_id", old.ID()), logger.Error(err))
			return errors.New(err).
				Component(componentGraph).
				Category(errors.CategoryPlatform).
				Context("operation", "reset").
				Build()
		}
		m.logger.Info("processing context reset", logger.String("context_id", old.ID()))
		return nil
	})
}

// Current returns the current binding or nil
func (m *Manager) Current() *Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binding
}

type audibleChecker interface {
	Audible(src platform.Node) bool
}

// Diagnostics returns a snapshot of the context, binding and lock
func (m *Manager) Diagnostics() Diagnostics {
	m.mu.Lock()
	d := Diagnostics{
		State:           m.stateLocked(),
		BindCounts:      make(map[string]int64, len(m.bindCounts)),
		RetiredCaptures: len(m.retired),
	}
	if m.audioCtx != nil {
		d.ContextID = m.audioCtx.ID()
	}
	if m.lastResumeErr != nil {
		d.LastResumeError = m.lastResumeErr.Error()
	}
	for k, v := range m.bindCounts {
		d.BindCounts[k.String()] = v
	}
	if b := m.binding; b != nil {
		d.Bound = true
		d.BindingID = b.ID
		d.ElementID = b.Element.ID()
		d.FFTSize = b.FFTSize
		d.Smoothing = b.Smoothing
		d.AnalysisBypassed = b.AnalysisBypassed
		d.FallbackUsed = b.FallbackUsed
		d.FallbackOK = b.FallbackOK
		if checker, ok := m.audioCtx.(audibleChecker); ok {
			audible := checker.Audible(b.Capture)
			d.Audible = &audible
		}
	}
	m.mu.Unlock()

	d.LockHeld = m.lock.Locked()
	d.LockHolder = m.lock.Holder()
	d.LockQueue = m.lock.QueueLen()
	return d
}

// outputOf returns the node audio should reach: the mix stage when present
func outputOf(c platform.AudioContext, b *Binding) platform.Node {
	if b.Mix != nil {
		return b.Mix
	}
	return c.Destination()
}

// connect adds an edge, treating an existing edge as success and retrying a
// transient rejection once
func connect(src, dst platform.Node) error {
	err := src.Connect(dst)
	if err == nil || errors.Is(err, platform.ErrAlreadyConnected) {
		return nil
	}
	if errors.Is(err, platform.ErrContextClosed) {
		return err
	}
	if retryErr := src.Connect(dst); retryErr == nil || errors.Is(retryErr, platform.ErrAlreadyConnected) {
		return nil
	}
	return fmt.Errorf("connect %s -> %s: %w", src.ID(), dst.ID(), err)
}
