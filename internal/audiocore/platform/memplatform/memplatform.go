// Package memplatform is a headless, in-memory implementation of the audio
// platform. It keeps the graph as an adjacency set and enforces the same
// attachment and connection faults a browser audio stack raises, with hooks
// for injecting resume and connect failures.
package memplatform

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform"
)

// ConnectHook may veto an edge before it is added
type ConnectHook func(src, dst platform.Node) error

// ResumeHook may veto a resume
type ResumeHook func() error

// Platform creates contexts and elements sharing one attachment registry
type Platform struct {
	mu           sync.Mutex
	attached     map[string]string // element id -> context id
	initialState platform.ContextState
	connectHook  ConnectHook
	resumeHook   ResumeHook
	contexts     []*Context
	elementFail  error
}

// Option configures a Platform
type Option func(*Platform)

// WithInitialState sets the state of newly created contexts
func WithInitialState(state platform.ContextState) Option {
	return func(p *Platform) {
		p.initialState = state
	}
}

// New creates a Platform. Contexts start suspended, as under autoplay policy.
func New(opts ...Option) *Platform {
	p := &Platform{
		attached:     make(map[string]string),
		initialState: platform.StateSuspended,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetConnectHook installs a hook consulted on every Connect
func (p *Platform) SetConnectHook(hook ConnectHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectHook = hook
}

// SetResumeHook installs a hook consulted on every Resume
func (p *Platform) SetResumeHook(hook ResumeHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumeHook = hook
}

// FailElementCreation makes NewElement return err until reset with nil
func (p *Platform) FailElementCreation(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elementFail = err
}

// Attached reports whether el was ever attached to a capture node
func (p *Platform) Attached(el platform.MediaElement) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.attached[el.ID()]
	return ok
}

// Contexts returns every context created so far
func (p *Platform) Contexts() []*Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Context, len(p.contexts))
	copy(out, p.contexts)
	return out
}

// NewContext implements platform.ContextFactory
func (p *Platform) NewContext() platform.AudioContext {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := &Context{
		id:       uuid.NewString(),
		platform: p,
		state:    p.initialState,
		edges:    make(map[string]map[string]platform.Node),
	}
	c.destination = &node{id: "destination-" + c.id[:8], ctx: c, kind: "destination"}
	p.contexts = append(p.contexts, c)
	return c
}

// NewElement implements platform.ElementFactory
func (p *Platform) NewElement() (platform.MediaElement, error) {
	p.mu.Lock()
	fail := p.elementFail
	p.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return NewElement(), nil
}

func (p *Platform) hooks() (ConnectHook, ResumeHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectHook, p.resumeHook
}

func (p *Platform) attach(el platform.MediaElement, contextID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if owner, ok := p.attached[el.ID()]; ok {
		return platform.Fault(platform.ErrAlreadyAttached,
			fmt.Errorf("element %s already attached to context %s", el.ID(), owner))
	}
	p.attached[el.ID()] = contextID
	return nil
}

// Context is an in-memory processing context
type Context struct {
	id          string
	platform    *Platform
	destination *node

	mu      sync.Mutex
	state   platform.ContextState
	edges   map[string]map[string]platform.Node // src id -> dst id -> dst
	resumes int
}

// ID implements platform.AudioContext
func (c *Context) ID() string { return c.id }

// State implements platform.AudioContext
func (c *Context) State() platform.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Suspend moves a running context back to suspended, as when the host
// interrupts audio
func (c *Context) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == platform.StateRunning {
		c.state = platform.StateSuspended
	}
}

// ResumeCalls returns how many times Resume was invoked
func (c *Context) ResumeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumes
}

// Resume implements platform.AudioContext
func (c *Context) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, resumeHook := c.platform.hooks()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumes++

	switch c.state {
	case platform.StateClosed:
		return platform.Fault(platform.ErrContextClosed, fmt.Errorf("cannot resume closed context"))
	case platform.StateRunning:
		return nil
	}
	if resumeHook != nil {
		if err := resumeHook(); err != nil {
			return platform.Fault(platform.ErrResumeRejected, err)
		}
	}
	c.state = platform.StateRunning
	return nil
}

// Close implements platform.AudioContext
func (c *Context) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = platform.StateClosed
	clear(c.edges)
	return nil
}

// CreateMediaElementSource implements platform.AudioContext
func (c *Context) CreateMediaElementSource(el platform.MediaElement) (platform.SourceNode, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := c.platform.attach(el, c.id); err != nil {
		return nil, err
	}
	return &sourceNode{node: node{id: "source-" + uuid.NewString()[:8], ctx: c, kind: "source"}, element: el}, nil
}

// CreateAnalyser implements platform.AudioContext
func (c *Context) CreateAnalyser() (platform.AnalyserNode, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &analyserNode{
		node:      node{id: "analyser-" + uuid.NewString()[:8], ctx: c, kind: "analyser"},
		fftSize:   2048,
		smoothing: 0.8,
	}, nil
}

// CreateGain implements platform.AudioContext
func (c *Context) CreateGain() (platform.GainNode, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return &gainNode{node: node{id: "gain-" + uuid.NewString()[:8], ctx: c, kind: "gain"}, gain: 1}, nil
}

// Destination implements platform.AudioContext
func (c *Context) Destination() platform.Node { return c.destination }

// Connected reports whether the edge src -> dst exists
func (c *Context) Connected(src, dst platform.Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.edges[src.ID()][dst.ID()]
	return ok
}

// Audible reports whether a path leads from src to the destination
func (c *Context) Audible(src platform.Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := map[string]bool{src.ID(): true}
	queue := []string{src.ID()}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == c.destination.id {
			return true
		}
		for id := range c.edges[cur] {
			if !seen[id] {
				seen[id] = true
				queue = append(queue, id)
			}
		}
	}
	return false
}

func (c *Context) checkOpen() error {
	if c.State() == platform.StateClosed {
		return platform.Fault(platform.ErrContextClosed, fmt.Errorf("context %s is closed", c.id))
	}
	return nil
}

func (c *Context) connect(src, dst platform.Node) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if hook, _ := c.platform.hooks(); hook != nil {
		if err := hook(src, dst); err != nil {
			return platform.Fault(platform.ErrConnectFailed, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.edges[src.ID()]
	if !ok {
		out = make(map[string]platform.Node)
		c.edges[src.ID()] = out
	}
	if _, exists := out[dst.ID()]; exists {
		return platform.Fault(platform.ErrAlreadyConnected,
			fmt.Errorf("%s is already connected to %s", src.ID(), dst.ID()))
	}
	out[dst.ID()] = dst
	return nil
}

func (c *Context) disconnect(src platform.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.edges, src.ID())
}

type node struct {
	id   string
	ctx  *Context
	kind string
}

func (n *node) ID() string { return n.id }

func (n *node) Connect(dst platform.Node) error {
	if dst == nil {
		return platform.Fault(platform.ErrConnectFailed, fmt.Errorf("%s: nil destination", n.id))
	}
	return n.ctx.connect(n, dst)
}

func (n *node) Disconnect() error {
	n.ctx.disconnect(n)
	return nil
}

type sourceNode struct {
	node
	element platform.MediaElement
}

func (s *sourceNode) Element() platform.MediaElement { return s.element }

type analyserNode struct {
	node
	mu        sync.Mutex
	fftSize   int
	smoothing float64
}

func (a *analyserNode) FFTSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fftSize
}

// SetFFTSize accepts powers of two between 32 and 32768
func (a *analyserNode) SetFFTSize(size int) error {
	if size < 32 || size > 32768 || size&(size-1) != 0 {
		return platform.Fault(platform.ErrInvalidParameter, fmt.Errorf("invalid fft size %d", size))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fftSize = size
	return nil
}

func (a *analyserNode) Smoothing() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.smoothing
}

func (a *analyserNode) SetSmoothing(value float64) error {
	if value < 0 || value > 1 {
		return platform.Fault(platform.ErrInvalidParameter, fmt.Errorf("invalid smoothing %v", value))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.smoothing = value
	return nil
}

type gainNode struct {
	node
	mu   sync.Mutex
	gain float64
}

func (g *gainNode) Gain() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gain
}

func (g *gainNode) SetGain(value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gain = value
}
