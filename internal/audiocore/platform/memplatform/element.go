package memplatform

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform"
)

// Element is an in-memory media element. Setters used by tests bypass the
// range checks a real element applies so faulty states can be simulated.
type Element struct {
	id string

	mu           sync.Mutex
	src          string
	paused       bool
	currentTime  float64
	duration     float64
	volume       float64
	seeking      bool
	readyState   platform.ReadyState
	networkState platform.NetworkState
	mediaErr     *platform.MediaError
	loads        int
	playErr      error

	nextListener platform.ListenerID
	listeners    map[platform.ListenerID]listener
}

type listener struct {
	event string
	fn    func()
}

// NewElement creates a paused element with no source
func NewElement() *Element {
	return &Element{
		id:        uuid.NewString(),
		paused:    true,
		duration:  math.NaN(),
		volume:    1,
		listeners: make(map[platform.ListenerID]listener),
	}
}

func (e *Element) ID() string { return e.id }

func (e *Element) Src() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

// SetSrc assigns a source and resets playback state. An empty source
// empties the element.
func (e *Element) SetSrc(src string) {
	e.mu.Lock()
	e.src = src
	e.currentTime = 0
	e.mediaErr = nil
	if src == "" {
		e.readyState = platform.HaveNothing
		e.networkState = platform.NetworkEmpty
		e.duration = math.NaN()
	} else {
		e.readyState = platform.HaveEnoughData
		e.networkState = platform.NetworkIdle
	}
	e.mu.Unlock()
	e.emit("emptied")
}

// Load restarts resource selection. A network fault clears on reload.
func (e *Element) Load() {
	e.mu.Lock()
	e.loads++
	if e.mediaErr != nil && e.mediaErr.Code == platform.MediaErrNetwork {
		e.mediaErr = nil
	}
	if e.src != "" {
		e.networkState = platform.NetworkIdle
		e.readyState = platform.HaveEnoughData
	}
	e.mu.Unlock()
	e.emit("loadstart")
}

// Loads returns how many times Load was called
func (e *Element) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

func (e *Element) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.playErr != nil {
		err := e.playErr
		e.mu.Unlock()
		return err
	}
	e.paused = false
	e.mu.Unlock()
	e.emit("play")
	return nil
}

func (e *Element) Pause() {
	e.mu.Lock()
	wasPlaying := !e.paused
	e.paused = true
	e.mu.Unlock()
	if wasPlaying {
		e.emit("pause")
	}
}

func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Element) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTime
}

func (e *Element) SetCurrentTime(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentTime = t
}

func (e *Element) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// SetDuration sets the media duration
func (e *Element) SetDuration(d float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.duration = d
}

func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Element) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

func (e *Element) Seeking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seeking
}

// SetSeeking simulates a seek in progress
func (e *Element) SetSeeking(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeking = v
}

func (e *Element) ReadyState() platform.ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyState
}

// SetReadyState overrides the readiness level
func (e *Element) SetReadyState(s platform.ReadyState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readyState = s
}

func (e *Element) NetworkState() platform.NetworkState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.networkState
}

// SetNetworkState overrides the network state
func (e *Element) SetNetworkState(s platform.NetworkState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.networkState = s
}

func (e *Element) Err() *platform.MediaError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mediaErr
}

// Fail puts the element in an error state
func (e *Element) Fail(code platform.MediaErrorCode, message string) {
	e.mu.Lock()
	e.mediaErr = &platform.MediaError{Code: code, Message: message}
	e.mu.Unlock()
	e.emit("error")
}

// FailPlay makes Play return err until reset with nil
func (e *Element) FailPlay(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playErr = err
}

func (e *Element) AddEventListener(event string, fn func()) platform.ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextListener++
	e.listeners[e.nextListener] = listener{event: event, fn: fn}
	return e.nextListener
}

func (e *Element) RemoveEventListener(id platform.ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, id)
}

func (e *Element) RemoveAllListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.listeners)
}

func (e *Element) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Emit dispatches event to registered listeners
func (e *Element) Emit(event string) {
	e.emit(event)
}

func (e *Element) emit(event string) {
	e.mu.Lock()
	var fns []func()
	for _, l := range e.listeners {
		if l.event == event {
			fns = append(fns, l.fn)
		}
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

var _ platform.MediaElement = (*Element)(nil)
