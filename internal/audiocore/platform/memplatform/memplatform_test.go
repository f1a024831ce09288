package memplatform

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform"
)

func TestElementAttachesOnlyOnce(t *testing.T) {
	t.Parallel()
	p := New()
	el := NewElement()

	first := p.NewContext()
	_, err := first.CreateMediaElementSource(el)
	require.NoError(t, err)

	_, err = first.CreateMediaElementSource(el)
	require.ErrorIs(t, err, platform.ErrAlreadyAttached)

	// The constraint outlives the context
	require.NoError(t, first.Close(context.Background()))
	second := p.NewContext()
	_, err = second.CreateMediaElementSource(el)
	assert.ErrorIs(t, err, platform.ErrAlreadyAttached)
	assert.True(t, p.Attached(el))
}

func TestDuplicateConnectFaults(t *testing.T) {
	t.Parallel()
	p := New()
	c := p.NewContext()
	analyser, err := c.CreateAnalyser()
	require.NoError(t, err)

	require.NoError(t, analyser.Connect(c.Destination()))
	err = analyser.Connect(c.Destination())
	assert.ErrorIs(t, err, platform.ErrAlreadyConnected)
}

func TestAudiblePath(t *testing.T) {
	t.Parallel()
	p := New()
	ctx := p.NewContext().(*Context)
	src, err := ctx.CreateMediaElementSource(NewElement())
	require.NoError(t, err)
	gain, err := ctx.CreateGain()
	require.NoError(t, err)

	assert.False(t, ctx.Audible(src))
	require.NoError(t, src.Connect(gain))
	require.NoError(t, gain.Connect(ctx.Destination()))
	assert.True(t, ctx.Audible(src))

	require.NoError(t, gain.Disconnect())
	assert.False(t, ctx.Audible(src))
}

func TestResumeHook(t *testing.T) {
	t.Parallel()
	p := New()
	calls := 0
	p.SetResumeHook(func() error {
		calls++
		if calls == 1 {
			return fmt.Errorf("not allowed to start")
		}
		return nil
	})

	c := p.NewContext()
	assert.Equal(t, platform.StateSuspended, c.State())

	err := c.Resume(context.Background())
	require.ErrorIs(t, err, platform.ErrResumeRejected)
	assert.Equal(t, platform.StateSuspended, c.State())

	require.NoError(t, c.Resume(context.Background()))
	assert.Equal(t, platform.StateRunning, c.State())
}

func TestClosedContextRejectsNodes(t *testing.T) {
	t.Parallel()
	c := New(WithInitialState(platform.StateRunning)).NewContext()
	require.NoError(t, c.Close(context.Background()))

	_, err := c.CreateAnalyser()
	require.ErrorIs(t, err, platform.ErrContextClosed)
	assert.ErrorIs(t, c.Resume(context.Background()), platform.ErrContextClosed)
}

func TestAnalyserParameterRanges(t *testing.T) {
	t.Parallel()
	c := New().NewContext()
	a, err := c.CreateAnalyser()
	require.NoError(t, err)

	require.NoError(t, a.SetFFTSize(1024))
	assert.Equal(t, 1024, a.FFTSize())
	assert.ErrorIs(t, a.SetFFTSize(1000), platform.ErrInvalidParameter)
	assert.ErrorIs(t, a.SetSmoothing(1.5), platform.ErrInvalidParameter)
}

func TestElementListenersAndReload(t *testing.T) {
	t.Parallel()
	el := NewElement()
	fired := 0
	el.AddEventListener("error", func() { fired++ })
	id := el.AddEventListener("play", func() {})
	assert.Equal(t, 2, el.ListenerCount())

	el.SetSrc("https://cdn.example.com/a.mp3")
	el.Fail(platform.MediaErrNetwork, "connection reset")
	assert.Equal(t, 1, fired)
	require.NotNil(t, el.Err())

	el.Load()
	assert.Nil(t, el.Err())
	assert.Equal(t, 1, el.Loads())

	el.RemoveEventListener(id)
	assert.Equal(t, 1, el.ListenerCount())
	el.RemoveAllListeners()
	assert.Zero(t, el.ListenerCount())
}
