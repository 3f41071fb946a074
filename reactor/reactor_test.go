package reactor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/fake"
	"github.com/momentics/hioload-loopback/internal/logging"
	"github.com/momentics/hioload-loopback/reactor"
)

type call struct {
	fd   int
	mask api.EventMask
	name string
}

type recordingHandler struct {
	calls []call
	log   *[]string
	panic bool
}

func (h *recordingHandler) HandleEvent(fd int, mask api.EventMask, name string) bool {
	h.calls = append(h.calls, call{fd, mask, name})
	if h.log != nil {
		*h.log = append(*h.log, "event:"+name)
	}
	if h.panic {
		panic("boom")
	}
	return true
}

type tickCounter struct {
	n   int
	log *[]string
}

func (c *tickCounter) HandleTimeout() {
	c.n++
	if c.log != nil {
		*c.log = append(*c.log, "tick")
	}
}

func newReactor(p *fake.Poller, clk *fake.Clock) *reactor.Reactor {
	return reactor.New(p,
		reactor.WithTick(250*time.Millisecond),
		reactor.WithClock(clk.Now),
		reactor.WithLogger(logging.Discard()),
	)
}

func TestRegisterRejectsDuplicateFd(t *testing.T) {
	p := fake.NewPoller()
	r := newReactor(p, fake.NewClock(time.Unix(0, 0)))

	pd := api.PollDescriptor{Name: "capture", Fd: 5, Mask: api.EventReadable}
	require.NoError(t, r.Register(pd, &recordingHandler{}))
	assert.Equal(t, api.EventReadable, p.Added[5])

	err := r.Register(api.PollDescriptor{Name: "other", Fd: 5}, &recordingHandler{})
	assert.True(t, errors.Is(err, api.ErrAlreadyExists), "got %v", err)
}

func TestUnregister(t *testing.T) {
	p := fake.NewPoller()
	r := newReactor(p, fake.NewClock(time.Unix(0, 0)))
	pd := api.PollDescriptor{Name: "capture", Fd: 7, Mask: api.EventReadable}

	err := r.Unregister(pd)
	assert.True(t, errors.Is(err, api.ErrNotFound))

	require.NoError(t, r.Register(pd, &recordingHandler{}))
	require.NoError(t, r.Unregister(pd))
	assert.Equal(t, []int{7}, p.Removed)

	// fd can be reused after removal
	require.NoError(t, r.Register(pd, &recordingHandler{}))
}

func TestRegisterPropagatesPollerError(t *testing.T) {
	p := fake.NewPoller()
	p.AddErr = errors.New("bad fd")
	r := newReactor(p, fake.NewClock(time.Unix(0, 0)))

	err := r.Register(api.PollDescriptor{Name: "x", Fd: 1}, &recordingHandler{})
	require.Error(t, err)

	// failed registration leaves no entry behind
	p.AddErr = nil
	require.NoError(t, r.Register(api.PollDescriptor{Name: "x", Fd: 1}, &recordingHandler{}))
}

func TestDispatchInPollerOrder(t *testing.T) {
	p := fake.NewPoller()
	clk := fake.NewClock(time.Unix(0, 0))
	r := newReactor(p, clk)

	var order []string
	capture := &recordingHandler{log: &order}
	mixer := &recordingHandler{log: &order}
	require.NoError(t, r.Register(api.PollDescriptor{Name: "capture", Fd: 3, Mask: api.EventReadable}, capture))
	require.NoError(t, r.Register(api.PollDescriptor{Name: "capture_control", Fd: 4, Mask: api.EventReadable}, mixer))

	p.Queue(
		api.PollEvent{Fd: 4, Mask: api.EventReadable},
		api.PollEvent{Fd: 99, Mask: api.EventReadable},
		api.PollEvent{Fd: 3, Mask: api.EventReadable | api.EventError},
	)
	require.NoError(t, r.Step())

	assert.Equal(t, []string{"event:capture_control", "event:capture"}, order)
	require.Len(t, capture.calls, 1)
	assert.Equal(t, call{3, api.EventReadable | api.EventError, "capture"}, capture.calls[0])
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, p.Waits)
}

func TestTimeoutHandlersRunOncePerTick(t *testing.T) {
	p := fake.NewPoller()
	clk := fake.NewClock(time.Unix(0, 0))
	r := newReactor(p, clk)

	counter := &tickCounter{}
	r.RegisterTimeoutHandler(counter)
	r.RegisterTimeoutHandler(counter)

	// busy loop: polls return immediately, 100ms apart
	p.OnWait = func(time.Duration) { clk.Advance(100 * time.Millisecond) }
	for i := 0; i < 2; i++ {
		require.NoError(t, r.Step())
	}
	assert.Equal(t, 0, counter.n, "no tick before 250ms elapsed")

	require.NoError(t, r.Step())
	assert.Equal(t, 1, counter.n)

	for i := 0; i < 2; i++ {
		require.NoError(t, r.Step())
	}
	assert.Equal(t, 1, counter.n)
	require.NoError(t, r.Step())
	assert.Equal(t, 2, counter.n)
}

func TestTimeoutsFollowEventDispatch(t *testing.T) {
	p := fake.NewPoller()
	clk := fake.NewClock(time.Unix(0, 0))
	r := newReactor(p, clk)

	var order []string
	require.NoError(t, r.Register(api.PollDescriptor{Name: "capture", Fd: 3}, &recordingHandler{log: &order}))
	r.RegisterTimeoutHandler(&tickCounter{log: &order})

	p.OnWait = func(d time.Duration) { clk.Advance(d) }
	p.Queue(api.PollEvent{Fd: 3, Mask: api.EventReadable})
	require.NoError(t, r.Step())

	assert.Equal(t, []string{"event:capture", "tick"}, order)
}

func TestUnregisterTimeoutHandler(t *testing.T) {
	p := fake.NewPoller()
	clk := fake.NewClock(time.Unix(0, 0))
	r := newReactor(p, clk)

	counter := &tickCounter{}
	r.RegisterTimeoutHandler(counter)
	require.NoError(t, r.UnregisterTimeoutHandler(counter))
	assert.True(t, errors.Is(r.UnregisterTimeoutHandler(counter), api.ErrNotFound))

	p.OnWait = func(d time.Duration) { clk.Advance(d) }
	require.NoError(t, r.Step())
	assert.Equal(t, 0, counter.n)
}

func TestHandlerPanicDoesNotStopLoop(t *testing.T) {
	p := fake.NewPoller()
	clk := fake.NewClock(time.Unix(0, 0))
	r := newReactor(p, clk)

	bad := &recordingHandler{panic: true}
	good := &recordingHandler{}
	require.NoError(t, r.Register(api.PollDescriptor{Name: "bad", Fd: 1}, bad))
	require.NoError(t, r.Register(api.PollDescriptor{Name: "good", Fd: 2}, good))

	p.Queue(api.PollEvent{Fd: 1, Mask: api.EventReadable}, api.PollEvent{Fd: 2, Mask: api.EventReadable})
	require.NoError(t, r.Step())
	assert.Len(t, good.calls, 1)
}

func TestRunStopsOnCancelAndSurvivesPollErrors(t *testing.T) {
	p := fake.NewPoller()
	clk := fake.NewClock(time.Unix(0, 0))
	r := newReactor(p, clk)

	ctx, cancel := context.WithCancel(context.Background())
	p.WaitErr = errors.New("transient")
	p.OnWait = func(time.Duration) {
		if len(p.Waits) == 3 {
			cancel()
		}
	}

	err := r.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, p.Waits, 3)
	require.NoError(t, r.Close())
	assert.True(t, p.Closed)
}

func TestRunBacksOffOnPersistentPollError(t *testing.T) {
	p := fake.NewPoller()
	r := newReactor(p, fake.NewClock(time.Unix(0, 0)))
	p.WaitErr = errors.New("bad file descriptor")

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	// 10ms, 20ms, 40ms, 80ms: a handful of retries instead of a hot loop
	assert.LessOrEqual(t, len(p.Waits), 6)
	assert.GreaterOrEqual(t, len(p.Waits), 2)
}
