package loopback_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/fake"
	"github.com/momentics/hioload-loopback/internal/logging"
	"github.com/momentics/hioload-loopback/internal/loopback"
	"github.com/momentics/hioload-loopback/reactor"
)

const captureFd = 11

type recordingForwarder struct {
	starts, stops int
}

func (f *recordingForwarder) Start() { f.starts++ }
func (f *recordingForwarder) Stop()  { f.stops++ }

type harness struct {
	engine  *loopback.Engine
	capture *fake.Capture
	opener  *fake.Opener
	clock   *fake.Clock
	runner  *fake.Runner
	fwd     *recordingForwarder
}

func newHarness(t *testing.T, opts loopback.Options) *harness {
	t.Helper()
	h := &harness{
		capture: fake.NewCapture(captureFd),
		opener:  fake.NewOpener(444, 2, 100000),
		clock:   fake.NewClock(time.Unix(1000, 0)),
		runner:  &fake.Runner{},
		fwd:     &recordingForwarder{},
	}
	h.engine = loopback.New(h.capture, h.opener, opts,
		loopback.WithClock(h.clock.Now),
		loopback.WithRunner(h.runner),
		loopback.WithForwarder(h.fwd),
		loopback.WithLogger(logging.Discard()),
	)
	require.NoError(t, h.engine.Start())
	return h
}

// deliver pushes chunk and dispatches one readiness event for it.
func (h *harness) deliver(chunk []byte) bool {
	h.capture.Push(chunk)
	return h.engine.HandleEvent(captureFd, api.EventReadable, "capture")
}

// tone returns an audible S16LE chunk filled with a marker byte.
func tone(size int, marker byte) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = marker
	}
	return b
}

func silence(size int) []byte {
	return make([]byte, size)
}

func TestScenarioSingleChunkIsBuffered(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())

	h.deliver(tone(960, 1))

	assert.Equal(t, loopback.StatePlaying, h.engine.State())
	assert.Equal(t, 1, h.opener.Attempts)
	assert.Equal(t, 1, h.engine.Pending())
	require.NotNil(t, h.opener.Last())
	assert.Zero(t, h.opener.Last().Writes)
}

func TestScenarioTwoChunksDrainInOrder(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	a, b := tone(960, 1), tone(960, 2)

	h.deliver(a)
	h.deliver(b)

	assert.Equal(t, 0, h.engine.Pending())
	assert.Equal(t, append(append([]byte{}, a...), b...), h.opener.Written())
	assert.EqualValues(t, 1920, h.engine.Metrics().Counter(loopback.MetricBytesWritten))
}

func TestScenarioBusyGracePeriod(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	h.opener.Statuses = []api.OpenStatus{api.OpenBusy}

	h.deliver(tone(960, 1))
	assert.Equal(t, loopback.StateDeviceBusy, h.engine.State())
	assert.Equal(t, 1, h.opener.Attempts)
	assert.Equal(t, 0, h.engine.Pending(), "data is discarded while busy")

	h.clock.Advance(100 * time.Millisecond)
	h.deliver(tone(960, 2))
	assert.Equal(t, 1, h.opener.Attempts, "no retry inside the grace period")
	assert.Equal(t, loopback.StateDeviceBusy, h.engine.State())

	h.clock.Advance(500 * time.Millisecond)
	h.deliver(tone(960, 3))
	assert.Equal(t, 2, h.opener.Attempts)
	assert.Equal(t, loopback.StatePlaying, h.engine.State())
	assert.EqualValues(t, 1, h.engine.Metrics().Counter(loopback.MetricBusyFailures))
}

func TestRenewedBusyRefreshesGrace(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	h.opener.Statuses = []api.OpenStatus{api.OpenBusy, api.OpenBusy}

	h.deliver(tone(960, 1))
	h.clock.Advance(600 * time.Millisecond)
	h.deliver(tone(960, 1))
	require.Equal(t, 2, h.opener.Attempts)
	assert.Equal(t, loopback.StateDeviceBusy, h.engine.State())

	h.clock.Advance(300 * time.Millisecond)
	h.deliver(tone(960, 1))
	assert.Equal(t, 2, h.opener.Attempts)

	h.clock.Advance(200 * time.Millisecond)
	h.deliver(tone(960, 1))
	assert.Equal(t, 3, h.opener.Attempts)
	assert.Equal(t, loopback.StatePlaying, h.engine.State())
}

func TestOpenFailureAlsoWaitsForGrace(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	h.opener.Statuses = []api.OpenStatus{api.OpenFailed}

	h.deliver(tone(960, 1))
	assert.Equal(t, loopback.StateDeviceBusy, h.engine.State())
	h.deliver(tone(960, 1))
	assert.Equal(t, 1, h.opener.Attempts)
	assert.Zero(t, h.engine.Metrics().Counter(loopback.MetricBusyFailures))
}

func silenceOptions() loopback.Options {
	opts := loopback.DefaultOptions()
	opts.Rate = 48000
	opts.PeriodSize = 1920
	opts.SilenceWindow = 2 * time.Second
	return opts
}

func TestScenarioSilenceClosesOnce(t *testing.T) {
	h := newHarness(t, silenceOptions())
	require.Equal(t, 50, h.engine.SilencePeriods())

	h.deliver(tone(960, 1))
	require.Equal(t, loopback.StatePlaying, h.engine.State())

	for i := 1; i < 50; i++ {
		h.deliver(silence(960))
		require.Equal(t, loopback.StatePlaying, h.engine.State(), "silent period %d", i)
	}
	h.deliver(silence(960))
	assert.Equal(t, loopback.StateListening, h.engine.State())
	assert.True(t, h.opener.Devices[0].Closed)

	for i := 0; i < 20; i++ {
		h.deliver(silence(960))
	}
	assert.Equal(t, loopback.StateListening, h.engine.State())
	assert.Equal(t, 1, h.opener.Attempts)
	assert.EqualValues(t, 1, h.engine.Metrics().Counter(loopback.MetricSilenceCloses))
	assert.Equal(t, 1, h.fwd.stops)
}

func TestAudibleChunkResetsSilenceStreak(t *testing.T) {
	h := newHarness(t, silenceOptions())

	h.deliver(tone(960, 1))
	for i := 0; i < 49; i++ {
		h.deliver(silence(960))
	}
	h.deliver(tone(960, 1))
	for i := 0; i < 49; i++ {
		h.deliver(silence(960))
	}
	assert.Equal(t, loopback.StatePlaying, h.engine.State())
}

func TestSilenceDoesNotStartPlayback(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())

	assert.False(t, h.deliver(silence(960)))
	assert.Equal(t, loopback.StateListening, h.engine.State())
	assert.Zero(t, h.opener.Attempts)
}

func TestSilenceDetectionDisabled(t *testing.T) {
	opts := silenceOptions()
	opts.SilenceDetection = false
	h := newHarness(t, opts)

	h.deliver(silence(960))
	assert.Equal(t, loopback.StatePlaying, h.engine.State())
	for i := 0; i < 100; i++ {
		h.deliver(silence(960))
	}
	assert.Equal(t, loopback.StatePlaying, h.engine.State())
}

func TestFIFOAcrossPartialWrites(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	chunks := [][]byte{tone(960, 1), tone(960, 2), tone(960, 3), tone(960, 4)}

	h.deliver(chunks[0])
	dev := h.opener.Last()
	dev.Limits = []int{300, 100}

	h.deliver(chunks[1])
	assert.Equal(t, 2, h.engine.Pending(), "remainder requeued at the front")
	h.deliver(chunks[2])
	h.deliver(chunks[3])

	assert.Equal(t, 0, h.engine.Pending())
	assert.Equal(t, bytes.Join(chunks, nil), dev.Data())
	assert.EqualValues(t, 2, h.engine.Metrics().Counter(loopback.MetricPartialWrites))
}

func TestZeroByteWriteCountsOverrun(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	a, b, c := tone(960, 1), tone(960, 2), tone(960, 3)

	h.deliver(a)
	h.opener.Last().Limits = []int{0}
	h.deliver(b)
	assert.Equal(t, 2, h.engine.Pending())
	assert.EqualValues(t, 1, h.engine.Metrics().Counter(loopback.MetricOverruns))

	h.deliver(c)
	assert.Equal(t, bytes.Join([][]byte{a, b, c}, nil), h.opener.Written())
}

func TestDrainRespectsHeadroom(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	h.opener.Avail = 400 // below one period of 444 frames

	h.deliver(tone(960, 1))
	h.deliver(tone(960, 2))
	// with one chunk behind it the first needs more than a period free
	assert.Equal(t, 2, h.engine.Pending())

	h.opener.Last().AvailFrames = 445
	h.deliver(tone(960, 3))
	assert.Equal(t, 0, h.engine.Pending())
}

func TestHeadroomIsCappedBelowBufferSize(t *testing.T) {
	opts := loopback.DefaultOptions()
	opts.DrainThreshold = 6
	opts.PeriodCount = 4
	capture := fake.NewCapture(captureFd)
	opener := fake.NewOpener(444, 4, 1332)
	e := loopback.New(capture, opener, opts, loopback.WithLogger(logging.Discard()))
	require.NoError(t, e.Start())

	var want [][]byte
	for i := 0; i < 6; i++ {
		chunk := tone(960, byte(i+1))
		want = append(want, chunk)
		capture.Push(chunk)
		e.HandleEvent(captureFd, api.EventReadable, "capture")
	}
	// five chunks queued behind the head, but never more than
	// PeriodCount-1 periods of headroom are required
	assert.Equal(t, 6, e.Pending(), "1332 frames is exactly three periods")

	opener.Last().AvailFrames = 1333
	capture.Push(tone(960, 7))
	want = append(want, tone(960, 7))
	e.HandleEvent(captureFd, api.EventReadable, "capture")
	assert.Equal(t, 0, e.Pending())
	assert.Equal(t, bytes.Join(want, nil), opener.Written())
}

func TestXrunReopensAndKeepsUnwrittenData(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	a, b, c := tone(960, 1), tone(960, 2), tone(960, 3)

	h.deliver(a)
	first := h.opener.Last()
	first.Xruns = 1
	h.deliver(b)

	assert.True(t, first.Closed)
	assert.Equal(t, 2, h.opener.Attempts)
	assert.Equal(t, loopback.StatePlaying, h.engine.State())
	assert.Equal(t, 2, h.engine.Pending())

	h.deliver(c)
	assert.Equal(t, bytes.Join([][]byte{a, b, c}, nil), h.opener.Last().Data())
	assert.EqualValues(t, 1, h.engine.Metrics().Counter(loopback.MetricXruns))
	assert.Equal(t, 1, h.fwd.starts, "reopen does not restart the forwarder")
}

func TestXrunReopenFailureStopsPlayback(t *testing.T) {
	opts := loopback.DefaultOptions()
	opts.RunAfterStop = "post"
	h := newHarness(t, opts)

	h.deliver(tone(960, 1))
	h.opener.Last().Xruns = 1
	h.opener.Statuses = []api.OpenStatus{api.OpenFailed}
	h.deliver(tone(960, 2))

	assert.Equal(t, loopback.StateListening, h.engine.State())
	assert.Equal(t, 0, h.engine.Pending())
	assert.Equal(t, [][]string{{"post"}}, h.runner.Calls)
	assert.Equal(t, 1, h.fwd.stops)
}

func TestIdleTimeout(t *testing.T) {
	opts := loopback.DefaultOptions()
	opts.RunAfterStop = "post"
	h := newHarness(t, opts)

	h.engine.HandleTimeout()
	assert.Equal(t, loopback.StateListening, h.engine.State())

	h.deliver(tone(960, 1))
	h.clock.Advance(time.Second)
	h.engine.HandleTimeout()
	assert.Equal(t, loopback.StatePlaying, h.engine.State())

	h.clock.Advance(1500 * time.Millisecond)
	h.engine.HandleTimeout()
	assert.Equal(t, loopback.StateListening, h.engine.State())
	assert.EqualValues(t, 1, h.engine.Metrics().Counter(loopback.MetricIdleCloses))
	assert.Equal(t, [][]string{{"post"}}, h.runner.Calls)
	assert.Equal(t, 1, h.fwd.starts)
	assert.Equal(t, 1, h.fwd.stops)
}

func TestIdleTimeoutWithoutCaptureTraffic(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())

	require.Equal(t, loopback.StatePlaying, h.engine.SetState(loopback.StatePlaying))
	h.clock.Advance(1900 * time.Millisecond)
	h.engine.HandleTimeout()
	assert.Equal(t, loopback.StatePlaying, h.engine.State())

	h.clock.Advance(100 * time.Millisecond)
	h.engine.HandleTimeout()
	assert.Equal(t, loopback.StateListening, h.engine.State())
	assert.True(t, h.opener.Last().Closed)
	assert.EqualValues(t, 1, h.engine.Metrics().Counter(loopback.MetricIdleCloses))
}

func TestSetStateIsIdempotent(t *testing.T) {
	opts := loopback.DefaultOptions()
	opts.RunBeforeStart = "pre --fade-in"
	opts.RunAfterStop = "post"
	h := newHarness(t, opts)

	assert.Equal(t, loopback.StatePlaying, h.engine.SetState(loopback.StatePlaying))
	assert.Equal(t, loopback.StatePlaying, h.engine.SetState(loopback.StatePlaying))
	assert.Equal(t, 1, h.opener.Attempts)
	assert.Equal(t, [][]string{{"pre", "--fade-in"}}, h.runner.Calls)

	h.engine.SetState(loopback.StateListening)
	h.engine.SetState(loopback.StateListening)
	assert.Equal(t, [][]string{{"pre", "--fade-in"}, {"post"}}, h.runner.Calls)
	assert.Equal(t, 1, h.fwd.stops)
}

func TestDeviceBusyCannotBeRequested(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	assert.Equal(t, loopback.StateListening, h.engine.SetState(loopback.StateDeviceBusy))
	assert.Zero(t, h.opener.Attempts)
}

func TestBeforeStartRunsOncePerCycle(t *testing.T) {
	opts := loopback.DefaultOptions()
	opts.RunBeforeStart = "pre"
	opts.RunAfterStop = "post"
	h := newHarness(t, opts)
	h.opener.Statuses = []api.OpenStatus{api.OpenBusy}

	h.deliver(tone(960, 1))
	h.clock.Advance(time.Second)
	h.deliver(tone(960, 1))
	require.Equal(t, loopback.StatePlaying, h.engine.State())
	assert.Equal(t, [][]string{{"pre"}}, h.runner.Calls)
	assert.Equal(t, 1, h.fwd.starts)
}

func TestBusyToListeningRunsAfterStopWhenStarted(t *testing.T) {
	opts := loopback.DefaultOptions()
	opts.Rate = 1000
	opts.PeriodSize = 500
	opts.RunBeforeStart = "pre"
	opts.RunAfterStop = "post"
	h := newHarness(t, opts)
	require.Equal(t, 4, h.engine.SilencePeriods())
	h.opener.Statuses = []api.OpenStatus{api.OpenBusy}

	h.deliver(tone(960, 1))
	require.Equal(t, loopback.StateDeviceBusy, h.engine.State())
	for i := 0; i < 4; i++ {
		h.deliver(silence(960))
	}
	assert.Equal(t, loopback.StateListening, h.engine.State())
	assert.Equal(t, [][]string{{"pre"}, {"post"}}, h.runner.Calls)
	assert.Zero(t, h.fwd.stops, "forwarder was never started")
}

func TestHookFailuresAreNotFatal(t *testing.T) {
	opts := loopback.DefaultOptions()
	opts.RunBeforeStart = "pre"
	h := newHarness(t, opts)
	h.runner.ExitCode = 3

	h.deliver(tone(960, 1))
	assert.Equal(t, loopback.StatePlaying, h.engine.State())

	h.runner.Err = errors.New("exec: not found")
	h.engine.SetState(loopback.StateListening)
	h.deliver(tone(960, 1))
	assert.Equal(t, loopback.StatePlaying, h.engine.State())
}

func TestStartDiscardsInitialData(t *testing.T) {
	capture := fake.NewCapture(captureFd)
	capture.Push(tone(960, 1))
	e := loopback.New(capture, fake.NewOpener(444, 2, 1000), loopback.DefaultOptions(),
		loopback.WithLogger(logging.Discard()))

	require.NoError(t, e.Start())
	assert.Equal(t, 1, capture.Reads)
	assert.Equal(t, 0, e.Pending())
	assert.Equal(t, loopback.StateListening, e.State())
	assert.ErrorIs(t, e.Start(), api.ErrInvalidArgument)
}

func TestCaptureErrorDropsStream(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	h.capture.Push(tone(960, 1))

	h.engine.HandleEvent(captureFd, api.EventReadable|api.EventError, "capture")
	assert.Equal(t, 1, h.capture.Drops)
	assert.Equal(t, loopback.StatePlaying, h.engine.State())
}

func TestEmptyReadIsIgnored(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	assert.False(t, h.engine.HandleEvent(captureFd, api.EventReadable, "capture"))
	assert.Zero(t, h.opener.Attempts)
}

func TestRegisterWithReactor(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	p := fake.NewPoller()
	r := reactor.New(p, reactor.WithLogger(logging.Discard()), reactor.WithClock(h.clock.Now))

	require.NoError(t, h.engine.Register(r))
	assert.Equal(t, api.EventReadable, p.Added[captureFd])

	// dispatch through the reactor
	h.capture.Push(tone(960, 1))
	p.Queue(api.PollEvent{Fd: captureFd, Mask: api.EventReadable})
	require.NoError(t, r.Step())
	assert.Equal(t, loopback.StatePlaying, h.engine.State())
}

func TestCloseReleasesDevices(t *testing.T) {
	h := newHarness(t, loopback.DefaultOptions())
	h.deliver(tone(960, 1))

	require.NoError(t, h.engine.Close())
	assert.True(t, h.capture.Closed)
	assert.True(t, h.opener.Last().Closed)
}
