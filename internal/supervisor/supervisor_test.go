package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hotlap/internal/capture"
	"hotlap/internal/config"
	"hotlap/internal/errkind"
	"hotlap/internal/muxer"
	"hotlap/internal/pipeline"
	"hotlap/internal/types"
)

// fakeCapturer produces synthetic BGRA frames with monotone timestamps.
type fakeCapturer struct {
	start  time.Time
	closed bool
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{start: time.Now()}
}

func (f *fakeCapturer) Grab() (*types.Frame, error) {
	return &types.Frame{
		Data:    make([]byte, 64*48*4),
		Width:   64,
		Height:  48,
		Stride:  64 * 4,
		PixFmt:  types.PixFmtBGRA,
		Capture: types.FromDuration(time.Since(f.start)),
	}, nil
}

func (f *fakeCapturer) Width() int  { return 64 }
func (f *fakeCapturer) Height() int { return 48 }
func (f *fakeCapturer) Close()      { f.closed = true }

// fakeEncBackend is a software encoder stand-in: every submit yields a
// small opaque unit, with optional device loss injected after a set
// number of submits.
type fakeEncBackend struct {
	mu        sync.Mutex
	submits   int
	loseAfter int // 0 = never
	results   map[int][]byte
	keys      map[int]bool
}

func newFakeEncBackend(loseAfter int) *fakeEncBackend {
	return &fakeEncBackend{
		loseAfter: loseAfter,
		results:   make(map[int][]byte),
		keys:      make(map[int]bool),
	}
}

func (f *fakeEncBackend) Submit(idx int, frame *types.ConvertedFrame, pts, duration types.HNS, forceIDR bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.loseAfter > 0 && f.submits > f.loseAfter {
		return errkind.DeviceLost
	}
	f.results[idx] = []byte{0, 0, 0, 1, byte(pts), byte(pts >> 8)}
	f.keys[idx] = forceIDR
	return nil
}

func (f *fakeEncBackend) Retrieve(idx int) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[idx], f.keys[idx], nil
}

func (f *fakeEncBackend) SequenceHeader() []byte { return []byte{0x42, 0x00, 0x1f} }
func (f *fakeEncBackend) Close()                 {}

// fakeMuxer records what the save path handed it.
type fakeMuxer struct {
	mu     sync.Mutex
	calls  int
	path   string
	video  []types.EncodedVideoUnit
	vcfg   muxer.VideoConfig
	audio  []types.EncodedAudioUnit
	failed bool
}

func (f *fakeMuxer) WriteVideo(path string, video []types.EncodedVideoUnit, cfg muxer.VideoConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.path = path
	f.video = video
	f.vcfg = cfg
	if f.failed {
		return errkind.SaveFailed
	}
	return nil
}

func (f *fakeMuxer) WriteVideoAudio(path string, video []types.EncodedVideoUnit, vcfg muxer.VideoConfig, audio []types.EncodedAudioUnit, acfg muxer.AudioConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.path = path
	f.video = video
	f.vcfg = vcfg
	f.audio = audio
	if f.failed {
		return errkind.SaveFailed
	}
	return nil
}

func (f *fakeMuxer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ReplayDurationSeconds = 5
	cfg.ReplayFPS = 30
	cfg.AudioEnabled = false
	return cfg
}

func newTestSupervisor(loseAfter int, mux *fakeMuxer) *Supervisor {
	s := New(
		func(config.Config) (capture.Adapter, error) { return newFakeCapturer(), nil },
		func(w, h, fps int, q types.Quality, gop int) (pipeline.Backend, error) {
			return newFakeEncBackend(loseAfter), nil
		},
		nil,
		mux,
	)
	s.Init()
	return s
}

func TestSupervisor_StartSaveStop(t *testing.T) {
	mux := &fakeMuxer{}
	s := newTestSupervisor(0, mux)

	require.NoError(t, s.Start(testConfig()))
	require.Equal(t, types.StateCapturing, s.State())
	require.GreaterOrEqual(t, s.Frames(), uint64(MinFramesForSave))

	require.NoError(t, s.Save("out.mp4"))
	require.Equal(t, 1, mux.callCount())
	require.Equal(t, "out.mp4", mux.path)
	require.GreaterOrEqual(t, len(mux.video), MinFramesForSave)
	require.True(t, mux.video[0].IsKey, "snapshot must start on a keyframe")
	require.NotEmpty(t, mux.vcfg.SequenceHeader)
	require.Equal(t, 64, mux.vcfg.Width)
	require.Equal(t, 30, mux.vcfg.FPS)

	require.NoError(t, s.Stop())
	require.Equal(t, types.StateUninitialized, s.State())
}

func TestSupervisor_SaveBeforeStartIsRejected(t *testing.T) {
	mux := &fakeMuxer{}
	s := newTestSupervisor(0, mux)

	err := s.Save("out.mp4")
	require.ErrorIs(t, err, errkind.SaveRejected)
	require.Zero(t, mux.callCount(), "muxer must not be invoked on a rejected save")
}

func TestSupervisor_MuxFailureDoesNotChangeState(t *testing.T) {
	mux := &fakeMuxer{failed: true}
	s := newTestSupervisor(0, mux)

	require.NoError(t, s.Start(testConfig()))
	defer s.Stop()

	err := s.Save("out.mp4")
	require.ErrorIs(t, err, errkind.SaveFailed)
	require.Equal(t, types.StateCapturing, s.State(), "a failed save leaves the buffer capturing")
}

func TestSupervisor_DeviceLossStallsAndRestartRecovers(t *testing.T) {
	mux := &fakeMuxer{}
	s := newTestSupervisor(MinFramesForSave+10, mux)

	require.NoError(t, s.Start(testConfig()))

	require.Eventually(t, func() bool {
		return s.State() == types.StateStalled
	}, 10*time.Second, 10*time.Millisecond, "device loss must stall the supervisor")

	err := s.Save("out.mp4")
	require.ErrorIs(t, err, errkind.SaveRejected)
	require.Zero(t, mux.callCount())

	require.NoError(t, s.Stop())

	// A fresh Start builds a fresh pipeline; the backendFactory hands out
	// a new fake per run, healthy again for its first MinFramesForSave+10
	// submits, so the second window reaches CAPTURING and saves only its
	// own frames.
	require.NoError(t, s.Start(testConfig()))
	require.Equal(t, types.StateCapturing, s.State())
	require.NoError(t, s.Save("out2.mp4"))
	require.Equal(t, "out2.mp4", mux.path)
	require.NoError(t, s.Stop())
}

func TestSupervisor_StatusFormat(t *testing.T) {
	mux := &fakeMuxer{}
	s := newTestSupervisor(0, mux)

	require.Contains(t, s.Status(), "Replay:")

	require.NoError(t, s.Start(testConfig()))
	defer s.Stop()
	require.Regexp(t, `^Replay: \d+s \(\d+MB\)$`, s.Status())
}

func TestSupervisor_StartWhileCapturingFails(t *testing.T) {
	mux := &fakeMuxer{}
	s := newTestSupervisor(0, mux)

	require.NoError(t, s.Start(testConfig()))
	defer s.Stop()

	require.ErrorIs(t, s.Start(testConfig()), errkind.InitFailed)
}

func TestSupervisor_SnapshotIsolatedFromLiveStore(t *testing.T) {
	mux := &fakeMuxer{}
	s := newTestSupervisor(0, mux)

	require.NoError(t, s.Start(testConfig()))
	defer s.Stop()

	require.NoError(t, s.Save("a.mp4"))
	first := len(mux.video)
	firstData := append([]byte(nil), mux.video[0].Data...)

	// Keep capturing, save again: the first snapshot must be unchanged.
	time.Sleep(500 * time.Millisecond)
	snapshotA := mux.video
	require.NoError(t, s.Save("b.mp4"))
	require.Equal(t, first, len(snapshotA))
	require.Equal(t, firstData, snapshotA[0].Data)
}
