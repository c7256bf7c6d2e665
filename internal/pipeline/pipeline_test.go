package pipeline

import (
	"sync"
	"testing"
	"time"

	"hotlap/internal/errkind"
	"hotlap/internal/types"

	"github.com/stretchr/testify/require"
)

// fakeBackend is a software stand-in for a real cgo encoder, letting the
// slot/ownership machinery be tested without GPU hardware.
type fakeBackend struct {
	mu       sync.Mutex
	retrieve map[int]fakeUnit
	lost     bool
	closed   bool
	gate     chan struct{} // if non-nil, Retrieve blocks until closed
}

type fakeUnit struct {
	data  []byte
	isKey bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{retrieve: make(map[int]fakeUnit)}
}

func (f *fakeBackend) Submit(idx int, frame *types.ConvertedFrame, pts, duration types.HNS, forceIDR bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lost {
		return errkind.DeviceLost
	}
	f.retrieve[idx] = fakeUnit{data: []byte{byte(idx), byte(pts)}, isKey: forceIDR}
	return nil
}

func (f *fakeBackend) Retrieve(idx int) ([]byte, bool, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.retrieve[idx]
	return u.data, u.isKey, nil
}

func (f *fakeBackend) SequenceHeader() []byte { return []byte{0xAA} }
func (f *fakeBackend) Close()                 { f.closed = true }

func TestPipeline_SubmittedFramesAreRetrievedInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []types.EncodedVideoUnit

	p := New(newFakeBackend(), 30, func(u types.EncodedVideoUnit) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u)
	})
	defer p.Destroy()

	const n = 20
	for i := 0; i < n; i++ {
		// Submit answers BUSY rather than waiting when NumSlots frames are
		// pending, so wait for a free slot before each submit.
		require.Eventually(t, func() bool {
			return p.Pending() < NumSlots
		}, time.Second, time.Millisecond)
		res := p.Submit(&types.ConvertedFrame{}, types.HNS(i))
		require.Equal(t, SubmitOK, res)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, u := range got {
		require.Equal(t, types.HNS(i), u.PTS)
	}
}

func TestPipeline_FirstFrameIsForcedKey(t *testing.T) {
	var mu sync.Mutex
	var got []types.EncodedVideoUnit
	p := New(newFakeBackend(), 30, func(u types.EncodedVideoUnit) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u)
	})
	defer p.Destroy()

	p.Submit(&types.ConvertedFrame{}, 0)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, got[0].IsKey)
}

func TestPipeline_RingFullReturnsBusy(t *testing.T) {
	backend := newFakeBackend()
	backend.gate = make(chan struct{}) // output worker stalls on the first Retrieve

	p := New(backend, 30, func(types.EncodedVideoUnit) {})
	defer func() {
		close(backend.gate)
		p.Destroy()
	}()

	results := make([]SubmitResult, 0, NumSlots+2)
	for i := 0; i < NumSlots+2; i++ {
		results = append(results, p.Submit(&types.ConvertedFrame{}, types.HNS(i)))
	}

	busy := 0
	for _, r := range results {
		if r == SubmitBusy {
			busy++
		}
	}
	require.Greater(t, busy, 0, "ring must report BUSY once NumSlots frames are outstanding")
}

func TestPipeline_DeviceLostIsSticky(t *testing.T) {
	backend := newFakeBackend()
	backend.lost = true

	p := New(backend, 30, func(types.EncodedVideoUnit) {})
	defer p.Destroy()

	require.Equal(t, SubmitDeviceLost, p.Submit(&types.ConvertedFrame{}, 0))
	require.True(t, p.DeviceLost())
	require.Equal(t, SubmitDeviceLost, p.Submit(&types.ConvertedFrame{}, 1))
}

func TestPipeline_SequenceHeaderFromBackend(t *testing.T) {
	p := New(newFakeBackend(), 30, func(types.EncodedVideoUnit) {})
	defer p.Destroy()
	require.Equal(t, []byte{0xAA}, p.SequenceHeader())
}
