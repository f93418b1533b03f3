package render

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/core1_0"
	"golang.org/x/exp/slog"
)

// The stubs model only the properties the frame loop depends on:
// fences signal the instant their submission is recorded, and binary
// semaphores track a single pending signal so reuse violations are
// detectable.

type stubSemaphore struct {
	core1_0.Semaphore
	id int
}

type stubFence struct {
	core1_0.Fence
	signaled bool
}

type acquireResult struct {
	image  int
	status surfaceStatus
}

type stubBackend struct {
	t      *testing.T
	images int

	acquires   []acquireResult
	acquireIdx int

	presentStatuses []surfaceStatus

	nextSemID int
	signaled  map[int]bool

	uniformSlots []int
	computeSlots []int
	drawSlots    []int
	drawImages   []int
	presents     []int
	recreates    int
	waitIdles    int
}

func newStubBackend(t *testing.T, images int) *stubBackend {
	return &stubBackend{t: t, images: images, signaled: map[int]bool{}}
}

func (s *stubBackend) imageCount() int { return s.images }

func (s *stubBackend) waitFence(fence core1_0.Fence) error {
	f := fence.(*stubFence)
	if !f.signaled {
		return errors.New("wait on a fence no submission will signal")
	}
	return nil
}

func (s *stubBackend) resetFence(fence core1_0.Fence) error {
	fence.(*stubFence).signaled = false
	return nil
}

func (s *stubBackend) createSemaphore() (core1_0.Semaphore, error) {
	s.nextSemID++
	return &stubSemaphore{id: s.nextSemID}, nil
}

func (s *stubBackend) destroySemaphore(semaphore core1_0.Semaphore) {
	delete(s.signaled, semaphore.(*stubSemaphore).id)
}

func (s *stubBackend) recreateComputeDone(slot *FrameSlot) error {
	semaphore, err := s.createSemaphore()
	if err != nil {
		return err
	}
	slot.ComputeDone = semaphore
	return nil
}

func (s *stubBackend) signal(semaphore core1_0.Semaphore) {
	id := semaphore.(*stubSemaphore).id
	if s.signaled[id] {
		s.t.Fatalf("semaphore %d signaled again before its pending signal was consumed", id)
	}
	s.signaled[id] = true
}

func (s *stubBackend) consume(semaphore core1_0.Semaphore) {
	id := semaphore.(*stubSemaphore).id
	if !s.signaled[id] {
		s.t.Fatalf("wait on semaphore %d with no pending signal", id)
	}
	s.signaled[id] = false
}

func (s *stubBackend) acquire(signal core1_0.Semaphore) (int, surfaceStatus, error) {
	result := acquireResult{image: len(s.presents) % s.images}
	if s.acquireIdx < len(s.acquires) {
		result = s.acquires[s.acquireIdx]
	}
	s.acquireIdx++

	if result.status == surfaceOutOfDate {
		return 0, surfaceOutOfDate, nil
	}
	s.signal(signal)
	return result.image, result.status, nil
}

func (s *stubBackend) updateUniforms(slot *FrameSlot, scene Scene, camera Camera) error {
	s.uniformSlots = append(s.uniformSlots, slot.Index)
	return nil
}

func (s *stubBackend) submitCompute(slot *FrameSlot, deltaTime float32) error {
	if slot.ComputeFence.(*stubFence).signaled {
		s.t.Fatal("compute submitted with its fence still signaled")
	}
	slot.ComputeFence.(*stubFence).signaled = true
	s.signal(slot.ComputeDone)
	s.computeSlots = append(s.computeSlots, slot.Index)
	return nil
}

func (s *stubBackend) submitDraw(slot *FrameSlot, scene Scene, imageIndex int, imageAvailable, drawDone core1_0.Semaphore) error {
	if slot.DrawFence.(*stubFence).signaled {
		s.t.Fatal("draw submitted with its fence still signaled")
	}
	slot.DrawFence.(*stubFence).signaled = true
	s.consume(slot.ComputeDone)
	s.consume(imageAvailable)
	s.signal(drawDone)
	s.drawSlots = append(s.drawSlots, slot.Index)
	s.drawImages = append(s.drawImages, imageIndex)
	return nil
}

func (s *stubBackend) present(imageIndex int, drawDone core1_0.Semaphore) (surfaceStatus, error) {
	s.consume(drawDone)
	s.presents = append(s.presents, imageIndex)
	if len(s.presentStatuses) > 0 {
		status := s.presentStatuses[0]
		s.presentStatuses = s.presentStatuses[1:]
		return status, nil
	}
	return surfaceOK, nil
}

func (s *stubBackend) recreateSurface() error {
	s.recreates++
	return nil
}

func (s *stubBackend) waitIdle() error {
	s.waitIdles++
	return nil
}

type stubWindow struct {
	width, height int
	resized       bool
	waits         int
	onWait        func(w *stubWindow)
}

func (w *stubWindow) CloseRequested() bool { return false }

func (w *stubWindow) DrawableSize() (int, int) { return w.width, w.height }

func (w *stubWindow) ConsumeResize() bool {
	r := w.resized
	w.resized = false
	return r
}

func (w *stubWindow) WaitEvents() {
	w.waits++
	if w.onWait != nil {
		w.onWait(w)
	}
}

type stubScene struct{}

func (stubScene) Drawables() []Drawable { return nil }

func (stubScene) Bounds() (mgl32.Vec3, mgl32.Vec3) {
	return mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}
}

func (stubScene) Lights() []Light { return nil }

type stubCamera struct{}

func (stubCamera) View() mgl32.Mat4 { return mgl32.Ident4() }

func (stubCamera) Projection(aspect float32) mgl32.Mat4 { return mgl32.Ident4() }

func (stubCamera) Position() mgl32.Vec3 { return mgl32.Vec3{0, 0, 5} }

func newTestEngine(t *testing.T, b *stubBackend, window *stubWindow) *Engine {
	e := &Engine{
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		b:      b,
		window: window,
	}
	for i := 0; i < FramesInFlight; i++ {
		semaphore, err := b.createSemaphore()
		require.NoError(t, err)
		e.slots[i] = &FrameSlot{
			Index:        i,
			ComputeFence: &stubFence{signaled: true},
			DrawFence:    &stubFence{signaled: true},
			ComputeDone:  semaphore,
		}
	}
	require.NoError(t, e.createPresentSync())
	return e
}

func drawFrames(t *testing.T, e *Engine, count int) {
	for i := 0; i < count; i++ {
		require.NoError(t, e.DrawFrame(stubScene{}, stubCamera{}, 0.016))
	}
}

func TestDrawFrameAlternatesSlots(t *testing.T) {
	b := newStubBackend(t, 3)
	window := &stubWindow{width: 800, height: 600}
	e := newTestEngine(t, b, window)

	drawFrames(t, e, 5)

	assert.Equal(t, []int{0, 1, 0, 1, 0}, b.computeSlots)
	assert.Equal(t, []int{0, 1, 0, 1, 0}, b.drawSlots)
	assert.Equal(t, []int{0, 1, 0, 1, 0}, b.uniformSlots)
	assert.Len(t, b.presents, 5)
	assert.Zero(t, b.recreates)
}

func TestDrawFrameOutOfDateAcquireAbortsWithoutSubmitting(t *testing.T) {
	b := newStubBackend(t, 3)
	b.acquires = []acquireResult{
		{image: 0},
		{image: 1},
		{status: surfaceOutOfDate},
		{image: 2},
	}
	window := &stubWindow{width: 800, height: 600}
	e := newTestEngine(t, b, window)

	drawFrames(t, e, 4)

	// The aborted third call submitted nothing and did not consume a
	// frame slot: the retry reuses slot 0.
	assert.Equal(t, []int{0, 1, 0}, b.drawSlots)
	assert.Equal(t, []int{0, 1, 2}, b.drawImages)
	assert.Len(t, b.presents, 3)
	assert.Equal(t, 1, b.recreates)
	assert.Equal(t, 1, b.waitIdles)
}

func TestDrawFrameSuboptimalPresentRecreatesAfterSubmitting(t *testing.T) {
	b := newStubBackend(t, 3)
	b.presentStatuses = []surfaceStatus{surfaceSuboptimal}
	window := &stubWindow{width: 800, height: 600}
	e := newTestEngine(t, b, window)

	drawFrames(t, e, 3)

	// The suboptimal frame still presented, then recreated; later
	// frames continue on the next slot.
	assert.Len(t, b.presents, 3)
	assert.Equal(t, 1, b.recreates)
	assert.Equal(t, []int{0, 1, 0}, b.drawSlots)
}

func TestDrawFrameWindowResizeTriggersRecreate(t *testing.T) {
	b := newStubBackend(t, 3)
	window := &stubWindow{width: 800, height: 600}
	e := newTestEngine(t, b, window)

	drawFrames(t, e, 1)
	require.Zero(t, b.recreates)

	window.resized = true
	drawFrames(t, e, 2)

	assert.Equal(t, 1, b.recreates)
	assert.Len(t, b.presents, 3)
}

func TestRecreateBlocksWhileMinimized(t *testing.T) {
	b := newStubBackend(t, 3)
	b.acquires = []acquireResult{{status: surfaceOutOfDate}}
	window := &stubWindow{width: 0, height: 0}
	window.onWait = func(w *stubWindow) {
		if w.waits == 3 {
			w.width, w.height = 800, 600
		}
	}
	e := newTestEngine(t, b, window)

	drawFrames(t, e, 1)

	// Three event waits passed before the window regained a drawable
	// size; only then did recreation run.
	assert.Equal(t, 3, window.waits)
	assert.Equal(t, 1, b.recreates)
	assert.Empty(t, b.presents)
}

func TestRecreateReplacesComputeSemaphores(t *testing.T) {
	b := newStubBackend(t, 3)
	b.acquires = []acquireResult{{status: surfaceOutOfDate}}
	window := &stubWindow{width: 800, height: 600}
	e := newTestEngine(t, b, window)

	before := make([]core1_0.Semaphore, FramesInFlight)
	for i, slot := range e.slots {
		before[i] = slot.ComputeDone
	}

	drawFrames(t, e, 1)

	for i, slot := range e.slots {
		assert.NotSame(t, before[i], slot.ComputeDone, "slot %d kept its compute semaphore across recreation", i)
	}
}

func TestAcquireSemaphoreRotation(t *testing.T) {
	// Across many frames with the surface cycling all three images,
	// every acquire signal must be consumed by exactly one draw before
	// the same semaphore is handed out again. The stub fails the test
	// on any double-signal or unsignaled wait.
	b := newStubBackend(t, 3)
	window := &stubWindow{width: 800, height: 600}
	e := newTestEngine(t, b, window)

	drawFrames(t, e, 12)

	assert.Len(t, b.presents, 12)
	for id, pending := range b.signaled {
		assert.False(t, pending, "semaphore %d left with an unconsumed signal", id)
	}
}
