package gpu

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
)

const testUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

func newTestDevice(t *testing.T, opts DeviceOptions) (*Device, *EventLog) {
	t.Helper()
	log := NewEventLog()
	if opts.Recorder == nil {
		opts.Recorder = log
	}
	d := NewDevice(opts)
	t.Cleanup(func() { d.Close() })
	return d, log
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateCopyRead(t *testing.T) {
	d, _ := newTestDevice(t, DeviceOptions{})
	ctx := testContext(t)

	a, b := d.NewBufferHandle(), d.NewBufferHandle()
	err := d.SubmitAndWait(ctx, "setup",
		CreateBuffer{Handle: a, Label: "a", Usage: testUsage, Data: []float32{1, 2, 3, 4}},
		CreateBuffer{Handle: b, Label: "b", Usage: testUsage, Size: 4},
		CopyBuffer{Src: a, Dst: b},
	)
	if err != nil {
		t.Fatalf("setup batch: %v", err)
	}

	out := make([]float32, 4)
	if err := d.SubmitAndWait(ctx, "read", ReadBuffer{Src: b, Dst: out}); err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if out[i] != want {
			t.Errorf("out[%d] = %f, want %f", i, out[i], want)
		}
	}

	stats := d.Stats()
	if stats.LiveBuffers != 2 {
		t.Errorf("expected 2 live buffers, got %d", stats.LiveBuffers)
	}
	if stats.BufferBytes != 32 {
		t.Errorf("expected 32 buffer bytes, got %d", stats.BufferBytes)
	}
}

func TestCopySizeMismatch(t *testing.T) {
	d, _ := newTestDevice(t, DeviceOptions{})
	ctx := testContext(t)

	a, b := d.NewBufferHandle(), d.NewBufferHandle()
	err := d.SubmitAndWait(ctx, "mismatch",
		CreateBuffer{Handle: a, Usage: testUsage, Size: 4},
		CreateBuffer{Handle: b, Usage: testUsage, Size: 8},
		CopyBuffer{Src: a, Dst: b},
	)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestCopyRequiresUsage(t *testing.T) {
	d, _ := newTestDevice(t, DeviceOptions{})
	ctx := testContext(t)

	a, b := d.NewBufferHandle(), d.NewBufferHandle()
	err := d.SubmitAndWait(ctx, "usage",
		CreateBuffer{Handle: a, Usage: gputypes.BufferUsageStorage, Size: 4},
		CreateBuffer{Handle: b, Usage: testUsage, Size: 4},
		CopyBuffer{Src: a, Dst: b},
	)
	if !errors.Is(err, ErrInvalidUsage) {
		t.Errorf("expected ErrInvalidUsage, got %v", err)
	}
}

func TestMemoryBudget(t *testing.T) {
	d, _ := newTestDevice(t, DeviceOptions{MemoryBudget: 64})
	ctx := testContext(t)

	a, b := d.NewBufferHandle(), d.NewBufferHandle()
	if err := d.SubmitAndWait(ctx, "fits", CreateBuffer{Handle: a, Usage: testUsage, Size: 16}); err != nil {
		t.Fatalf("first buffer should fit: %v", err)
	}
	err := d.SubmitAndWait(ctx, "exceeds", CreateBuffer{Handle: b, Usage: testUsage, Size: 1})
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}

	// Releasing frees budget
	if err := d.SubmitAndWait(ctx, "release", ReleaseBuffer{Handle: a}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := d.SubmitAndWait(ctx, "retry", CreateBuffer{Handle: b, Usage: testUsage, Size: 16}); err != nil {
		t.Errorf("expected allocation after release to fit: %v", err)
	}
}

func TestReleaseIfExists(t *testing.T) {
	d, _ := newTestDevice(t, DeviceOptions{MemoryBudget: 256})
	ctx := testContext(t)

	if d.MemoryBudget() != 256 {
		t.Errorf("MemoryBudget() = %d, want 256", d.MemoryBudget())
	}

	a, never := d.NewBufferHandle(), d.NewBufferHandle()
	err := d.SubmitAndWait(ctx, "cleanup",
		CreateBuffer{Handle: a, Usage: testUsage, Size: 8},
		ReleaseBuffer{Handle: a, IfExists: true},
		ReleaseBuffer{Handle: never, IfExists: true},
	)
	if err != nil {
		t.Fatalf("cleanup batch: %v", err)
	}
	if st := d.Stats(); st.LiveBuffers != 0 || st.CommandErrors != 0 {
		t.Errorf("after cleanup: %d live buffers, %d command errors", st.LiveBuffers, st.CommandErrors)
	}
}

func TestStaleHandle(t *testing.T) {
	d, _ := newTestDevice(t, DeviceOptions{})
	ctx := testContext(t)

	h := d.NewBufferHandle()
	if err := d.SubmitAndWait(ctx, "release unknown", ReleaseBuffer{Handle: h}); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("expected ErrUnknownHandle, got %v", err)
	}
	if got := d.Stats().CommandErrors; got != 1 {
		t.Errorf("expected 1 command error, got %d", got)
	}
}

type countKernel struct {
	mu     sync.Mutex
	groups [][3]uint32
}

func (k *countKernel) Label() string { return "count" }

func (k *countKernel) Execute(ec *ExecContext, groups [3]uint32) error {
	k.mu.Lock()
	k.groups = append(k.groups, groups)
	k.mu.Unlock()
	return nil
}

func TestDispatchRejectsZeroGroups(t *testing.T) {
	d, log := newTestDevice(t, DeviceOptions{})
	ctx := testContext(t)
	k := &countKernel{}

	err := d.SubmitAndWait(ctx, "zero", Dispatch{Kernel: k, Groups: [3]uint32{0, 1, 1}})
	if !errors.Is(err, ErrWorkgroupCountZero) {
		t.Errorf("expected ErrWorkgroupCountZero, got %v", err)
	}
	if len(k.groups) != 0 {
		t.Errorf("kernel should not run for zero groups")
	}

	if err := d.SubmitAndWait(ctx, "one", Dispatch{Kernel: k, Groups: [3]uint32{2, 3, 1}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(k.groups) != 1 || k.groups[0] != [3]uint32{2, 3, 1} {
		t.Errorf("unexpected groups %v", k.groups)
	}
	if got := log.Dispatches(); len(got) != 2 || got[0] != "count" {
		t.Errorf("unexpected dispatch log %v", got)
	}
	if got := d.Stats().Dispatches; got != 1 {
		t.Errorf("expected 1 executed dispatch, got %d", got)
	}
}

func TestFIFOOrderAndFence(t *testing.T) {
	d, log := newTestDevice(t, DeviceOptions{QueueDepth: 2})
	ctx := testContext(t)

	var order []int
	var last uint64
	for i := 0; i < 10; i++ {
		last = d.Submit("step", Callback{Label: "step", Fn: func(*ExecContext) error {
			order = append(order, i)
			return nil
		}})
	}
	if last != 10 {
		t.Fatalf("expected fence value 10, got %d", last)
	}
	if err := d.Wait(ctx, last); err != nil {
		t.Fatalf("wait: %v", err)
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("batches executed out of order: %v", order)
		}
	}
	completed := log.Completed()
	for i, f := range completed {
		if f != uint64(i+1) {
			t.Fatalf("fences completed out of order: %v", completed)
		}
	}
	if d.CompletedValue() != 10 {
		t.Errorf("expected completed value 10, got %d", d.CompletedValue())
	}
}

func TestCommandFence(t *testing.T) {
	d, _ := newTestDevice(t, DeviceOptions{})
	ctx := testContext(t)

	var never CommandFence
	if !never.IsComplete() {
		t.Error("unbegun fence should be complete")
	}

	release := make(chan struct{})
	d.Submit("blocked", Callback{Label: "block", Fn: func(*ExecContext) error {
		<-release
		return nil
	}})

	var f CommandFence
	f.Begin(d)
	if f.Target() != 1 {
		t.Errorf("expected target 1, got %d", f.Target())
	}
	if f.IsComplete() {
		t.Error("fence should not be complete while batch is blocked")
	}

	close(release)
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !f.IsComplete() {
		t.Error("fence should be complete after wait")
	}
}

func TestFenceWaitHonorsContext(t *testing.T) {
	d, _ := newTestDevice(t, DeviceOptions{})

	release := make(chan struct{})
	defer close(release)
	v := d.Submit("blocked", Callback{Label: "block", Fn: func(*ExecContext) error {
		<-release
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx, v); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	d := NewDevice(DeviceOptions{})
	d.Submit("one")
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if d.CompletedValue() != 1 {
		t.Errorf("close should drain queued batches, completed = %d", d.CompletedValue())
	}
	if v := d.Submit("late"); v != 1 {
		t.Errorf("expected dropped submit to return 1, got %d", v)
	}
	err := d.SubmitAndWait(context.Background(), "late")
	if !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("expected ErrDeviceClosed, got %v", err)
	}
	// Second close is a no-op
	if err := d.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestConcurrentSubmit(t *testing.T) {
	d, _ := newTestDevice(t, DeviceOptions{})
	ctx := testContext(t)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d.Submit("concurrent")
			}
		}()
	}
	wg.Wait()

	if err := d.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := d.Stats().Batches; got != 400 {
		t.Errorf("expected 400 batches, got %d", got)
	}
}
