// Package gputest provides instrumented drivers for testing code built on
// the gpu package without a device.
package gputest

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxnlabs/gemmbench/internal/gpu"
)

// Status codes returned by FakeDriver.
const (
	StatusInvalidValue gpu.Status = iota + 1
	StatusOutOfMemory
	StatusInvalidDevicePointer
	StatusNoDevice
	StatusNotInitialized
	StatusExecutionFailed
)

// FakeClock is a manually advanced clock. It satisfies bench.Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock starting at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// FakeDriver is an in-memory driver that records every call. The zero value
// is not usable; create one with NewFakeDriver and adjust the exported knobs
// before use.
type FakeDriver struct {
	mu sync.Mutex

	// DeviceCount is reported by GetDeviceCount.
	DeviceCount int
	// Properties is reported for device 0.
	Properties gpu.DeviceProperties
	// MemoryLimit caps the bytes resident at once. Zero means unlimited.
	MemoryLimit uint64

	// Injected statuses; zero is success.
	DeviceCountStatus  gpu.Status
	PropertiesStatus   gpu.Status
	CreateHandleStatus gpu.Status
	UploadStatus       gpu.Status
	SyncStatus         gpu.Status
	GemmStatus         gpu.Status
	// FailGemmAfter lets the first n GEMM calls succeed before GemmStatus is
	// returned. Zero applies GemmStatus to every call.
	FailGemmAfter int

	// Clock, when set, is advanced by GemmDuration for every GEMM call.
	Clock        *FakeClock
	GemmDuration time.Duration
	// GemmHook runs inside every GEMM call, after the clock advanced. A
	// non-success status it returns fails the call.
	GemmHook func(call gpu.GemmCall) gpu.Status

	// Solutions is returned by GemmSolutions unless SolutionsStatus is set.
	Solutions       []gpu.Solution
	SolutionsStatus gpu.Status

	Allocs           int
	Frees            int
	Uploads          int
	Gemms            int
	Hgemms           int
	Syncs            int
	HandlesCreated   int
	HandlesDestroyed int
	MallocRequests   []uint64
	GemmCalls        []gpu.GemmCall
	// Calls is the ordered log of driver entry points invoked.
	Calls []string

	next     gpu.DevicePtr
	live     map[gpu.DevicePtr]uint64
	resident uint64
	handles  map[gpu.HandlePtr]bool
	closed   bool
}

// NewFakeDriver returns a fake with one 16 GiB device.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		DeviceCount: 1,
		Properties: gpu.DeviceProperties{
			Name:             "Fake GPU",
			TotalMemoryBytes: 16 << 30,
			ComputeMajor:     9,
			ComputeMinor:     4,
		},
		next:    0x10000,
		live:    make(map[gpu.DevicePtr]uint64),
		handles: make(map[gpu.HandlePtr]bool),
	}
}

func (f *FakeDriver) record(call string) {
	f.Calls = append(f.Calls, call)
}

func (f *FakeDriver) Name() string { return "fake" }

func (f *FakeDriver) GetDeviceCount() (int, gpu.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetDeviceCount")
	if !f.DeviceCountStatus.OK() {
		return 0, f.DeviceCountStatus
	}
	return f.DeviceCount, gpu.StatusSuccess
}

func (f *FakeDriver) GetDeviceProperties(index int) (gpu.DeviceProperties, gpu.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetDeviceProperties")
	if !f.PropertiesStatus.OK() {
		return gpu.DeviceProperties{}, f.PropertiesStatus
	}
	if index < 0 || index >= f.DeviceCount {
		return gpu.DeviceProperties{}, StatusInvalidValue
	}
	return f.Properties, gpu.StatusSuccess
}

func (f *FakeDriver) Malloc(size uint64) (gpu.DevicePtr, gpu.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Malloc")
	f.MallocRequests = append(f.MallocRequests, size)
	if size == 0 {
		return 0, StatusInvalidValue
	}
	if f.MemoryLimit > 0 && f.resident+size > f.MemoryLimit {
		return 0, StatusOutOfMemory
	}
	ptr := f.next
	f.next += gpu.DevicePtr(size)
	f.live[ptr] = size
	f.resident += size
	f.Allocs++
	return ptr, gpu.StatusSuccess
}

func (f *FakeDriver) Free(ptr gpu.DevicePtr) gpu.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Free")
	size, ok := f.live[ptr]
	if !ok {
		return StatusInvalidDevicePointer
	}
	delete(f.live, ptr)
	f.resident -= size
	f.Frees++
	return gpu.StatusSuccess
}

func (f *FakeDriver) MemcpyHostToDevice(dst gpu.DevicePtr, src []byte) gpu.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MemcpyHostToDevice")
	if !f.UploadStatus.OK() {
		return f.UploadStatus
	}
	size, ok := f.live[dst]
	if !ok {
		return StatusInvalidDevicePointer
	}
	if uint64(len(src)) > size {
		return StatusInvalidValue
	}
	f.Uploads++
	return gpu.StatusSuccess
}

func (f *FakeDriver) DeviceSynchronize() gpu.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeviceSynchronize")
	f.Syncs++
	return f.SyncStatus
}

func (f *FakeDriver) RuntimeStatusString(st gpu.Status) string {
	return statusString(st)
}

func (f *FakeDriver) CreateHandle() (gpu.HandlePtr, gpu.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateHandle")
	if !f.CreateHandleStatus.OK() {
		return 0, f.CreateHandleStatus
	}
	f.HandlesCreated++
	h := gpu.HandlePtr(f.HandlesCreated)
	f.handles[h] = true
	return h, gpu.StatusSuccess
}

func (f *FakeDriver) DestroyHandle(h gpu.HandlePtr) gpu.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DestroyHandle")
	if !f.handles[h] {
		return StatusNotInitialized
	}
	delete(f.handles, h)
	f.HandlesDestroyed++
	return gpu.StatusSuccess
}

func (f *FakeDriver) GemmEx(h gpu.HandlePtr, call gpu.GemmCall) gpu.Status {
	return f.gemm("GemmEx", h, call)
}

// Hgemm behaves like GemmEx and is counted in both Gemms and Hgemms.
func (f *FakeDriver) Hgemm(h gpu.HandlePtr, call gpu.GemmCall) gpu.Status {
	return f.gemm("Hgemm", h, call)
}

func (f *FakeDriver) GemmSolutions(h gpu.HandlePtr, call gpu.GemmCall) ([]gpu.Solution, gpu.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GemmSolutions")
	if !f.handles[h] {
		return nil, StatusNotInitialized
	}
	if !f.SolutionsStatus.OK() {
		return nil, f.SolutionsStatus
	}
	return append([]gpu.Solution(nil), f.Solutions...), gpu.StatusSuccess
}

func (f *FakeDriver) gemm(name string, h gpu.HandlePtr, call gpu.GemmCall) gpu.Status {
	f.mu.Lock()
	f.record(name)
	if !f.handles[h] {
		f.mu.Unlock()
		return StatusNotInitialized
	}
	for _, p := range []gpu.DevicePtr{call.A, call.B, call.C} {
		if _, ok := f.live[p]; !ok {
			f.mu.Unlock()
			return StatusInvalidDevicePointer
		}
	}
	f.Gemms++
	if name == "Hgemm" {
		f.Hgemms++
	}
	f.GemmCalls = append(f.GemmCalls, call)
	failing := !f.GemmStatus.OK() && f.Gemms > f.FailGemmAfter
	hook := f.GemmHook
	f.mu.Unlock()

	if f.Clock != nil {
		f.Clock.Advance(f.GemmDuration)
	}
	if hook != nil {
		if st := hook(call); !st.OK() {
			return st
		}
	}
	if failing {
		return f.GemmStatus
	}
	return gpu.StatusSuccess
}

func (f *FakeDriver) BLASStatusString(st gpu.Status) string {
	return statusString(st)
}

func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Close")
	f.closed = true
	return nil
}

// Resident returns the bytes currently allocated and not freed.
func (f *FakeDriver) Resident() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resident
}

// LiveBuffers returns the number of allocations not yet freed.
func (f *FakeDriver) LiveBuffers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// LiveHandles returns the number of handles not yet destroyed.
func (f *FakeDriver) LiveHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// CallCount returns how often the named entry point was invoked.
func (f *FakeDriver) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func statusString(st gpu.Status) string {
	switch st {
	case gpu.StatusSuccess:
		return "success"
	case StatusInvalidValue:
		return "invalid value"
	case StatusOutOfMemory:
		return "out of memory"
	case StatusInvalidDevicePointer:
		return "invalid device pointer"
	case StatusNoDevice:
		return "no device"
	case StatusNotInitialized:
		return "not initialized"
	case StatusExecutionFailed:
		return "execution failed"
	default:
		return fmt.Sprintf("status %d", int32(st))
	}
}
