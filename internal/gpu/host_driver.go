package gpu

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Status codes of the host emulation driver.
const (
	hostSuccess Status = iota
	hostErrInvalidValue
	hostErrOutOfMemory
	hostErrInvalidDevicePointer
	hostErrInvalidHandle
	hostErrNotSupported
)

var hostStatusStrings = map[Status]string{
	hostSuccess:                 "success",
	hostErrInvalidValue:         "invalid value",
	hostErrOutOfMemory:          "out of memory",
	hostErrInvalidDevicePointer: "invalid device pointer",
	hostErrInvalidHandle:        "invalid handle",
	hostErrNotSupported:         "not supported",
}

// DefaultHostMemoryBytes is the emulated device capacity when none is set.
const DefaultHostMemoryBytes = 8 << 30

// HostDriver emulates one device in host memory and runs GEMM on gonum's
// BLAS. It is used when no vendor runtime is compiled in, and by tests.
// GemmEx executes synchronously, so DeviceSynchronize has nothing to wait for.
type HostDriver struct {
	mu       sync.Mutex
	capacity uint64
	used     uint64
	next     DevicePtr
	mem      map[DevicePtr][]byte

	nextHandle HandlePtr
	handles    map[HandlePtr]struct{}
}

// NewHostDriver returns an emulated device with capacity bytes of memory.
// A zero capacity selects DefaultHostMemoryBytes.
func NewHostDriver(capacity uint64) *HostDriver {
	if capacity == 0 {
		capacity = DefaultHostMemoryBytes
	}
	return &HostDriver{
		capacity:   capacity,
		next:       0x1000,
		mem:        make(map[DevicePtr][]byte),
		nextHandle: 1,
		handles:    make(map[HandlePtr]struct{}),
	}
}

func (h *HostDriver) Name() string { return "host" }

func (h *HostDriver) GetDeviceCount() (int, Status) { return 1, hostSuccess }

func (h *HostDriver) GetDeviceProperties(index int) (DeviceProperties, Status) {
	if index != 0 {
		return DeviceProperties{}, hostErrInvalidValue
	}
	return DeviceProperties{
		Name:             fmt.Sprintf("Host emulation (%s/%s)", runtime.GOOS, runtime.GOARCH),
		TotalMemoryBytes: h.capacity,
	}, hostSuccess
}

func (h *HostDriver) Malloc(size uint64) (DevicePtr, Status) {
	if size == 0 {
		return 0, hostErrInvalidValue
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.used+size > h.capacity {
		return 0, hostErrOutOfMemory
	}
	ptr := h.next
	// keep allocations disjoint and 256-byte aligned like a real allocator
	h.next += DevicePtr((size + 255) &^ 255)
	h.mem[ptr] = make([]byte, size)
	h.used += size
	return ptr, hostSuccess
}

func (h *HostDriver) Free(ptr DevicePtr) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.mem[ptr]
	if !ok {
		return hostErrInvalidDevicePointer
	}
	h.used -= uint64(len(buf))
	delete(h.mem, ptr)
	return hostSuccess
}

func (h *HostDriver) MemcpyHostToDevice(dst DevicePtr, src []byte) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.mem[dst]
	if !ok {
		return hostErrInvalidDevicePointer
	}
	if len(src) > len(buf) {
		return hostErrInvalidValue
	}
	copy(buf, src)
	return hostSuccess
}

func (h *HostDriver) DeviceSynchronize() Status { return hostSuccess }

func (h *HostDriver) RuntimeStatusString(st Status) string { return hostStatusString(st) }

func (h *HostDriver) CreateHandle() (HandlePtr, Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ptr := h.nextHandle
	h.nextHandle++
	h.handles[ptr] = struct{}{}
	return ptr, hostSuccess
}

func (h *HostDriver) DestroyHandle(ptr HandlePtr) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.handles[ptr]; !ok {
		return hostErrInvalidHandle
	}
	delete(h.handles, ptr)
	return hostSuccess
}

// GemmEx computes the call on the host. Operands are decoded to float32,
// multiplied with blas32 and C is re-encoded in its storage type, which
// matches f32 accumulation on the device.
func (h *HostDriver) GemmEx(ptr HandlePtr, call GemmCall) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.handles[ptr]; !ok {
		return hostErrInvalidHandle
	}
	if call.ComputeType != ComputeF32 || call.Algorithm != AlgorithmDefault {
		return hostErrNotSupported
	}
	if call.M <= 0 || call.N <= 0 || call.K <= 0 {
		return hostErrInvalidValue
	}

	// stored shapes (rows×cols, column-major) of A, B and C
	aRows, aCols := call.M, call.K
	if call.OpA == OpTranspose {
		aRows, aCols = call.K, call.M
	}
	bRows, bCols := call.K, call.N
	if call.OpB == OpTranspose {
		bRows, bCols = call.N, call.K
	}

	a, st := h.operand(call.A, call.TypeA, aRows, aCols, call.LDA)
	if !st.OK() {
		return st
	}
	b, st := h.operand(call.B, call.TypeB, bRows, bCols, call.LDB)
	if !st.OK() {
		return st
	}
	c, st := h.operand(call.C, call.TypeC, call.M, call.N, call.LDC)
	if !st.OK() {
		return st
	}

	// A column-major matrix read row-major is its transpose, so
	// Cᵀ = op(B)ᵀ·op(A)ᵀ is computed on the row-major views.
	blas32.Gemm(hostTranspose(call.OpB), hostTranspose(call.OpA), call.Alpha, b, a, call.Beta, c)

	encodeColumnMajor(h.mem[call.C], call.TypeC, c)
	return hostSuccess
}

// Hgemm is GemmEx restricted to f16 operands, with alpha and beta rounded to
// half as the simple entry point takes them.
func (h *HostDriver) Hgemm(ptr HandlePtr, call GemmCall) Status {
	if call.TypeA != F16 || call.TypeB != F16 || call.TypeC != F16 {
		return hostErrInvalidValue
	}
	call.Alpha = float16.Fromfloat32(call.Alpha).Float32()
	call.Beta = float16.Fromfloat32(call.Beta).Float32()
	return h.GemmEx(ptr, call)
}

func (h *HostDriver) BLASStatusString(st Status) string { return hostStatusString(st) }

func (h *HostDriver) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mem = make(map[DevicePtr][]byte)
	h.handles = make(map[HandlePtr]struct{})
	h.used = 0
	return nil
}

// UsedBytes returns the emulated memory currently allocated.
func (h *HostDriver) UsedBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// operand decodes a rows×cols column-major matrix with leading dimension ld
// into the row-major view of its transpose.
func (h *HostDriver) operand(ptr DevicePtr, elem ElementType, rows, cols, ld int) (blas32.General, Status) {
	buf, ok := h.mem[ptr]
	if !ok {
		return blas32.General{}, hostErrInvalidDevicePointer
	}
	size := int(elem.Size())
	if size == 0 || ld < rows {
		return blas32.General{}, hostErrInvalidValue
	}
	extent := (cols-1)*ld + rows
	if extent*size > len(buf) {
		return blas32.General{}, hostErrInvalidValue
	}
	data := make([]float32, extent)
	for i := range data {
		data[i] = DecodeElement(buf[i*size:], elem)
	}
	return blas32.General{Rows: cols, Cols: rows, Stride: ld, Data: data}, hostSuccess
}

func encodeColumnMajor(dst []byte, elem ElementType, m blas32.General) {
	size := int(elem.Size())
	for col := 0; col < m.Rows; col++ {
		for row := 0; row < m.Cols; row++ {
			i := col*m.Stride + row
			EncodeElement(dst[i*size:], elem, m.Data[i])
		}
	}
}

func hostTranspose(op Operation) blas.Transpose {
	if op == OpTranspose {
		return blas.Trans
	}
	return blas.NoTrans
}

func hostStatusString(st Status) string {
	if s, ok := hostStatusStrings[st]; ok {
		return s
	}
	return fmt.Sprintf("unknown status %d", int32(st))
}
