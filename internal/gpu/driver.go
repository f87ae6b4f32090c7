package gpu

// Driver is the raw binding to a vendor GPU runtime and its BLAS library.
// This interface allows for multiple vendor implementations (ROCm, CUDA, the
// host emulation) behind one typed boundary.
//
// Implementation notes:
//   - Methods return raw status codes; only Device, ComputeHandle and the
//     buffer helpers turn them into errors, so nothing above this package
//     ever inspects a Status.
//   - Drivers are not required to be safe for concurrent use. The benchmark
//     is strictly sequential and ComputeHandle serializes GEMM calls.
//   - Only device index 0 is ever queried by the benchmark.
type Driver interface {
	// Name identifies the driver in logs and reports ("rocm", "cuda", "host").
	Name() string

	// GetDeviceCount initializes the runtime implicitly and returns the
	// number of visible devices.
	GetDeviceCount() (int, Status)

	// GetDeviceProperties returns the name, total memory and compute
	// capability of a device.
	GetDeviceProperties(index int) (DeviceProperties, Status)

	// Malloc allocates size bytes of device memory.
	Malloc(size uint64) (DevicePtr, Status)

	// Free releases memory returned by Malloc.
	Free(ptr DevicePtr) Status

	// MemcpyHostToDevice copies src to dst synchronously.
	MemcpyHostToDevice(dst DevicePtr, src []byte) Status

	// DeviceSynchronize blocks until all work enqueued on the device is done.
	DeviceSynchronize() Status

	// RuntimeStatusString describes a status returned by the runtime methods.
	RuntimeStatusString(st Status) string

	// CreateHandle creates a BLAS context bound to the current device.
	CreateHandle() (HandlePtr, Status)

	// DestroyHandle releases a context returned by CreateHandle.
	DestroyHandle(h HandlePtr) Status

	// GemmEx enqueues one extended GEMM call. It may return before the
	// multiplication has executed.
	GemmEx(h HandlePtr, call GemmCall) Status

	// BLASStatusString describes a status returned by the BLAS methods.
	BLASStatusString(st Status) string

	// Close releases anything the driver itself holds. It does not free
	// buffers or handles the caller still owns.
	Close() error
}

// HalfGemmer is implemented by drivers that also bind the library's simple
// half-precision GEMM (rocblas_hgemm, cublasHgemm). Every operand is F16 and
// alpha and beta are passed as half values.
type HalfGemmer interface {
	Hgemm(h HandlePtr, call GemmCall) Status
}

// SolutionLister is implemented by drivers whose library can enumerate the
// kernel solutions that accept a call. Algorithm, SolutionIndex and Flags of
// call are ignored apart from the flags the library filters on.
type SolutionLister interface {
	GemmSolutions(h HandlePtr, call GemmCall) ([]Solution, Status)
}

// extension returns drv as E. It looks through the trace wrapper, which
// forwards every extension whether or not the wrapped driver has it.
func extension[E any](drv Driver) (E, bool) {
	if t, ok := drv.(*tracedDriver); ok {
		if _, ok := t.Driver.(E); !ok {
			var zero E
			return zero, false
		}
	}
	e, ok := drv.(E)
	return e, ok
}
