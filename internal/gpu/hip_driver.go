//go:build rocm
// +build rocm

package gpu

/*
#cgo LDFLAGS: -lamdhip64 -lrocblas

// Minimal HIP runtime and rocBLAS forward declarations so the build does not
// need the ROCm headers. The linker still requires the libraries.
#include <stddef.h>
#include <stdint.h>

typedef int hipError_t;
typedef struct _rocblas_handle* rocblas_handle;
typedef int rocblas_status;
typedef struct { uint16_t data; } rocblas_half;

extern hipError_t hipGetDeviceCount(int* count);
extern hipError_t hipDeviceGetName(char* name, int len, int device);
extern hipError_t hipDeviceTotalMem(size_t* bytes, int device);
extern hipError_t hipDeviceComputeCapability(int* major, int* minor, int device);
extern hipError_t hipMalloc(void** ptr, size_t size);
extern hipError_t hipFree(void* ptr);
extern hipError_t hipMemcpy(void* dst, const void* src, size_t size, int kind);
extern hipError_t hipDeviceSynchronize(void);
extern const char* hipGetErrorString(hipError_t err);

extern rocblas_status rocblas_create_handle(rocblas_handle* handle);
extern rocblas_status rocblas_destroy_handle(rocblas_handle handle);
extern const char* rocblas_status_to_string(rocblas_status status);
extern rocblas_status rocblas_gemm_ex(
	rocblas_handle handle,
	int transA,
	int transB,
	int m,
	int n,
	int k,
	const void* alpha,
	const void* a,
	int a_type,
	int lda,
	const void* b,
	int b_type,
	int ldb,
	const void* beta,
	const void* c,
	int c_type,
	int ldc,
	void* d,
	int d_type,
	int ldd,
	int compute_type,
	int algo,
	int32_t solution_index,
	uint32_t flags);
extern rocblas_status rocblas_hgemm(
	rocblas_handle handle,
	int transA,
	int transB,
	int m,
	int n,
	int k,
	const rocblas_half* alpha,
	const rocblas_half* a,
	int lda,
	const rocblas_half* b,
	int ldb,
	const rocblas_half* beta,
	rocblas_half* c,
	int ldc);
extern rocblas_status rocblas_gemm_ex_get_solutions(
	rocblas_handle handle,
	int transA,
	int transB,
	int m,
	int n,
	int k,
	const void* alpha,
	const void* a,
	int a_type,
	int lda,
	const void* b,
	int b_type,
	int ldb,
	const void* beta,
	const void* c,
	int c_type,
	int ldc,
	void* d,
	int d_type,
	int ldd,
	int compute_type,
	int algo,
	uint32_t flags,
	int32_t* list_array,
	int32_t* list_size);

#define GEMMBENCH_HIP_MEMCPY_HOST_TO_DEVICE 1
#define GEMMBENCH_ROCBLAS_ALGO_SOLUTION_INDEX 1

static int gbHipMemcpyHtoD(void* dst, const void* src, size_t size) {
	return (int)hipMemcpy(dst, src, size, GEMMBENCH_HIP_MEMCPY_HOST_TO_DEVICE);
}

static int gbRocblasGemmEx(
	rocblas_handle handle,
	int transA, int transB,
	int m, int n, int k,
	float alpha,
	void* a, int aType, int lda,
	void* b, int bType, int ldb,
	float beta,
	void* c, int cType, int ldc,
	int computeType, int algo,
	int32_t solutionIndex, uint32_t flags) {
	// D aliases C: the result overwrites the output buffer in place.
	return (int)rocblas_gemm_ex(handle, transA, transB, m, n, k,
		&alpha, a, aType, lda, b, bType, ldb,
		&beta, c, cType, ldc, c, cType, ldc,
		computeType, algo, solutionIndex, flags);
}

static int gbRocblasHgemm(
	rocblas_handle handle,
	int transA, int transB,
	int m, int n, int k,
	uint16_t alpha,
	void* a, int lda,
	void* b, int ldb,
	uint16_t beta,
	void* c, int ldc) {
	rocblas_half ha = {alpha};
	rocblas_half hb = {beta};
	return (int)rocblas_hgemm(handle, transA, transB, m, n, k,
		&ha, (const rocblas_half*)a, lda, (const rocblas_half*)b, ldb,
		&hb, (rocblas_half*)c, ldc);
}

// With list NULL only the number of solutions is written to size.
static int gbRocblasGemmSolutions(
	rocblas_handle handle,
	int transA, int transB,
	int m, int n, int k,
	float alpha,
	void* a, int aType, int lda,
	void* b, int bType, int ldb,
	float beta,
	void* c, int cType, int ldc,
	int computeType, uint32_t flags,
	int32_t* list, int32_t* size) {
	return (int)rocblas_gemm_ex_get_solutions(handle, transA, transB, m, n, k,
		&alpha, a, aType, lda, b, bType, ldb,
		&beta, c, cType, ldc, c, cType, ldc,
		computeType, GEMMBENCH_ROCBLAS_ALGO_SOLUTION_INDEX, flags, list, size);
}
*/
import "C"

import (
	"os"
	"strconv"
	"unsafe"

	"github.com/x448/float16"
	"go.uber.org/zap"
)

// rocBLAS enumeration values.
const (
	rocblasOperationNone      = 111
	rocblasOperationTranspose = 112

	rocblasDatatypeF16  = 150
	rocblasDatatypeF32  = 151
	rocblasDatatypeBF16 = 168

	rocblasGemmAlgoStandard      = 0
	rocblasGemmAlgoSolutionIndex = 1
)

// HIPDriver binds the HIP runtime and rocBLAS.
type HIPDriver struct {
	logger *zap.Logger
}

// NewHIPDriver returns the ROCm driver. A positive vendorLogLevel is exported
// as AMD_LOG_LEVEL before the runtime initializes.
func NewHIPDriver(vendorLogLevel int, logger *zap.Logger) *HIPDriver {
	if vendorLogLevel > 0 {
		setVendorEnv("AMD_LOG_LEVEL", strconv.Itoa(vendorLogLevel), os.Setenv, logger)
	}
	return &HIPDriver{logger: logger}
}

func (d *HIPDriver) Name() string { return "rocm" }

func (d *HIPDriver) GetDeviceCount() (int, Status) {
	var n C.int
	st := Status(C.hipGetDeviceCount(&n))
	return int(n), st
}

func (d *HIPDriver) GetDeviceProperties(index int) (DeviceProperties, Status) {
	var name [256]C.char
	if st := Status(C.hipDeviceGetName(&name[0], C.int(len(name)), C.int(index))); !st.OK() {
		return DeviceProperties{}, st
	}
	var total C.size_t
	if st := Status(C.hipDeviceTotalMem(&total, C.int(index))); !st.OK() {
		return DeviceProperties{}, st
	}
	var major, minor C.int
	if st := Status(C.hipDeviceComputeCapability(&major, &minor, C.int(index))); !st.OK() {
		return DeviceProperties{}, st
	}
	return DeviceProperties{
		Name:             C.GoString(&name[0]),
		TotalMemoryBytes: uint64(total),
		ComputeMajor:     int32(major),
		ComputeMinor:     int32(minor),
	}, StatusSuccess
}

func (d *HIPDriver) Malloc(size uint64) (DevicePtr, Status) {
	var ptr unsafe.Pointer
	st := Status(C.hipMalloc(&ptr, C.size_t(size)))
	return DevicePtr(ptr), st
}

func (d *HIPDriver) Free(ptr DevicePtr) Status {
	return Status(C.hipFree(devicePointer(ptr)))
}

func (d *HIPDriver) MemcpyHostToDevice(dst DevicePtr, src []byte) Status {
	if len(src) == 0 {
		return StatusSuccess
	}
	return Status(C.gbHipMemcpyHtoD(devicePointer(dst), unsafe.Pointer(&src[0]), C.size_t(len(src))))
}

func (d *HIPDriver) DeviceSynchronize() Status {
	return Status(C.hipDeviceSynchronize())
}

func (d *HIPDriver) RuntimeStatusString(st Status) string {
	return C.GoString(C.hipGetErrorString(C.hipError_t(st)))
}

func (d *HIPDriver) CreateHandle() (HandlePtr, Status) {
	var h C.rocblas_handle
	st := Status(C.rocblas_create_handle(&h))
	return HandlePtr(unsafe.Pointer(h)), st
}

func (d *HIPDriver) DestroyHandle(h HandlePtr) Status {
	return Status(C.rocblas_destroy_handle(C.rocblas_handle(devicePointer(DevicePtr(h)))))
}

func (d *HIPDriver) GemmEx(h HandlePtr, call GemmCall) Status {
	return Status(C.gbRocblasGemmEx(
		C.rocblas_handle(devicePointer(DevicePtr(h))),
		rocblasOperation(call.OpA), rocblasOperation(call.OpB),
		C.int(call.M), C.int(call.N), C.int(call.K),
		C.float(call.Alpha),
		devicePointer(call.A), rocblasDatatype(call.TypeA), C.int(call.LDA),
		devicePointer(call.B), rocblasDatatype(call.TypeB), C.int(call.LDB),
		C.float(call.Beta),
		devicePointer(call.C), rocblasDatatype(call.TypeC), C.int(call.LDC),
		rocblasDatatypeF32, rocblasAlgorithm(call.Algorithm),
		C.int32_t(call.SolutionIndex), C.uint32_t(call.Flags),
	))
}

// Hgemm calls rocblas_hgemm.
func (d *HIPDriver) Hgemm(h HandlePtr, call GemmCall) Status {
	return Status(C.gbRocblasHgemm(
		C.rocblas_handle(devicePointer(DevicePtr(h))),
		rocblasOperation(call.OpA), rocblasOperation(call.OpB),
		C.int(call.M), C.int(call.N), C.int(call.K),
		C.uint16_t(float16.Fromfloat32(call.Alpha).Bits()),
		devicePointer(call.A), C.int(call.LDA),
		devicePointer(call.B), C.int(call.LDB),
		C.uint16_t(float16.Fromfloat32(call.Beta).Bits()),
		devicePointer(call.C), C.int(call.LDC),
	))
}

// GemmSolutions asks rocBLAS which solution indices can run call, in the
// order the library ranks them.
func (d *HIPDriver) GemmSolutions(h HandlePtr, call GemmCall) ([]Solution, Status) {
	var size C.int32_t
	list := func(dst *C.int32_t) Status {
		return Status(C.gbRocblasGemmSolutions(
			C.rocblas_handle(devicePointer(DevicePtr(h))),
			rocblasOperation(call.OpA), rocblasOperation(call.OpB),
			C.int(call.M), C.int(call.N), C.int(call.K),
			C.float(call.Alpha),
			devicePointer(call.A), rocblasDatatype(call.TypeA), C.int(call.LDA),
			devicePointer(call.B), rocblasDatatype(call.TypeB), C.int(call.LDB),
			C.float(call.Beta),
			devicePointer(call.C), rocblasDatatype(call.TypeC), C.int(call.LDC),
			rocblasDatatypeF32, C.uint32_t(call.Flags),
			dst, &size,
		))
	}
	if st := list(nil); !st.OK() || size == 0 {
		return nil, st
	}
	indices := make([]C.int32_t, size)
	if st := list(&indices[0]); !st.OK() {
		return nil, st
	}
	sols := make([]Solution, 0, int(size))
	for _, idx := range indices[:size] {
		sols = append(sols, Solution{Algorithm: Algorithm(rocblasGemmAlgoSolutionIndex), Index: int32(idx)})
	}
	d.logger.Debug("Listed rocBLAS solutions", zap.Int("count", len(sols)))
	return sols, StatusSuccess
}

func (d *HIPDriver) BLASStatusString(st Status) string {
	return C.GoString(C.rocblas_status_to_string(C.rocblas_status(st)))
}

func (d *HIPDriver) Close() error { return nil }

func rocblasOperation(op Operation) C.int {
	if op == OpTranspose {
		return rocblasOperationTranspose
	}
	return rocblasOperationNone
}

func rocblasAlgorithm(a Algorithm) C.int {
	if a == AlgorithmDefault {
		return rocblasGemmAlgoStandard
	}
	return C.int(a)
}

func rocblasDatatype(e ElementType) C.int {
	switch e {
	case F16:
		return rocblasDatatypeF16
	case BF16:
		return rocblasDatatypeBF16
	default:
		return rocblasDatatypeF32
	}
}
