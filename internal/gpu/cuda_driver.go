//go:build cuda
// +build cuda

package gpu

/*
#cgo LDFLAGS: -lcudart -lcublas -lcuda

// Minimal CUDA runtime, driver and cuBLAS forward declarations to avoid
// requiring headers at compile time.
#include <stddef.h>

typedef int cudaError_t;
typedef int CUresult;
typedef int CUdevice;
typedef struct cublasContext* cublasHandle_t;
typedef int cublasStatus_t;
typedef struct { unsigned short x; } gbHalf;

extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaDeviceGetAttribute(int* value, int attr, int device);
extern cudaError_t cudaMemGetInfo(size_t* free, size_t* total);
extern cudaError_t cudaMalloc(void** ptr, size_t size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemcpy(void* dst, const void* src, size_t size, int kind);
extern cudaError_t cudaDeviceSynchronize(void);
extern const char* cudaGetErrorString(cudaError_t err);

extern CUresult cuInit(unsigned int flags);
extern CUresult cuDeviceGet(CUdevice* device, int ordinal);
extern CUresult cuDeviceGetName(char* name, int len, CUdevice dev);

extern cublasStatus_t cublasCreate_v2(cublasHandle_t* handle);
extern cublasStatus_t cublasDestroy_v2(cublasHandle_t handle);
extern const char* cublasGetStatusString(cublasStatus_t status);
extern cublasStatus_t cublasGemmEx(
	cublasHandle_t handle,
	int transa,
	int transb,
	int m,
	int n,
	int k,
	const void* alpha,
	const void* A,
	int Atype,
	int lda,
	const void* B,
	int Btype,
	int ldb,
	const void* beta,
	void* C,
	int Ctype,
	int ldc,
	int computeType,
	int algo);
extern cublasStatus_t cublasHgemm(
	cublasHandle_t handle,
	int transa,
	int transb,
	int m,
	int n,
	int k,
	const gbHalf* alpha,
	const gbHalf* A,
	int lda,
	const gbHalf* B,
	int ldb,
	const gbHalf* beta,
	gbHalf* C,
	int ldc);

#define GEMMBENCH_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define GEMMBENCH_CUDA_ATTR_CC_MAJOR 75
#define GEMMBENCH_CUDA_ATTR_CC_MINOR 76

static int gbCudaMemcpyHtoD(void* dst, const void* src, size_t size) {
	return (int)cudaMemcpy(dst, src, size, GEMMBENCH_CUDA_MEMCPY_HOST_TO_DEVICE);
}

static int gbCudaComputeCapability(int device, int* major, int* minor) {
	cudaError_t err = cudaDeviceGetAttribute(major, GEMMBENCH_CUDA_ATTR_CC_MAJOR, device);
	if (err != 0) {
		return (int)err;
	}
	return (int)cudaDeviceGetAttribute(minor, GEMMBENCH_CUDA_ATTR_CC_MINOR, device);
}

static int gbCudaDeviceName(int device, char* name, int len) {
	CUdevice dev;
	CUresult res = cuInit(0);
	if (res != 0) {
		return (int)res;
	}
	res = cuDeviceGet(&dev, device);
	if (res != 0) {
		return (int)res;
	}
	return (int)cuDeviceGetName(name, len, dev);
}

static int gbCublasGemmEx(
	cublasHandle_t handle,
	int transa, int transb,
	int m, int n, int k,
	float alpha,
	void* A, int Atype, int lda,
	void* B, int Btype, int ldb,
	float beta,
	void* C, int Ctype, int ldc,
	int computeType, int algo) {
	return (int)cublasGemmEx(handle, transa, transb, m, n, k,
		&alpha, A, Atype, lda, B, Btype, ldb,
		&beta, C, Ctype, ldc, computeType, algo);
}

static int gbCublasHgemm(
	cublasHandle_t handle,
	int transa, int transb,
	int m, int n, int k,
	unsigned short alpha,
	void* A, int lda,
	void* B, int ldb,
	unsigned short beta,
	void* C, int ldc) {
	gbHalf ha = {alpha};
	gbHalf hb = {beta};
	return (int)cublasHgemm(handle, transa, transb, m, n, k,
		&ha, (const gbHalf*)A, lda, (const gbHalf*)B, ldb,
		&hb, (gbHalf*)C, ldc);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"
	"go.uber.org/zap"
)

// cuBLAS and CUDA library enumeration values.
const (
	cublasOpN = 0
	cublasOpT = 1

	cudaR32F  = 0
	cudaR16F  = 2
	cudaR16BF = 14

	cublasCompute32F  = 68
	cublasGemmDefault = -1
)

// CUDADriver binds the CUDA runtime and cuBLAS. cuBLAS has no solution index
// or flags parameter, so those fields of a GemmCall are ignored, and it has
// no solution list, so CUDADriver is not a SolutionLister.
type CUDADriver struct {
	logger *zap.Logger
}

// NewCUDADriver returns the CUDA driver.
func NewCUDADriver(logger *zap.Logger) *CUDADriver {
	return &CUDADriver{logger: logger}
}

func (d *CUDADriver) Name() string { return "cuda" }

func (d *CUDADriver) GetDeviceCount() (int, Status) {
	var n C.int
	st := Status(C.cudaGetDeviceCount(&n))
	return int(n), st
}

func (d *CUDADriver) GetDeviceProperties(index int) (DeviceProperties, Status) {
	if st := Status(C.cudaSetDevice(C.int(index))); !st.OK() {
		return DeviceProperties{}, st
	}
	var major, minor C.int
	if st := Status(C.gbCudaComputeCapability(C.int(index), &major, &minor)); !st.OK() {
		return DeviceProperties{}, st
	}
	var free, total C.size_t
	if st := Status(C.cudaMemGetInfo(&free, &total)); !st.OK() {
		return DeviceProperties{}, st
	}
	name := fmt.Sprintf("CUDA device %d", index)
	var buf [256]C.char
	if res := C.gbCudaDeviceName(C.int(index), &buf[0], C.int(len(buf))); res == 0 {
		name = C.GoString(&buf[0])
	} else {
		d.logger.Debug("cuDeviceGetName failed, using ordinal name", zap.Int("cu_result", int(res)))
	}
	return DeviceProperties{
		Name:             name,
		TotalMemoryBytes: uint64(total),
		ComputeMajor:     int32(major),
		ComputeMinor:     int32(minor),
	}, StatusSuccess
}

func (d *CUDADriver) Malloc(size uint64) (DevicePtr, Status) {
	var ptr unsafe.Pointer
	st := Status(C.cudaMalloc(&ptr, C.size_t(size)))
	return DevicePtr(ptr), st
}

func (d *CUDADriver) Free(ptr DevicePtr) Status {
	return Status(C.cudaFree(devicePointer(ptr)))
}

func (d *CUDADriver) MemcpyHostToDevice(dst DevicePtr, src []byte) Status {
	if len(src) == 0 {
		return StatusSuccess
	}
	return Status(C.gbCudaMemcpyHtoD(devicePointer(dst), unsafe.Pointer(&src[0]), C.size_t(len(src))))
}

func (d *CUDADriver) DeviceSynchronize() Status {
	return Status(C.cudaDeviceSynchronize())
}

func (d *CUDADriver) RuntimeStatusString(st Status) string {
	return C.GoString(C.cudaGetErrorString(C.cudaError_t(st)))
}

func (d *CUDADriver) CreateHandle() (HandlePtr, Status) {
	var h C.cublasHandle_t
	st := Status(C.cublasCreate_v2(&h))
	return HandlePtr(unsafe.Pointer(h)), st
}

func (d *CUDADriver) DestroyHandle(h HandlePtr) Status {
	return Status(C.cublasDestroy_v2(C.cublasHandle_t(devicePointer(DevicePtr(h)))))
}

func (d *CUDADriver) GemmEx(h HandlePtr, call GemmCall) Status {
	return Status(C.gbCublasGemmEx(
		C.cublasHandle_t(devicePointer(DevicePtr(h))),
		cublasOperation(call.OpA), cublasOperation(call.OpB),
		C.int(call.M), C.int(call.N), C.int(call.K),
		C.float(call.Alpha),
		devicePointer(call.A), cudaDatatype(call.TypeA), C.int(call.LDA),
		devicePointer(call.B), cudaDatatype(call.TypeB), C.int(call.LDB),
		C.float(call.Beta),
		devicePointer(call.C), cudaDatatype(call.TypeC), C.int(call.LDC),
		cublasCompute32F, cublasAlgorithm(call.Algorithm),
	))
}

// Hgemm calls cublasHgemm.
func (d *CUDADriver) Hgemm(h HandlePtr, call GemmCall) Status {
	return Status(C.gbCublasHgemm(
		C.cublasHandle_t(devicePointer(DevicePtr(h))),
		cublasOperation(call.OpA), cublasOperation(call.OpB),
		C.int(call.M), C.int(call.N), C.int(call.K),
		C.ushort(float16.Fromfloat32(call.Alpha).Bits()),
		devicePointer(call.A), C.int(call.LDA),
		devicePointer(call.B), C.int(call.LDB),
		C.ushort(float16.Fromfloat32(call.Beta).Bits()),
		devicePointer(call.C), C.int(call.LDC),
	))
}

func (d *CUDADriver) BLASStatusString(st Status) string {
	return C.GoString(C.cublasGetStatusString(C.cublasStatus_t(st)))
}

func (d *CUDADriver) Close() error { return nil }

func cublasOperation(op Operation) C.int {
	if op == OpTranspose {
		return cublasOpT
	}
	return cublasOpN
}

func cublasAlgorithm(a Algorithm) C.int {
	if a == AlgorithmDefault {
		return cublasGemmDefault
	}
	return C.int(a - 1)
}

func cudaDatatype(e ElementType) C.int {
	switch e {
	case F16:
		return cudaR16F
	case BF16:
		return cudaR16BF
	default:
		return cudaR32F
	}
}
