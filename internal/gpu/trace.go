package gpu

import (
	"time"

	"go.uber.org/zap"
)

// Traced wraps drv so every call is logged at debug level with its status and
// duration. It replaces the vendor runtime's own API trace when that is not
// available.
func Traced(drv Driver, logger *zap.Logger) Driver {
	return &tracedDriver{Driver: drv, logger: logger.Named("trace").With(zap.String("driver", drv.Name()))}
}

type tracedDriver struct {
	Driver
	logger *zap.Logger
}

func (t *tracedDriver) log(op string, start time.Time, st Status, fields ...zap.Field) {
	fields = append(fields,
		zap.Int32("status", int32(st)),
		zap.Duration("took", time.Since(start)))
	t.logger.Debug(op, fields...)
}

func (t *tracedDriver) GetDeviceCount() (int, Status) {
	start := time.Now()
	n, st := t.Driver.GetDeviceCount()
	t.log("GetDeviceCount", start, st, zap.Int("count", n))
	return n, st
}

func (t *tracedDriver) GetDeviceProperties(index int) (DeviceProperties, Status) {
	start := time.Now()
	p, st := t.Driver.GetDeviceProperties(index)
	t.log("GetDeviceProperties", start, st, zap.Int("index", index))
	return p, st
}

func (t *tracedDriver) Malloc(size uint64) (DevicePtr, Status) {
	start := time.Now()
	ptr, st := t.Driver.Malloc(size)
	t.log("Malloc", start, st, zap.Uint64("bytes", size), zap.Uintptr("ptr", uintptr(ptr)))
	return ptr, st
}

func (t *tracedDriver) Free(ptr DevicePtr) Status {
	start := time.Now()
	st := t.Driver.Free(ptr)
	t.log("Free", start, st, zap.Uintptr("ptr", uintptr(ptr)))
	return st
}

func (t *tracedDriver) MemcpyHostToDevice(dst DevicePtr, src []byte) Status {
	start := time.Now()
	st := t.Driver.MemcpyHostToDevice(dst, src)
	t.log("MemcpyHostToDevice", start, st, zap.Uintptr("dst", uintptr(dst)), zap.Int("bytes", len(src)))
	return st
}

func (t *tracedDriver) DeviceSynchronize() Status {
	start := time.Now()
	st := t.Driver.DeviceSynchronize()
	t.log("DeviceSynchronize", start, st)
	return st
}

func (t *tracedDriver) CreateHandle() (HandlePtr, Status) {
	start := time.Now()
	h, st := t.Driver.CreateHandle()
	t.log("CreateHandle", start, st)
	return h, st
}

func (t *tracedDriver) DestroyHandle(h HandlePtr) Status {
	start := time.Now()
	st := t.Driver.DestroyHandle(h)
	t.log("DestroyHandle", start, st)
	return st
}

func (t *tracedDriver) GemmEx(h HandlePtr, call GemmCall) Status {
	start := time.Now()
	st := t.Driver.GemmEx(h, call)
	t.log("GemmEx", start, st,
		zap.String("ops", call.OpA.String()+call.OpB.String()),
		zap.Int("m", call.M), zap.Int("n", call.N), zap.Int("k", call.K),
		zap.Int("lda", call.LDA), zap.Int("ldb", call.LDB), zap.Int("ldc", call.LDC),
		zap.Stringer("dtype", call.TypeA))
	return st
}

func (t *tracedDriver) Hgemm(h HandlePtr, call GemmCall) Status {
	start := time.Now()
	st := t.Driver.(HalfGemmer).Hgemm(h, call)
	t.log("Hgemm", start, st,
		zap.String("ops", call.OpA.String()+call.OpB.String()),
		zap.Int("m", call.M), zap.Int("n", call.N), zap.Int("k", call.K))
	return st
}

func (t *tracedDriver) GemmSolutions(h HandlePtr, call GemmCall) ([]Solution, Status) {
	start := time.Now()
	sols, st := t.Driver.(SolutionLister).GemmSolutions(h, call)
	t.log("GemmSolutions", start, st,
		zap.Int("m", call.M), zap.Int("n", call.N), zap.Int("k", call.K),
		zap.Int("count", len(sols)))
	return sols, st
}
