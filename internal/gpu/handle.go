package gpu

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ComputeHandle is the BLAS context bound to the device. It owns no matrix
// data. Calls through one handle are serialized, and the handle refuses any
// use after Destroy.
type ComputeHandle struct {
	dev *Device
	ptr HandlePtr

	mu        sync.Mutex
	destroyed bool
}

// CreateHandle creates the BLAS context. The caller must pair it with exactly
// one Destroy on every exit path.
func (d *Device) CreateHandle() (*ComputeHandle, error) {
	ptr, st := d.drv.CreateHandle()
	if !st.OK() {
		return nil, blasErr(d.drv, KindHandleCreationFailed, "create blas handle", st)
	}
	d.logger.Debug("Created compute handle", zap.String("driver", d.drv.Name()))
	return &ComputeHandle{dev: d, ptr: ptr}, nil
}

// Destroy releases the context. A second call returns ErrHandleDestroyed and
// does not reach the library.
func (h *ComputeHandle) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrHandleDestroyed
	}
	h.destroyed = true
	if st := h.dev.drv.DestroyHandle(h.ptr); !st.OK() {
		return blasErr(h.dev.drv, KindUnknown, "destroy blas handle", st)
	}
	h.dev.logger.Debug("Destroyed compute handle")
	return nil
}

// Destroyed reports whether Destroy has been called.
func (h *ComputeHandle) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// Gemm issues one extended GEMM call. It returns once the call has been
// enqueued; completion is only observable through Device.Synchronize.
func (h *ComputeHandle) Gemm(p GemmParams) error {
	return h.issue("gemm", p, h.dev.drv.GemmEx)
}

// Hgemm issues one call through the library's simple half-precision entry
// point. All three operands must be F16.
func (h *ComputeHandle) Hgemm(p GemmParams) error {
	hg, ok := extension[HalfGemmer](h.dev.drv)
	if !ok {
		return fmt.Errorf("%w: %s has no half-precision gemm", ErrUnsupported, h.dev.drv.Name())
	}
	if p.TypeA != F16 || p.TypeB != F16 || p.TypeC != F16 {
		return fmt.Errorf("%w: hgemm needs f16 operands, got %s", ErrInvalidArgument, p.TypeA)
	}
	return h.issue("hgemm", p, hg.Hgemm)
}

func (h *ComputeHandle) issue(name string, p GemmParams, fn func(HandlePtr, GemmCall) Status) error {
	call, err := p.call()
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrHandleDestroyed
	}
	if st := fn(h.ptr, call); !st.OK() {
		return blasErr(h.dev.drv, KindGemmCallFailed,
			fmt.Sprintf("%s %s%s m=%d n=%d k=%d", name, call.OpA, call.OpB, call.M, call.N, call.K), st)
	}
	return nil
}

// Solutions lists the kernel solutions the library accepts for p, at most
// limit of them when limit is positive.
func (h *ComputeHandle) Solutions(p GemmParams, limit int) ([]Solution, error) {
	sl, ok := extension[SolutionLister](h.dev.drv)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot list gemm solutions", ErrUnsupported, h.dev.drv.Name())
	}
	call, err := p.call()
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, ErrHandleDestroyed
	}
	sols, st := sl.GemmSolutions(h.ptr, call)
	if !st.OK() {
		return nil, blasErr(h.dev.drv, KindGemmCallFailed,
			fmt.Sprintf("list gemm solutions m=%d n=%d k=%d", call.M, call.N, call.K), st)
	}
	if limit > 0 && len(sols) > limit {
		sols = sols[:limit]
	}
	h.dev.logger.Debug("Listed gemm solutions", zap.Int("count", len(sols)))
	return sols, nil
}
