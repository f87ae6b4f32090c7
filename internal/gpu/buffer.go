package gpu

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// MatrixBytes returns the size of a densely packed rows×cols matrix.
func MatrixBytes(rows, cols int, elementSize uint64) uint64 {
	return uint64(rows) * uint64(cols) * elementSize
}

// DeviceBuffer is one block of device memory holding a matrix operand.
// It is owned by a single sweep iteration and freed exactly once.
type DeviceBuffer struct {
	ptr   DevicePtr
	size  uint64
	elem  ElementType
	freed bool
}

// Ptr returns the device address.
func (b *DeviceBuffer) Ptr() DevicePtr { return b.ptr }

// Size returns the allocation size in bytes.
func (b *DeviceBuffer) Size() uint64 { return b.size }

// ElementType returns the storage type of the operand.
func (b *DeviceBuffer) ElementType() ElementType { return b.elem }

// Allocate reserves size bytes of device memory. A refused allocation is
// reported as ErrOutOfDeviceMemory; large shapes are expected to hit this.
func (d *Device) Allocate(size uint64, elem ElementType) (*DeviceBuffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-byte allocation", ErrInvalidArgument)
	}
	ptr, st := d.drv.Malloc(size)
	if !st.OK() {
		return nil, runtimeErr(d.drv, KindOutOfDeviceMemory, fmt.Sprintf("allocate %d bytes", size), st)
	}
	d.addResident(size)
	d.logger.Debug("Allocated device buffer", zap.Uint64("bytes", size), zap.Stringer("dtype", elem))
	return &DeviceBuffer{ptr: ptr, size: size, elem: elem}, nil
}

// Upload copies host into buf synchronously. host must not be larger than
// the buffer.
func (d *Device) Upload(buf *DeviceBuffer, host []byte) error {
	if buf == nil || buf.freed {
		return ErrBufferReleased
	}
	if uint64(len(host)) > buf.size {
		return fmt.Errorf("%w: upload of %d bytes into %d-byte buffer", ErrInvalidArgument, len(host), buf.size)
	}
	if st := d.drv.MemcpyHostToDevice(buf.ptr, host); !st.OK() {
		return runtimeErr(d.drv, KindTransferFailed, fmt.Sprintf("copy %d bytes to device", len(host)), st)
	}
	return nil
}

// Free releases buf. Freeing the same buffer twice returns ErrBufferReleased
// without touching the runtime.
func (d *Device) Free(buf *DeviceBuffer) error {
	if buf == nil || buf.freed {
		return ErrBufferReleased
	}
	buf.freed = true
	d.subResident(buf.size)
	if st := d.drv.Free(buf.ptr); !st.OK() {
		return runtimeErr(d.drv, KindUnknown, fmt.Sprintf("free %d bytes", buf.size), st)
	}
	return nil
}

// Operands are the three buffers of one GEMM: A(m×k), B(k×n) and C(m×n).
type Operands struct {
	dev     *Device
	A, B, C *DeviceBuffer
}

// AllocateOperands allocates A, B and C for an m×n×k problem, in that order.
// If any allocation fails, the buffers already allocated are freed before
// the error is returned, so a failed call leaves nothing resident.
func (d *Device) AllocateOperands(m, n, k int, elem ElementType) (*Operands, error) {
	if m <= 0 || n <= 0 || k <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%dx%d", ErrInvalidArgument, m, n, k)
	}
	ops := &Operands{dev: d}
	sizes := []struct {
		dst  **DeviceBuffer
		name string
		size uint64
	}{
		{&ops.A, "A", MatrixBytes(m, k, elem.Size())},
		{&ops.B, "B", MatrixBytes(k, n, elem.Size())},
		{&ops.C, "C", MatrixBytes(m, n, elem.Size())},
	}
	for _, s := range sizes {
		buf, err := d.Allocate(s.size, elem)
		if err != nil {
			err = fmt.Errorf("operand %s: %w", s.name, err)
			return nil, errors.Join(err, ops.Release())
		}
		*s.dst = buf
	}
	return ops, nil
}

// Release frees every buffer of the set that is still resident. It is safe
// to call on a partially allocated set, and calling it again is a no-op.
func (o *Operands) Release() error {
	var errs []error
	for _, buf := range []*DeviceBuffer{o.A, o.B, o.C} {
		if buf == nil || buf.freed {
			continue
		}
		if err := o.dev.Free(buf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bytes returns the total size of the allocated buffers.
func (o *Operands) Bytes() uint64 {
	var total uint64
	for _, buf := range []*DeviceBuffer{o.A, o.B, o.C} {
		if buf != nil {
			total += buf.size
		}
	}
	return total
}
