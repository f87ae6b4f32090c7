//go:build rocm || cuda
// +build rocm cuda

package gpu

import "unsafe"

// devicePointer converts an opaque address back for a cgo call. The address
// was produced by the vendor runtime and is never dereferenced in Go.
func devicePointer(p DevicePtr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p)) //nolint:govet
}
