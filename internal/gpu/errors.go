package gpu

import (
	"errors"
	"fmt"
)

var (
	// ErrRuntimeUnavailable means the runtime could not be reached or reports
	// no devices. Fatal to the whole run.
	ErrRuntimeUnavailable = errors.New("gpu runtime unavailable")
	// ErrDeviceQueryFailed means a device property query failed. Fatal.
	ErrDeviceQueryFailed = errors.New("device query failed")
	// ErrHandleCreationFailed means the BLAS context could not be created. Fatal.
	ErrHandleCreationFailed = errors.New("compute handle creation failed")
	// ErrOutOfDeviceMemory means an allocation was refused. Recoverable per shape.
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	// ErrTransferFailed means a host-to-device copy failed. Recoverable per shape.
	ErrTransferFailed = errors.New("host to device transfer failed")
	// ErrGemmCallFailed means a GEMM call or the barrier following it failed.
	// Recoverable per shape.
	ErrGemmCallFailed = errors.New("gemm call failed")

	ErrHandleDestroyed = errors.New("compute handle already destroyed")
	ErrBufferReleased  = errors.New("device buffer already freed")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupported means the driver does not bind the requested entry point.
	ErrUnsupported = errors.New("not supported by driver")
)

// Kind classifies a failure for reporting.
type Kind int

const (
	KindUnknown Kind = iota
	KindRuntimeUnavailable
	KindDeviceQueryFailed
	KindHandleCreationFailed
	KindOutOfDeviceMemory
	KindTransferFailed
	KindGemmCallFailed
)

var kindSentinels = map[Kind]error{
	KindRuntimeUnavailable:   ErrRuntimeUnavailable,
	KindDeviceQueryFailed:    ErrDeviceQueryFailed,
	KindHandleCreationFailed: ErrHandleCreationFailed,
	KindOutOfDeviceMemory:    ErrOutOfDeviceMemory,
	KindTransferFailed:       ErrTransferFailed,
	KindGemmCallFailed:       ErrGemmCallFailed,
}

func (k Kind) String() string {
	switch k {
	case KindRuntimeUnavailable:
		return "RuntimeUnavailable"
	case KindDeviceQueryFailed:
		return "DeviceQueryFailed"
	case KindHandleCreationFailed:
		return "HandleCreationFailed"
	case KindOutOfDeviceMemory:
		return "OutOfDeviceMemory"
	case KindTransferFailed:
		return "TransferFailed"
	case KindGemmCallFailed:
		return "GemmCallFailed"
	default:
		return "Unknown"
	}
}

// MarshalText lets kinds appear by name in exported reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Fatal reports whether a failure of this kind must abort the whole run.
func (k Kind) Fatal() bool {
	switch k {
	case KindRuntimeUnavailable, KindDeviceQueryFailed, KindHandleCreationFailed:
		return true
	default:
		return false
	}
}

// StatusError is a non-success status mapped at the driver boundary.
type StatusError struct {
	Kind   Kind
	Op     string
	Status Status
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s failed with status %d", e.Kind, e.Op, int32(e.Status))
	}
	return fmt.Sprintf("%s: %s failed with status %d (%s)", e.Kind, e.Op, int32(e.Status), e.Detail)
}

// Is matches the sentinel error of the same kind.
func (e *StatusError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Kind
	}
	for kind := KindRuntimeUnavailable; kind <= KindGemmCallFailed; kind++ {
		if errors.Is(err, kindSentinels[kind]) {
			return kind
		}
	}
	return KindUnknown
}

func runtimeErr(drv Driver, kind Kind, op string, st Status) error {
	return &StatusError{Kind: kind, Op: op, Status: st, Detail: drv.RuntimeStatusString(st)}
}

func blasErr(drv Driver, kind Kind, op string, st Status) error {
	return &StatusError{Kind: kind, Op: op, Status: st, Detail: drv.BLASStatusString(st)}
}
