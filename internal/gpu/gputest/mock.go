package gputest

import (
	"github.com/stretchr/testify/mock"

	"github.com/fxnlabs/gemmbench/internal/gpu"
)

// MockDriver is a testify mock of gpu.Driver for asserting exact call
// arguments. Status strings are not mocked.
type MockDriver struct {
	mock.Mock
}

var _ gpu.Driver = (*MockDriver)(nil)

func (m *MockDriver) Name() string { return "mock" }

func (m *MockDriver) GetDeviceCount() (int, gpu.Status) {
	args := m.Called()
	return args.Int(0), args.Get(1).(gpu.Status)
}

func (m *MockDriver) GetDeviceProperties(index int) (gpu.DeviceProperties, gpu.Status) {
	args := m.Called(index)
	return args.Get(0).(gpu.DeviceProperties), args.Get(1).(gpu.Status)
}

func (m *MockDriver) Malloc(size uint64) (gpu.DevicePtr, gpu.Status) {
	args := m.Called(size)
	return args.Get(0).(gpu.DevicePtr), args.Get(1).(gpu.Status)
}

func (m *MockDriver) Free(ptr gpu.DevicePtr) gpu.Status {
	args := m.Called(ptr)
	return args.Get(0).(gpu.Status)
}

func (m *MockDriver) MemcpyHostToDevice(dst gpu.DevicePtr, src []byte) gpu.Status {
	args := m.Called(dst, src)
	return args.Get(0).(gpu.Status)
}

func (m *MockDriver) DeviceSynchronize() gpu.Status {
	args := m.Called()
	return args.Get(0).(gpu.Status)
}

func (m *MockDriver) RuntimeStatusString(st gpu.Status) string {
	return statusString(st)
}

func (m *MockDriver) CreateHandle() (gpu.HandlePtr, gpu.Status) {
	args := m.Called()
	return args.Get(0).(gpu.HandlePtr), args.Get(1).(gpu.Status)
}

func (m *MockDriver) DestroyHandle(h gpu.HandlePtr) gpu.Status {
	args := m.Called(h)
	return args.Get(0).(gpu.Status)
}

func (m *MockDriver) GemmEx(h gpu.HandlePtr, call gpu.GemmCall) gpu.Status {
	args := m.Called(h, call)
	return args.Get(0).(gpu.Status)
}

func (m *MockDriver) BLASStatusString(st gpu.Status) string {
	return statusString(st)
}

func (m *MockDriver) Close() error {
	args := m.Called()
	return args.Error(0)
}
