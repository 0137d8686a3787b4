package gpu

import "errors"

var (
	// ErrOutOfMemory is returned when a buffer allocation would exceed the
	// device memory budget.
	ErrOutOfMemory = errors.New("gpu: out of device memory")

	// ErrWorkgroupCountZero is returned for a dispatch with a zero workgroup
	// count on any axis.
	ErrWorkgroupCountZero = errors.New("gpu: workgroup count must be non-zero")

	// ErrUnknownHandle is returned when a command references a resource that
	// was never created or has already been released.
	ErrUnknownHandle = errors.New("gpu: unknown resource handle")

	// ErrHandleInUse is returned when a create command reuses a live handle.
	ErrHandleInUse = errors.New("gpu: handle already in use")

	// ErrSizeMismatch is returned when copy source and destination differ in size.
	ErrSizeMismatch = errors.New("gpu: size mismatch")

	// ErrInvalidUsage is returned when a resource is used in a way its usage
	// flags do not allow.
	ErrInvalidUsage = errors.New("gpu: resource usage not allowed")

	// ErrDeviceClosed is returned for work submitted after Close.
	ErrDeviceClosed = errors.New("gpu: device closed")
)
