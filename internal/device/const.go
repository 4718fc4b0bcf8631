// Package device owns the kernel character device handle for the
// detachable-base protocol: synchronous control operations plus a lazy,
// decoded event stream.
package device

// Default path of the character device exposing the detachment protocol.
const DefaultPath = "/dev/surface/dtx"

// Ioctl command numbers, type byte 0xa5, as defined by the kernel driver.
const (
	cmdEventsEnable   = 0x21
	cmdEventsDisable  = 0x22
	cmdLatchLock      = 0x23
	cmdLatchUnlock    = 0x24
	cmdLatchRequest   = 0x25
	cmdLatchConfirm   = 0x26
	cmdLatchHeartbeat = 0x27
	cmdLatchCancel    = 0x28
	cmdGetBaseInfo    = 0x29
	cmdGetDeviceMode  = 0x2a
	cmdGetLatchStatus = 0x2b
)

// Raw status codes carried in ioctl payloads and event frames.
const (
	rawBaseDetached    = 0
	rawBaseAttached    = 1
	rawBaseNotFeasible = 0x1001

	rawLatchClosed = 0
	rawLatchOpened = 1

	rawModeTablet = 0
	rawModeLaptop = 1
	rawModeStudio = 2

	rawErrNotFeasible = 0x1001
	rawErrTimeout     = 0x1002
)

// Event codes carried in the RawEvent header.
const (
	evCodeRequest        = 1
	evCodeCancel         = 2
	evCodeBaseConnection = 3
	evCodeLatchStatus    = 4
	evCodeDeviceMode     = 5
)
