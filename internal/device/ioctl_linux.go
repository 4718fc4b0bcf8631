package device

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Classic _IO/_IOR ioctl command-number encoding, mirrored on the teacher's
// uapi.IoctlEncode helper but fixed to this driver's type byte (0xa5).
const (
	iocNone = 0
	iocRead = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	ioctlMagic = 0xa5
)

func ioctlEncode(dir, nr, size uint32) uint32 {
	return (dir << iocDirShift) |
		(size << iocSizeShift) |
		(uint32(ioctlMagic) << iocTypeShift) |
		(nr << iocNrShift)
}

// io_ builds a no-payload control command number.
func io_(nr uint32) uint32 {
	return ioctlEncode(iocNone, nr, 0)
}

// ior builds a read-direction command number carrying a payload of size
// bytes.
func ior(nr, size uint32) uint32 {
	return ioctlEncode(iocRead, nr, size)
}

// ioctl issues a raw ioctl(2) via unix.Syscall, following the teacher's
// raw-syscall-plus-structured-error style in internal/ctrl: every kernel
// call is wrapped so callers never touch errno directly.
func ioctl(fd int, cmd uint32, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(cmd), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlNoPayload(fd int, nr uint32) error {
	return ioctl(fd, io_(nr), nil)
}

func ioctlRead(fd int, nr uint32, buf []byte) error {
	return ioctl(fd, ior(nr, uint32(len(buf))), unsafe.Pointer(&buf[0]))
}
