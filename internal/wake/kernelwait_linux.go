//go:build linux

package wake

import (
	"time"

	"golang.org/x/sys/unix"
)

// kernelWait is the Linux backing for Flag's kernel wait/wake step: a
// blocking (non-EFD_NONBLOCK) eventfd. A post writes 1, which either wakes
// a thread parked in unix.Read or is absorbed as a pending count of 1 for
// the next reader - exactly the single-slot semantics Flag's CAS already
// enforces, so the eventfd counter itself never needs to exceed 1.
type kernelWait struct {
	fd int
}

func (k *kernelWait) init() error {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return err
	}
	k.fd = fd
	return nil
}

func (k *kernelWait) close() error {
	if k.fd < 0 {
		return nil
	}
	fd := k.fd
	k.fd = -1
	return unix.Close(fd)
}

func (k *kernelWait) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(k.fd, buf[:])
	return err
}

// block waits for a pending wake, or for remaining to elapse (remaining < 0
// means wait indefinitely). Returns timedOut=true if remaining elapsed
// first. unix.Select is used rather than a raw blocking read so that a
// positive timeout can be honoured without spawning a helper goroutine per
// wait.
func (k *kernelWait) block(remaining time.Duration) (timedOut bool, err error) {
	var rfds unix.FdSet
	fdSetOne(&rfds, k.fd)

	var tv *unix.Timeval
	if remaining >= 0 {
		t := unix.NsecToTimeval(remaining.Nanoseconds())
		tv = &t
	}

	for {
		n, err := unix.Select(k.fd+1, &rfds, nil, nil, tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return true, nil
		}
		break
	}

	var buf [8]byte
	_, err = unix.Read(k.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return false, err
	}
	return false, nil
}

func fdSetOne(set *unix.FdSet, fd int) {
	idx := fd / 64
	bit := uint(fd % 64)
	set.Bits[idx] = 1 << bit
}
