//go:build linux

package device

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type ttyPort struct {
	fd      int
	timeout time.Duration
}

func openPort(path string, baud int, timeout time.Duration) (port, error) {
	flag := unix.O_RDWR | unix.O_NOCTTY | unix.O_CLOEXEC
	fd, err := unix.Open(path, flag, 0)
	if err != nil {
		return nil, err
	}

	// Best-effort: if anything below fails, close fd.
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}

	spd, err := baudToUnix(baud)
	if err != nil {
		return nil, err
	}

	// Raw mode: UBX is binary, so no line processing or flow control.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// Reads are gated by poll(2); once readable, return what is there.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, err
	}
	// Drop whatever queued up before we configured the line.
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)

	ok = true
	return &ttyPort{fd: fd, timeout: timeout}, nil
}

// Read waits up to the read timeout. It returns (0, nil) on timeout and an
// error on hangup, which is how a USB receiver reports being unplugged.
func (p *ttyPort) Read(b []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(p.timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
		break
	}
	re := fds[0].Revents
	if re&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 && re&unix.POLLIN == 0 {
		return 0, fmt.Errorf("poll revents=0x%x", re)
	}
	n, err := unix.Read(p.fd, b)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("hangup")
	}
	return n, nil
}

func (p *ttyPort) Write(b []byte) (int, error) {
	return unix.Write(p.fd, b)
}

func (p *ttyPort) Close() error {
	return unix.Close(p.fd)
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}
