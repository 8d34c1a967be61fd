package ptt

import "golang.org/x/sys/unix"

// configureTerminal 关闭ICANON和ECHO，输出处理保持不变，日志照常换行
func configureTerminal(fd int) (func() error, error) {
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}

	modified := *saved
	modified.Lflag &^= unix.ICANON | unix.ECHO
	modified.Cc[unix.VMIN] = 1
	modified.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &modified); err != nil {
		return nil, err
	}

	return func() error {
		return unix.IoctlSetTermios(fd, unix.TCSETS, saved)
	}, nil
}
