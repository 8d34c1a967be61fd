//go:build !linux

package ptt

import "golang.org/x/term"

func configureTerminal(fd int) (func() error, error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error { return term.Restore(fd, state) }, nil
}
