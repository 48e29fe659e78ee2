//go:build !darwin

package soc

import "golang.org/x/sys/unix"

func sysctlString(string) (string, error) {
	return "", unix.ENOTSUP
}

func sysctlUint32(string) (uint32, error) {
	return 0, unix.ENOTSUP
}
