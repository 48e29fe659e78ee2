//go:build darwin

package soc

import "golang.org/x/sys/unix"

func sysctlString(name string) (string, error) {
	return unix.Sysctl(name)
}

func sysctlUint32(name string) (uint32, error) {
	return unix.SysctlUint32(name)
}
