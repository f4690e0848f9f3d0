//go:build !(darwin || freebsd || linux)

package deploy

import (
	"errors"
	"unsafe"
)

type entryFunc func(in unsafe.Pointer, inLen int32, out unsafe.Pointer, outLen int32) int32

type library struct {
	handle  uintptr
	predict entryFunc
	proba   entryFunc
}

func openLibrary(path, _, _ string) (*library, error) {
	return nil, &LoadError{Path: path, Err: errors.New("pymodule and loadable need a POSIX dynamic loader, use the inline method on this platform")}
}

func (l *library) close() error {
	return nil
}
