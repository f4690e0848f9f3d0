//go:build darwin || freebsd || linux

package deploy

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// entryFunc matches the generated calling convention
// int32_t f(const float *in, int32_t in_len, float *out, int32_t out_len).
type entryFunc func(in unsafe.Pointer, inLen int32, out unsafe.Pointer, outLen int32) int32

// library holds a dlopen handle with both entry points bound.
type library struct {
	handle  uintptr
	predict entryFunc
	proba   entryFunc
}

func openLibrary(path, predictSymbol, probaSymbol string) (*library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	lib := &library{handle: handle}
	if lib.predict, err = bindSymbol(handle, path, predictSymbol); err != nil {
		_ = purego.Dlclose(handle)
		return nil, err
	}
	if lib.proba, err = bindSymbol(handle, path, probaSymbol); err != nil {
		_ = purego.Dlclose(handle)
		return nil, err
	}
	return lib, nil
}

func bindSymbol(handle uintptr, path, symbol string) (entryFunc, error) {
	addr, err := purego.Dlsym(handle, symbol)
	if err != nil {
		return nil, &LoadError{Path: path, Symbol: symbol, Err: err}
	}
	var fn entryFunc
	purego.RegisterFunc(&fn, addr)
	return fn, nil
}

// close releases the handle. Callers that must keep the mapping alive for
// the rest of the process simply never call it.
func (l *library) close() error {
	if l.handle == 0 {
		return nil
	}
	if err := purego.Dlclose(l.handle); err != nil {
		return fmt.Errorf("closing library: %w", err)
	}
	l.handle = 0
	return nil
}
