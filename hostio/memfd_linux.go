//go:build linux

package hostio

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NewAnonymousFileSource creates a file-backed ObjectSource with no
// directory entry, copies data into it, and returns it ready for use as
// the src argument to LoadDylib. This is the same anonymous-backing-store
// shape as the teacher's createAnonymousLibraryFD in memmod_linux.go
// (preferring O_TMPFILE on tmpfs, falling back to create-then-unlink),
// generalized from "stage a .so for dlopen" to "stage any ELF payload an
// ObjectSource can point at" — useful when a caller only has an in-memory
// image but wants the fd-backed direct-mapping path in mmap_linux.go
// instead of the read-then-copy fallback.
func NewAnonymousFileSource(name string, data []byte) (*FileSource, error) {
	fd, err := createAnonymousFD()
	if err != nil {
		return nil, fmt.Errorf("hostio: create anonymous backing store: %w", err)
	}
	f := os.NewFile(uintptr(fd), name)
	if f == nil {
		unix.Close(fd)
		return nil, errors.New("hostio: os.NewFile returned nil for anonymous fd")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("hostio: write anonymous backing store: %w", err)
	}
	return &FileSource{name: name, f: f}, nil
}

func createAnonymousFD() (int, error) {
	fd, err := unix.Open("/dev/shm", unix.O_RDWR|unix.O_CLOEXEC|unix.O_TMPFILE, 0o600)
	if err == nil {
		return fd, nil
	}

	f, tmpErr := os.CreateTemp("/dev/shm", "elfcore-*")
	if tmpErr != nil {
		return -1, errors.Join(err, tmpErr)
	}
	name := f.Name()
	if rmErr := os.Remove(name); rmErr != nil {
		_ = f.Close()
		return -1, fmt.Errorf("unlink temp backing file %s: %w", name, rmErr)
	}
	dupFD, dupErr := unix.Dup(int(f.Fd()))
	if closeErr := f.Close(); closeErr != nil && dupErr == nil {
		return -1, fmt.Errorf("close temp backing file %s: %w", name, closeErr)
	}
	if dupErr != nil {
		return -1, fmt.Errorf("dup temp backing fd: %w", dupErr)
	}
	return dupFD, nil
}
