//go:build linux

package hostio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/basaltwire/elfcore"
)

// LinuxMmap implements elfcore.Mmap on top of golang.org/x/sys/unix, the
// same dependency the teacher reaches for on every platform-specific file
// (memmod_darwin.go's unix.Mmap calls). unix.Mmap's wrapper has no address
// parameter, so placing a mapping at a specific address within an already
// reserved Region goes through the raw mmap(2) syscall directly with
// MAP_FIXED, the same low-level-syscall style the pack's PS4 loader example
// uses for its own MAP_FIXED segment placement. Reserve's fixed-address
// case uses MAP_FIXED_NOREPLACE instead, so a request for an address
// that's already in use fails cleanly rather than clobbering it.
type LinuxMmap struct{}

func protToUnix(p elfcore.Prot) int {
	var f int
	if p&elfcore.ProtRead != 0 {
		f |= unix.PROT_READ
	}
	if p&elfcore.ProtWrite != 0 {
		f |= unix.PROT_WRITE
	}
	if p&elfcore.ProtExec != 0 {
		f |= unix.PROT_EXEC
	}
	return f
}

func rawMmap(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	ret, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length,
		uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

func (LinuxMmap) Reserve(size uintptr, atAddr uintptr) (elfcore.Region, error) {
	if atAddr == 0 {
		addr, err := rawMmap(0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE, -1, 0)
		if err != nil {
			return elfcore.Region{}, fmt.Errorf("hostio: reserve %d bytes: %w", size, err)
		}
		return elfcore.Region{Addr: addr, Size: size}, nil
	}

	// MAP_FIXED_NOREPLACE refuses the mapping instead of silently
	// clobbering an existing one when atAddr isn't free, matching spec
	// section 4.2 step 2's "fail if that range is unavailable" requirement
	// for fixed-load ELFs.
	addr, err := rawMmap(atAddr, size, unix.PROT_NONE,
		unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_FIXED_NOREPLACE, -1, 0)
	if err != nil {
		return elfcore.Region{}, fmt.Errorf("hostio: reserve %d bytes at %#x: %w", size, atAddr, err)
	}
	return elfcore.Region{Addr: addr, Size: size}, nil
}

func (LinuxMmap) MapFile(r elfcore.Region, regionOffset uintptr, length uintptr, src elfcore.ObjectSource, fileOffset int64, prot elfcore.Prot) error {
	addr := r.Addr + regionOffset
	if fdSrc, ok := src.(elfcore.FDSource); ok {
		if fd, ok := fdSrc.Fd(); ok {
			_, err := rawMmap(addr, length, protToUnix(prot)|unix.PROT_WRITE,
				unix.MAP_FIXED|unix.MAP_PRIVATE, int(fd), fileOffset)
			if err == nil {
				return nil
			}
			// Some sources hand back an fd that can't back a file mapping
			// (a memfd without the right seals, a pipe). Fall back to a
			// read-then-copy against an anonymous mapping at the same
			// fixed address, same as the teacher falls back to a plain
			// byte copy when its preferred fd-backed path isn't available.
		}
	}

	if _, err := rawMmap(addr, length, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_FIXED|unix.MAP_ANON|unix.MAP_PRIVATE, -1, 0); err != nil {
		return fmt.Errorf("hostio: map anon fallback at %#x: %w", addr, err)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
	n, err := src.ReadAt(dst, fileOffset)
	if err != nil && n == 0 {
		return fmt.Errorf("hostio: read backing file at offset %d: %w", fileOffset, err)
	}
	if prot&elfcore.ProtWrite == 0 {
		if err := unix.Mprotect(dst, protToUnix(prot)); err != nil {
			return fmt.Errorf("hostio: protect mapped file region: %w", err)
		}
	}
	return nil
}

func (LinuxMmap) MapAnon(r elfcore.Region, regionOffset uintptr, length uintptr, prot elfcore.Prot) error {
	addr := r.Addr + regionOffset
	if _, err := rawMmap(addr, length, protToUnix(prot),
		unix.MAP_FIXED|unix.MAP_ANON|unix.MAP_PRIVATE, -1, 0); err != nil {
		return fmt.Errorf("hostio: map anon at %#x: %w", addr, err)
	}
	return nil
}

func (LinuxMmap) Protect(addr uintptr, length uintptr, prot elfcore.Prot) error {
	slice := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
	if err := unix.Mprotect(slice, protToUnix(prot)); err != nil {
		return fmt.Errorf("hostio: mprotect %#x+%d: %w", addr, length, err)
	}
	return nil
}

func (LinuxMmap) Unmap(r elfcore.Region) error {
	slice := unsafe.Slice((*byte)(unsafe.Pointer(r.Addr)), int(r.Size))
	if err := unix.Munmap(slice); err != nil {
		return fmt.Errorf("hostio: unmap %#x+%d: %w", r.Addr, r.Size, err)
	}
	return nil
}
