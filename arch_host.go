package elfcore

import "runtime"

// hostMachineKind is resolved once from runtime.GOARCH, the same way the
// teacher's currentELFMachine (memmod_linux.go) maps runtime.GOARCH to a
// single debug/elf.Machine value; here it feeds the three-way arch table
// instead of a single-arch check.
var hostMachineKind = func() MachineKind {
	switch runtime.GOARCH {
	case "amd64":
		return MachineX86_64
	case "386":
		return MachineX86
	case "arm64":
		return MachineAArch64
	default:
		return MachineUnknown
	}
}()
