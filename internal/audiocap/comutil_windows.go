//go:build windows

package audiocap

import (
	"fmt"
	"syscall"
	"unsafe"
)

// comGUID is a COM GUID (128-bit), laid out to match Windows' GUID struct.
// Duplicated from internal/capture's comutil_windows.go: each package that
// makes raw COM calls keeps its own small vtable helper rather than sharing
// one across platform-specific files in different packages.
type comGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

var ole32DLL = syscall.NewLazyDLL("ole32.dll")
var procCoTaskMemFree = ole32DLL.NewProc("CoTaskMemFree")

// comCall invokes a COM vtable method at the given index.
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	fnPtr := comVtblFn(obj, vtableIdx)

	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(fnPtr, allArgs...)

	if int32(ret) < 0 {
		return ret, fmt.Errorf("COM vtable[%d] HRESULT 0x%08X", vtableIdx, uint32(ret))
	}
	return ret, nil
}

// comVtblFn resolves the function pointer at vtableIdx without invoking it,
// for call sites (syscall.SyscallN) that need extra trailing arguments
// comCall's variadic form doesn't thread through cleanly.
func comVtblFn(obj uintptr, vtableIdx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(vtableIdx)*unsafe.Sizeof(uintptr(0))))
}

// comRelease calls IUnknown::Release (vtable index 2).
func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, 2), obj)
	}
}
