//go:build windows

package capture

import (
	"fmt"
	"syscall"
	"unsafe"
)

// comGUID is a COM GUID (128-bit), laid out to match Windows' GUID struct.
type comGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// comCall invokes a COM vtable method at the given index. obj is a pointer
// to a COM interface (pointer to pointer to vtable). Grounded on the
// teacher's comutil_windows.go comCall helper.
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	fnPtr := *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(vtableIdx)*unsafe.Sizeof(uintptr(0))))

	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(fnPtr, allArgs...)

	if int32(ret) < 0 {
		return ret, fmt.Errorf("COM vtable[%d] HRESULT 0x%08X", vtableIdx, uint32(ret))
	}
	return ret, nil
}

// comRelease calls IUnknown::Release (vtable index 2).
func comRelease(obj uintptr) {
	if obj != 0 {
		vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
		fnPtr := *(*uintptr)(unsafe.Pointer(vtablePtr + 2*unsafe.Sizeof(uintptr(0))))
		syscall.SyscallN(fnPtr, obj)
	}
}

const (
	vtblQueryInterface = 0

	d3dDriverTypeHardware = 1
	d3dFeatureLevel11_0   = 0xb000
	d3d11SDKVersion       = 7

	d3d11CreateDeviceBGRASupport = 0x20

	dxgiDeviceGetAdapter   = 7
	dxgiAdapterEnumOutputs = 7

	// IDXGIOutput1::DuplicateOutput and IDXGIOutput5::DuplicateOutput1.
	dxgiOutput1DuplicateOutput  = 22
	dxgiOutput5DuplicateOutput1 = 26

	dxgiDuplGetDesc          = 7
	dxgiDuplAcquireNextFrame = 8
	dxgiDuplReleaseFrame     = 14

	dxgiErrWaitTimeout   = 0x887A0027
	dxgiErrAccessLost    = 0x887A0026
	dxgiErrDeviceRemoved = 0x887A0005
	dxgiErrDeviceReset   = 0x887A0007

	dxgiFormatB8G8R8A8          = 87
	dxgiFormatR10G10B10A2Unorm  = 24
)

var (
	iidIDXGIDevice  = comGUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}
	iidIDXGIOutput1 = comGUID{0x00cddea8, 0x939b, 0x4b83, [8]byte{0xa3, 0x40, 0xa6, 0x85, 0x22, 0x66, 0x66, 0xcc}}
	iidIDXGIOutput5 = comGUID{0x80a07424, 0xab52, 0x42eb, [8]byte{0x83, 0x3c, 0x0c, 0x42, 0xfd, 0x28, 0x2d, 0x98}}
)

// dxgiRational matches DXGI_RATIONAL.
type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

// dxgiModeDesc matches DXGI_MODE_DESC.
type dxgiModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

// dxgiOutDuplDesc matches DXGI_OUTDUPL_DESC.
type dxgiOutDuplDesc struct {
	ModeDesc                   dxgiModeDesc
	Rotation                   uint32
	DesktopImageInSystemMemory int32
}

// dxgiOutDuplFrameInfo matches DXGI_OUTDUPL_FRAME_INFO.
type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}
