//go:build windows

package capture

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
)

var (
	d3d11DLL              = syscall.NewLazyDLL("d3d11.dll")
	procD3D11CreateDevice = d3d11DLL.NewProc("D3D11CreateDevice")

	comInitOnce sync.Once
)

func ensureCOM() {
	// CoInitializeEx must run once per thread that touches these COM
	// objects; AcquireFrame is always called from the dedicated capture
	// thread (spec.md §5), so a process-wide once is sufficient for this
	// library's single-capture-thread usage.
	comInitOnce.Do(func() {
		_ = ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED)
	})
}

// windowsDuplicator implements Duplicator over DXGI Desktop Duplication,
// attempting an HDR-capable IDXGIOutput5 path first and falling back to the
// standard IDXGIOutput1 path, per spec.md §4.2.
type windowsDuplicator struct {
	mu sync.Mutex

	device      uintptr
	context     uintptr
	output      uintptr // IDXGIOutput1 or IDXGIOutput5, whichever duplicated
	duplication uintptr // IDXGIOutputDuplication

	displayIndex int
	formats      []PixelFormat
	desc         DisplayDesc

	accessLost bool
}

// New opens a duplicator for the given display index. supportedFormats is
// stored on the duplicator but not used: duplicate always offers
// DuplicateOutput1 the fixed list R10G10B10A2, B8G8R8A8.
func New(displayIndex int, supportedFormats []PixelFormat) (Duplicator, error) {
	ensureCOM()
	d := &windowsDuplicator{displayIndex: displayIndex, formats: supportedFormats}
	if err := d.initDXGI(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *windowsDuplicator) Desc() DisplayDesc { return d.desc }

func (d *windowsDuplicator) initDXGI() error {
	var device, context uintptr
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32

	hr, _, _ := procD3D11CreateDevice.Call(
		0,
		uintptr(d3dDriverTypeHardware),
		0,
		uintptr(d3d11CreateDeviceBGRASupport),
		uintptr(unsafe.Pointer(&featureLevel)),
		1,
		uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&device)),
		uintptr(unsafe.Pointer(&actualLevel)),
		uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 {
		return fmt.Errorf("capture: D3D11CreateDevice failed: 0x%08X", uint32(hr))
	}

	var dxgiDevice uintptr
	if _, err := comCall(device, vtblQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIDevice)), uintptr(unsafe.Pointer(&dxgiDevice))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("capture: QueryInterface IDXGIDevice: %w", err)
	}
	defer comRelease(dxgiDevice)

	var adapter uintptr
	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("capture: IDXGIDevice::GetAdapter: %w", err)
	}
	defer comRelease(adapter)

	var output uintptr
	if _, err := comCall(adapter, dxgiAdapterEnumOutputs, uintptr(d.displayIndex), uintptr(unsafe.Pointer(&output))); err != nil {
		comRelease(context)
		comRelease(device)
		return fmt.Errorf("capture: IDXGIAdapter::EnumOutputs: %w", err)
	}

	duplication, output1or5, err := d.duplicate(device, output)
	comRelease(output)
	if err != nil {
		comRelease(context)
		comRelease(device)
		return err
	}

	d.device = device
	d.context = context
	d.output = output1or5
	d.duplication = duplication

	var dupDesc dxgiOutDuplDesc
	if _, err := comCall(duplication, dxgiDuplGetDesc, uintptr(unsafe.Pointer(&dupDesc))); err == nil {
		format := FormatBGRA8
		if dupDesc.ModeDesc.Format == dxgiFormatR10G10B10A2Unorm {
			format = FormatRGBA10
		}
		d.desc = DisplayDesc{
			Width:      int(dupDesc.ModeDesc.Width),
			Height:     int(dupDesc.ModeDesc.Height),
			Format:     format,
			RefreshNum: int(dupDesc.ModeDesc.RefreshRate.Numerator),
			RefreshDen: int(dupDesc.ModeDesc.RefreshRate.Denominator),
		}
	}
	return nil
}

// duplicate tries IDXGIOutput5::DuplicateOutput1 (HDR-capable) first,
// falling back to IDXGIOutput1::DuplicateOutput, per spec.md §4.2.
func (d *windowsDuplicator) duplicate(device, output uintptr) (duplication, boundOutput uintptr, err error) {
	var output5 uintptr
	if _, qiErr := comCall(output, vtblQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIOutput5)), uintptr(unsafe.Pointer(&output5))); qiErr == nil {
		formats := []uint32{dxgiFormatR10G10B10A2Unorm, dxgiFormatB8G8R8A8}
		var dup uintptr
		if _, callErr := comCall(output5, dxgiOutput5DuplicateOutput1,
			device, 0, uintptr(len(formats)), uintptr(unsafe.Pointer(&formats[0])), uintptr(unsafe.Pointer(&dup)),
		); callErr == nil {
			return dup, output5, nil
		}
		comRelease(output5)
	}

	var output1 uintptr
	if _, qiErr := comCall(output, vtblQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIOutput1)), uintptr(unsafe.Pointer(&output1))); qiErr != nil {
		return 0, 0, fmt.Errorf("capture: QueryInterface IDXGIOutput1: %w", qiErr)
	}
	var dup uintptr
	if _, callErr := comCall(output1, dxgiOutput1DuplicateOutput, device, uintptr(unsafe.Pointer(&dup))); callErr != nil {
		comRelease(output1)
		return 0, 0, fmt.Errorf("capture: IDXGIOutput1::DuplicateOutput: %w", callErr)
	}
	return dup, output1, nil
}

// windowsTexture wraps a DXGI-duplicated resource; Release calls
// IDXGIOutputDuplication::ReleaseFrame exactly once.
type windowsTexture struct {
	d    *windowsDuplicator
	once sync.Once
}

func (t *windowsTexture) Release() {
	t.once.Do(func() {
		comCall(t.d.duplication, dxgiDuplReleaseFrame)
	})
}

func (d *windowsDuplicator) AcquireFrame(timeoutMs int) (*AcquiredFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.accessLost {
		return nil, &AcquireError{Kind: AccessLost, Err: errNotReset}
	}

	var frameInfo dxgiOutDuplFrameInfo
	var resource uintptr
	ret, callErr := comCall(d.duplication, dxgiDuplAcquireNextFrame,
		uintptr(timeoutMs), uintptr(unsafe.Pointer(&frameInfo)), uintptr(unsafe.Pointer(&resource)),
	)
	if callErr != nil {
		switch uint32(ret) {
		case dxgiErrWaitTimeout:
			return nil, &AcquireError{Kind: WaitTimeout}
		case dxgiErrAccessLost, dxgiErrDeviceRemoved, dxgiErrDeviceReset:
			d.accessLost = true
			return nil, &AcquireError{Kind: AccessLost, Err: callErr}
		default:
			return nil, &AcquireError{Kind: Other, Err: callErr}
		}
	}
	if frameInfo.AccumulatedFrames == 0 {
		// No new content since the last call; release immediately and
		// report it as a timeout so the caller's pacing loop just retries.
		comCall(d.duplication, dxgiDuplReleaseFrame)
		return nil, &AcquireError{Kind: WaitTimeout}
	}

	return &AcquiredFrame{
		Texture:   &windowsTexture{d: d},
		Timestamp: uint64(frameInfo.LastPresentTime),
	}, nil
}

// Reset tears down and reopens the duplication interface after AccessLost,
// per spec.md §4.2's "caller must call reset before the next acquire".
func (d *windowsDuplicator) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.duplication != 0 {
		comRelease(d.duplication)
		d.duplication = 0
	}
	if d.output != 0 {
		comRelease(d.output)
		d.output = 0
	}
	if d.context != 0 {
		comRelease(d.context)
		d.context = 0
	}
	if d.device != 0 {
		comRelease(d.device)
		d.device = 0
	}
	if err := d.initDXGI(); err != nil {
		return err
	}
	d.accessLost = false
	return nil
}

func (d *windowsDuplicator) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	comRelease(d.duplication)
	comRelease(d.output)
	comRelease(d.context)
	comRelease(d.device)
	return nil
}
