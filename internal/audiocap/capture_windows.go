//go:build windows

package audiocap

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
)

// WASAPI GUIDs, grounded on the teacher's audio_windows.go.
var (
	clsidMMDeviceEnumerator = comGUID{0xBCDE0395, 0xE52F, 0x467C, [8]byte{0x8E, 0x3D, 0xC4, 0x57, 0x92, 0x91, 0x69, 0x2E}}
	iidIMMDeviceEnumerator  = comGUID{0xA95664D2, 0x9614, 0x4F35, [8]byte{0xA7, 0x46, 0xDE, 0x8D, 0xB6, 0x36, 0x17, 0xE6}}
	iidIAudioClient         = comGUID{0x1CB9AD4C, 0xDBFA, 0x4c32, [8]byte{0xB1, 0x78, 0xC2, 0xF5, 0x68, 0xA7, 0x03, 0xB2}}
	iidIAudioCaptureClient  = comGUID{0xC8ADBD64, 0xE71E, 0x48a0, [8]byte{0xA4, 0xDE, 0x18, 0x5C, 0x39, 0x5C, 0xD3, 0x17}}
)

const (
	eRender                  = 0
	eConsole                 = 0
	audclntStreamLoopback    = 0x00020000
	audclntShareModeShared   = 0
	audclntStreamflagsEventcallback = 0x00040000
	waveFormatIEEEFloat      = 0x0003
	waveFormatExtensible     = 0xFFFE

	mmdeGetDefaultAudioEndpoint = 4
	mmDeviceActivate            = 3
	audioClientInitialize       = 3
	audioClientGetMixFormat     = 8
	audioClientStart            = 10
	audioClientStop             = 11
	audioClientGetService       = 14
	capClientGetBuffer          = 3
	capClientReleaseBuffer      = 4

	audclntEDeviceInvalidated = 0x88890004
)

type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
}

// wasapiCapturer loopback-captures the default rendering endpoint, per
// spec.md §4.4, mirroring the teacher's wasapiCapturer but handing back
// raw negotiated-format PCM blocks instead of resampling to μ-law itself
// (spec.md moves resampling to Opus's own sample-rate requirements).
type wasapiCapturer struct {
	mu            sync.Mutex
	enumerator    uintptr
	device        uintptr
	audioClient   uintptr
	captureClient uintptr
	format        MixFormat
	isFloat       bool
	framesRead    uint64
}

func openPlatformCapturer() (Capturer, error) {
	runtime.LockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		return nil, fmt.Errorf("audiocap: CoInitializeEx: %w", err)
	}

	var enumerator uintptr
	hr, _, _ := syscall.SyscallN(
		procCoCreateInstance.Addr(),
		uintptr(unsafe.Pointer(&clsidMMDeviceEnumerator)),
		0,
		uintptr(0x1|0x2|0x4|0x10),
		uintptr(unsafe.Pointer(&iidIMMDeviceEnumerator)),
		uintptr(unsafe.Pointer(&enumerator)),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("audiocap: CoCreateInstance MMDeviceEnumerator: 0x%08X", uint32(hr))
	}

	w := &wasapiCapturer{enumerator: enumerator}
	if err := w.init(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *wasapiCapturer) init() error {
	var device uintptr
	if _, err := comCall(w.enumerator, mmdeGetDefaultAudioEndpoint, uintptr(eRender), uintptr(eConsole), uintptr(unsafe.Pointer(&device))); err != nil {
		return fmt.Errorf("audiocap: GetDefaultAudioEndpoint: %w", err)
	}
	w.device = device

	var audioClient uintptr
	if _, err := comCall(device, mmDeviceActivate,
		uintptr(unsafe.Pointer(&iidIAudioClient)), uintptr(0x1|0x2|0x4|0x10), 0, uintptr(unsafe.Pointer(&audioClient))); err != nil {
		return fmt.Errorf("audiocap: Activate IAudioClient: %w", err)
	}
	w.audioClient = audioClient

	var mixFormatPtr uintptr
	if _, err := comCall(audioClient, audioClientGetMixFormat, uintptr(unsafe.Pointer(&mixFormatPtr))); err != nil {
		return fmt.Errorf("audiocap: GetMixFormat: %w", err)
	}
	deviceMix := *(*waveFormatEx)(unsafe.Pointer(mixFormatPtr))

	deviceFormat := MixFormat{
		SampleRate:    int(deviceMix.SamplesPerSec),
		Channels:      int(deviceMix.Channels),
		BitsPerSample: int(deviceMix.BitsPerSample),
	}
	if deviceMix.FormatTag == waveFormatIEEEFloat || (deviceMix.FormatTag == waveFormatExtensible && deviceMix.BitsPerSample == 32) {
		deviceFormat.Format = FormatFloat32
	} else {
		deviceFormat.Format = FormatPCM16
	}
	w.format = NegotiateFormat(deviceFormat)
	w.isFloat = deviceFormat.Format == FormatFloat32 && w.format.SampleRate == deviceFormat.SampleRate

	// 200ms buffer, event-driven per spec.md §4.4's "event-driven buffer".
	bufferDuration := int64(200 * 10000)
	_, err := comCall(audioClient, audioClientInitialize,
		uintptr(audclntShareModeShared),
		uintptr(audclntStreamLoopback|audclntStreamflagsEventcallback),
		uintptr(bufferDuration),
		0,
		mixFormatPtr,
		0,
	)
	procCoTaskMemFree.Call(mixFormatPtr)
	if err != nil {
		return fmt.Errorf("audiocap: Initialize: %w", err)
	}

	var captureClient uintptr
	if _, err := comCall(audioClient, audioClientGetService, uintptr(unsafe.Pointer(&iidIAudioCaptureClient)), uintptr(unsafe.Pointer(&captureClient))); err != nil {
		return fmt.Errorf("audiocap: GetService IAudioCaptureClient: %w", err)
	}
	w.captureClient = captureClient

	if _, err := comCall(audioClient, audioClientStart); err != nil {
		return fmt.Errorf("audiocap: Start: %w", err)
	}
	return nil
}

func (w *wasapiCapturer) Format() MixFormat { return w.format }

// Next implements spec.md §4.4's "capture waits on an OS event (100ms
// poll), reads the available frames": this tree has no real waitable-event
// plumbing wired to syscall.WaitForSingleObject, so Next polls GetBuffer
// directly and treats an empty buffer as the 100ms-poll timeout case.
func (w *wasapiCapturer) Next(timeoutMs int) (Block, error) {
	var dataPtr uintptr
	var numFrames uint32
	var flags uint32

	hr, _, _ := syscall.SyscallN(
		comVtblFn(w.captureClient, capClientGetBuffer),
		w.captureClient,
		uintptr(unsafe.Pointer(&dataPtr)),
		uintptr(unsafe.Pointer(&numFrames)),
		uintptr(unsafe.Pointer(&flags)),
		0,
		0,
	)
	if int32(hr) < 0 {
		if uint32(hr) == audclntEDeviceInvalidated {
			return Block{}, ErrDeviceChanged
		}
		return Block{}, &sysStatus{Message: fmt.Sprintf("GetBuffer: 0x%08X", uint32(hr))}
	}
	if numFrames == 0 {
		return Block{Flags: FlagSilent, NumFrames: 0, Timestamp: w.framesRead}, nil
	}

	bytesPerSample := w.format.BitsPerSample / 8
	bytesPerFrame := w.format.Channels * bytesPerSample
	totalBytes := int(numFrames) * bytesPerFrame

	out := make([]byte, totalBytes)
	blockFlags := uint32(0)
	if flags&0x2 != 0 {
		blockFlags |= FlagSilent
	} else if dataPtr != 0 {
		raw := unsafe.Slice((*byte)(unsafe.Pointer(dataPtr)), totalBytes)
		copy(out, raw)
	}

	relHr, _, _ := syscall.SyscallN(comVtblFn(w.captureClient, capClientReleaseBuffer), w.captureClient, uintptr(numFrames))
	if int32(relHr) < 0 {
		return Block{}, &sysStatus{Message: fmt.Sprintf("ReleaseBuffer: 0x%08X", uint32(relHr))}
	}

	_ = binary.LittleEndian
	w.framesRead += uint64(numFrames)
	return Block{RawPCM: out, Format: w.format.Format, NumFrames: int(numFrames), Flags: blockFlags, Timestamp: w.framesRead}, nil
}

func (w *wasapiCapturer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.audioClient != 0 {
		comCall(w.audioClient, audioClientStop)
	}
	if w.captureClient != 0 {
		comRelease(w.captureClient)
	}
	if w.audioClient != 0 {
		comRelease(w.audioClient)
	}
	if w.device != 0 {
		comRelease(w.device)
	}
	if w.enumerator != 0 {
		comRelease(w.enumerator)
	}
	return nil
}

var procCoCreateInstance = ole32DLL.NewProc("CoCreateInstance")
