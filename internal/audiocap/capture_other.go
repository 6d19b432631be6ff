//go:build !windows

package audiocap

func openPlatformCapturer() (Capturer, error) {
	return NewFakeCapturer(48000, 2), nil
}
