//go:build !windows

package capture

// New opens the platform duplicator. Off Windows there is no DXGI
// equivalent wired into this build, so New hands back a 1920x1080@60
// FakeDuplicator so the rest of the pipeline (encoder, packetizer, session)
// is still exercisable end to end.
func New(displayIndex int, supportedFormats []PixelFormat) (Duplicator, error) {
	return NewFakeDuplicator(1920, 1080, 60), nil
}
