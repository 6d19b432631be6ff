package audiocap

import "testing"

func TestNegotiateFormat_NativeRatePassesThrough(t *testing.T) {
	device := MixFormat{SampleRate: 16000, Channels: 1, Format: FormatPCM16, BitsPerSample: 16}
	got := NegotiateFormat(device)
	if got != device {
		t.Fatalf("NegotiateFormat(%+v) = %+v, want passthrough", device, got)
	}
}

func TestNegotiateFormat_NonNativeRateConverts(t *testing.T) {
	device := MixFormat{SampleRate: 44100, Channels: 2, Format: FormatFloat32, BitsPerSample: 32}
	got := NegotiateFormat(device)
	want := MixFormat{SampleRate: 48000, Channels: 2, Format: FormatPCM16, BitsPerSample: 16}
	if got != want {
		t.Fatalf("NegotiateFormat(%+v) = %+v, want %+v", device, got, want)
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	cases := []struct {
		name    string
		s       RuntimeSettings
		wantErr bool
	}{
		{"valid", RuntimeSettings{ExpectedPacketLossPct: 5, Complexity: 5}, false},
		{"loss too high", RuntimeSettings{ExpectedPacketLossPct: 101}, true},
		{"loss negative", RuntimeSettings{ExpectedPacketLossPct: -1}, true},
		{"complexity too high", RuntimeSettings{Complexity: 11}, true},
		{"complexity negative", RuntimeSettings{Complexity: -1}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.s.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestFakeCapturer_ProducesBlocksThenStops(t *testing.T) {
	c := NewFakeCapturer(48000, 2)
	block, err := c.Next(100)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if block.NumFrames != 48000/50 {
		t.Fatalf("NumFrames = %d, want %d", block.NumFrames, 48000/50)
	}
	if len(block.RawPCM) != block.NumFrames*2*2 {
		t.Fatalf("RawPCM len = %d, want %d", len(block.RawPCM), block.NumFrames*2*2)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.Next(100); err != ErrCaptureStopped {
		t.Fatalf("Next after Close: err = %v, want ErrCaptureStopped", err)
	}
}

func TestPipeline_RejectsNonPowerOfTwoSlots(t *testing.T) {
	c := NewFakeCapturer(48000, 2)
	if _, err := OpenPipeline(c, nil, 3, nil); err == nil {
		t.Fatal("OpenPipeline with n=3 should fail")
	}
}
