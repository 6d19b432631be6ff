package config

import "testing"

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed validation: %v", err)
	}
}

func TestValidate_RejectsNonPowerOfTwoSlots(t *testing.T) {
	cfg := Default()
	cfg.VideoInputSlots = 3
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-power-of-two video_input_slots")
	}
}

func TestValidate_RejectsUnknownCodec(t *testing.T) {
	cfg := Default()
	cfg.VideoCodec = "vp9"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported codec")
	}
}

func TestValidate_RejectsOutOfRangeAudioKnobs(t *testing.T) {
	cfg := Default()
	cfg.AudioExpectedLossPct = 150
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for audio_expected_loss_pct out of range")
	}

	cfg = Default()
	cfg.AudioComplexity = 11
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for audio_complexity out of range")
	}
}
