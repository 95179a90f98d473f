package camera

import (
	"context"
	"errors"
	"testing"
)

func TestProbe_ListVideoInputs(t *testing.T) {
	ctx := context.Background()
	platform := NewMockPlatform(
		DeviceDescriptor{DeviceID: "mic-1", Kind: DeviceAudioInput, Label: "マイク"},
		DeviceDescriptor{DeviceID: "cam-1", Kind: DeviceVideoInput, Label: "テストカメラ 1"},
		DeviceDescriptor{DeviceID: "spk-1", Kind: DeviceAudioOutput, Label: "スピーカー"},
		DeviceDescriptor{DeviceID: "cam-2", Kind: DeviceVideoInput, Label: "テストカメラ 2"},
	)
	probe := NewProbe(platform)

	devices := probe.ListVideoInputs(ctx)
	if len(devices) != 2 {
		t.Fatalf("Expected 2 video inputs, got %d", len(devices))
	}
	for _, d := range devices {
		if d.Kind != DeviceVideoInput {
			t.Errorf("Expected only video inputs, got %s", d.Kind)
		}
	}
	if devices[0].DeviceID != "cam-1" || devices[1].DeviceID != "cam-2" {
		t.Errorf("Expected enumeration order to be kept, got %v", devices)
	}

	if !probe.HasCamera(ctx) {
		t.Error("Expected HasCamera to be true")
	}
}

func TestProbe_NoCamera(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name  string
		probe *Probe
	}{
		{"プラットフォームなし", NewProbe(nil)},
		{"Probe自体がnil", nil},
		{"映像入力なし", NewProbe(NewMockPlatform(DeviceDescriptor{DeviceID: "mic", Kind: DeviceAudioInput}))},
		{"列挙に失敗", func() *Probe {
			p := NewMockPlatform(DeviceDescriptor{DeviceID: "cam", Kind: DeviceVideoInput})
			p.SetEnumerateError(errors.New("not supported"))
			return NewProbe(p)
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if devices := tc.probe.ListVideoInputs(ctx); len(devices) != 0 {
				t.Errorf("Expected no devices, got %v", devices)
			}
			if tc.probe != nil && tc.probe.HasCamera(ctx) {
				t.Error("Expected HasCamera to be false")
			}
		})
	}
}
