package camera

import (
	"testing"
)

func TestBuildLadder_Order(t *testing.T) {
	devices := []DeviceDescriptor{
		{DeviceID: "cam-1", Kind: DeviceVideoInput, Label: "Front"},
		{DeviceID: "cam-2", Kind: DeviceVideoInput, Label: "Back"},
	}

	testCases := []struct {
		name    string
		kind    PlatformKind
		base    VideoConstraints
		devices []DeviceDescriptor
		labels  []string
	}{
		{
			name:    "デバイスあり・固定なし",
			kind:    PlatformDesktop,
			base:    DefaultBaseConstraints(),
			devices: devices,
			labels:  []string{"pinned-device", "tuned-desktop", "facing-only", "640x480", "320x240", "unconstrained", "boolean"},
		},
		{
			name:   "デバイスなし",
			kind:   PlatformIOS,
			base:   DefaultBaseConstraints(),
			labels: []string{"tuned-ios", "facing-only", "640x480", "320x240", "unconstrained", "boolean"},
		},
		{
			name:    "base でデバイス固定済み",
			kind:    PlatformAndroid,
			base:    VideoConstraints{DeviceID: "cam-2"},
			devices: devices,
			labels:  []string{"tuned-android", "facing-only", "640x480", "320x240", "unconstrained", "boolean"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ladder := BuildLadder(tc.kind, tc.base, FacingFront, tc.devices)
			if len(ladder) != len(tc.labels) {
				t.Fatalf("Expected %d candidates, got %d: %v", len(tc.labels), len(ladder), ladder)
			}
			for i, want := range tc.labels {
				if ladder[i].Label != want {
					t.Errorf("candidate %d: expected %s, got %s", i, want, ladder[i].Label)
				}
			}
			if last := ladder[len(ladder)-1]; last.Video != nil {
				t.Errorf("Expected last candidate to be boolean true, got %+v", last.Video)
			}
		})
	}
}

func TestBuildLadder_Candidates(t *testing.T) {
	devices := []DeviceDescriptor{{DeviceID: "cam-1", Kind: DeviceVideoInput}}
	ladder := BuildLadder(PlatformIOS, DefaultBaseConstraints(), FacingRear, devices)

	pinned := ladder[0].Video
	if pinned.DeviceID != "cam-1" || pinned.FacingMode != FacingRear {
		t.Errorf("pinned candidate = %+v", pinned)
	}

	tuned := ladder[1].Video
	if tuned.Width != (IntRange{Ideal: 1280, Max: 1920}) || tuned.Height != (IntRange{Ideal: 720, Max: 1080}) {
		t.Errorf("iOS tuned resolution = %+v x %+v", tuned.Width, tuned.Height)
	}
	if tuned.FrameRate.Ideal != 30 {
		t.Errorf("Expected ideal frame rate 30, got %d", tuned.FrameRate.Ideal)
	}

	facingOnly := ladder[2].Video
	if facingOnly.FacingMode != FacingRear || !facingOnly.Width.IsZero() {
		t.Errorf("facing-only candidate = %+v", facingOnly)
	}

	if vga := ladder[3].Video; vga.Width.Exact != 640 || vga.Height.Exact != 480 {
		t.Errorf("vga candidate = %+v", vga)
	}
	if qvga := ladder[4].Video; qvga.Width.Exact != 320 || qvga.Height.Exact != 240 {
		t.Errorf("qvga candidate = %+v", qvga)
	}
	if !ladder[5].Video.IsZero() {
		t.Errorf("Expected unconstrained candidate, got %+v", ladder[5].Video)
	}

	android := BuildLadder(PlatformAndroid, DefaultBaseConstraints(), FacingFront, nil)[0].Video
	if android.Width.Max != 1280 || android.Height.Max != 720 {
		t.Errorf("android tuned resolution = %+v x %+v", android.Width, android.Height)
	}
}

func TestDetectPlatformKind(t *testing.T) {
	testCases := []struct {
		ua   string
		want PlatformKind
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", PlatformIOS},
		{"Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X)", PlatformIOS},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", PlatformAndroid},
		{"Mozilla/5.0 (X11; Linux x86_64)", PlatformDesktop},
		{"", PlatformDesktop},
	}

	for _, tc := range testCases {
		if got := DetectPlatformKind(tc.ua); got != tc.want {
			t.Errorf("DetectPlatformKind(%q) = %s, want %s", tc.ua, got, tc.want)
		}
	}
}

func TestIntRange_Preferred(t *testing.T) {
	testCases := []struct {
		r    IntRange
		want int
	}{
		{IntRange{Exact: 640, Ideal: 1280}, 640},
		{IntRange{Ideal: 1280, Max: 1920}, 1280},
		{IntRange{Ideal: 1920, Max: 1280}, 1280},
		{IntRange{Max: 720}, 720},
		{IntRange{}, 0},
	}

	for _, tc := range testCases {
		if got := tc.r.Preferred(); got != tc.want {
			t.Errorf("%+v.Preferred() = %d, want %d", tc.r, got, tc.want)
		}
	}
}

func TestParseFacingMode(t *testing.T) {
	testCases := []struct {
		in      string
		want    FacingMode
		wantErr bool
	}{
		{"front", FacingFront, false},
		{"user", FacingFront, false},
		{"environment", FacingRear, false},
		{" Rear ", FacingRear, false},
		{"side", "", true},
	}

	for _, tc := range testCases {
		got, err := ParseFacingMode(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseFacingMode(%q) error = %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseFacingMode(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}

	if FacingFront.Opposite() != FacingRear || FacingRear.Opposite() != FacingFront {
		t.Error("Opposite returned wrong facing mode")
	}
}
