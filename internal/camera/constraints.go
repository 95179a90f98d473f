package camera

import (
	"strings"
)

// PlatformKind はクライアント端末の種別
// モバイル2大プラットフォームで解像度上限が異なるため区別する
type PlatformKind string

const (
	PlatformDesktop PlatformKind = "desktop"
	PlatformIOS     PlatformKind = "ios"
	PlatformAndroid PlatformKind = "android"
)

// DetectPlatformKind は User-Agent から端末種別を判定する
func DetectPlatformKind(userAgent string) PlatformKind {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return PlatformIOS
	case strings.Contains(ua, "android"):
		return PlatformAndroid
	default:
		return PlatformDesktop
	}
}

// ParsePlatformKind は設定値から端末種別を解析する。不明な値は desktop
func ParsePlatformKind(s string) PlatformKind {
	switch PlatformKind(strings.ToLower(s)) {
	case PlatformIOS:
		return PlatformIOS
	case PlatformAndroid:
		return PlatformAndroid
	default:
		return PlatformDesktop
	}
}

// DefaultBaseConstraints は呼び出し側が指定しない場合の基本制約
func DefaultBaseConstraints() VideoConstraints {
	return VideoConstraints{
		Width:  IntRange{Ideal: 1280},
		Height: IntRange{Ideal: 720},
	}
}

// tunedConstraints は端末別に調整した最優先の候補を返す
func tunedConstraints(kind PlatformKind, base VideoConstraints, facing FacingMode) VideoConstraints {
	c := base
	c.FacingMode = facing

	switch kind {
	case PlatformIOS:
		c.Width = IntRange{Ideal: 1280, Max: 1920}
		c.Height = IntRange{Ideal: 720, Max: 1080}
		c.FrameRate = IntRange{Ideal: 30}
	case PlatformAndroid:
		c.Width = IntRange{Ideal: 1280, Max: 1280}
		c.Height = IntRange{Ideal: 720, Max: 720}
		c.FrameRate = IntRange{Ideal: 30}
	}
	return c
}

// BuildLadder は具体的なものから順に並べた制約候補を作る
//
// 端末別の調整済み設定 → 向きのみ → 640x480 → 320x240 → 制約なし {} → true
// devices があり base でデバイスが固定されていない場合は、先頭デバイスを固定する候補を最初に置く
func BuildLadder(kind PlatformKind, base VideoConstraints, facing FacingMode, devices []DeviceDescriptor) []ConstraintAttempt {
	ladder := make([]ConstraintAttempt, 0, 7)

	if base.DeviceID == "" && len(devices) > 0 {
		pinned := base
		pinned.FacingMode = facing
		pinned.DeviceID = devices[0].DeviceID
		ladder = append(ladder, ConstraintAttempt{Label: "pinned-device", Video: &pinned})
	}

	tuned := tunedConstraints(kind, base, facing)
	ladder = append(ladder, ConstraintAttempt{Label: "tuned-" + string(kind), Video: &tuned})

	facingOnly := VideoConstraints{DeviceID: base.DeviceID, FacingMode: facing}
	ladder = append(ladder, ConstraintAttempt{Label: "facing-only", Video: &facingOnly})

	vga := VideoConstraints{DeviceID: base.DeviceID, Width: IntRange{Exact: 640}, Height: IntRange{Exact: 480}}
	ladder = append(ladder, ConstraintAttempt{Label: "640x480", Video: &vga})

	qvga := VideoConstraints{DeviceID: base.DeviceID, Width: IntRange{Exact: 320}, Height: IntRange{Exact: 240}}
	ladder = append(ladder, ConstraintAttempt{Label: "320x240", Video: &qvga})

	ladder = append(ladder, ConstraintAttempt{Label: "unconstrained", Video: &VideoConstraints{}})
	ladder = append(ladder, ConstraintAttempt{Label: "boolean"})

	return ladder
}
