package camera

import (
	"context"

	"facecam/internal/logging"
)

// Probe はカメラデバイスの有無を調べる
// 副作用はなく、APIが無い場合はカメラなしとして扱う
type Probe struct {
	platform Platform
}

// NewProbe は新しいProbeを作成する
func NewProbe(platform Platform) *Probe {
	return &Probe{platform: platform}
}

// ListVideoInputs は映像入力デバイスのみを返す
func (p *Probe) ListVideoInputs(ctx context.Context) []DeviceDescriptor {
	if p == nil || p.platform == nil {
		return nil
	}

	devices, err := p.platform.EnumerateDevices(ctx)
	if err != nil {
		logging.For("probe").WithError(err).Debug("デバイスの列挙に失敗")
		return nil
	}

	inputs := make([]DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		if d.Kind == DeviceVideoInput {
			inputs = append(inputs, d)
		}
	}
	return inputs
}

// HasCamera は利用可能なカメラが1台以上あるか判定する
func (p *Probe) HasCamera(ctx context.Context) bool {
	return len(p.ListVideoInputs(ctx)) > 0
}
