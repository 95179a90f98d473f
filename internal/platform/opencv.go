//go:build gocv

package platform

import (
	"facecam/internal/camera"
	"facecam/internal/platform/opencv"
)

func init() {
	builtin[NameOpenCV] = func(opts Options) (camera.Platform, error) {
		return opencv.New(opts.MaxDevices), nil
	}
}
