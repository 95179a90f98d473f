package camera

import (
	"fmt"

	"facecam/internal/logging"
)

// Release はストリームの全トラックを停止し、描画面からソースを外す
//
// 何度呼んでも安全で、panic しない。1つのトラックの停止に失敗しても
// 残りのトラックは必ず停止する。
func Release(stream Stream, surface Surface) {
	log := logging.For("release")

	if stream != nil {
		for _, track := range stream.Tracks() {
			if err := stopTrack(track); err != nil {
				log.WithError(err).WithField("track", track.ID()).Debug("トラックの停止に失敗（無視）")
			}
		}
	}

	if surface != nil {
		detachSurface(surface)
	}
}

// stopTrack は1トラックを停止する。panic はエラーに変換する
func stopTrack(track Track) (err error) {
	if track == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("トラック停止中にpanic: %v", r)
		}
	}()

	if track.ReadyState() == TrackEnded {
		return nil
	}
	return track.Stop()
}

func detachSurface(surface Surface) {
	defer func() {
		if r := recover(); r != nil {
			logging.For("release").Debugf("描画面の解放中にpanic（無視）: %v", r)
		}
	}()

	surface.Detach()
	surface.Reload()
}
