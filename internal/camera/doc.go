// Package camera カメラの取得から静止画のキャプチャまでを担う
//
// # 責務
// - カメラデバイスの有無の確認
// - 制約を緩めながらのストリーム取得
// - 映像の準備完了の検出（タイムアウト時は準備完了とみなす）
// - プラットフォームのエラーの分類と通知
// - ストリームと描画面の解放
// - 静止画のキャプチャ（インカメラは左右反転）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 1つのカメラ画面（CaptureSession）の状態を管理したい
// - 複数のセッションの間でカメラを1つだけ使わせたい
// - プラットフォームの違いを Platform インターフェースで隠したい
//
// # 仕様
// - Session: idle / acquiring / ready / error / stopped の状態遷移
// - Manager: セッションの作成・検索と、生きたストリームの所有権の管理
// - Acquirer: 候補を1つずつ順に試し、後続の操作で無効になった結果は破棄する
// - Classifier: エラー1件につき通知1件。自動で再試行はしない
// - Thread-safe な操作をサポート
//
// 実際のデバイスは internal/platform 以下の実装が提供する。
package camera
