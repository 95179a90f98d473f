// Package server は、カメラセッションを操作するHTTP APIを提供します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// セッション状態の配信、プレビュー映像の配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - セッションの作成・起動・切り替え・停止・再試行
//   - 静止画のキャプチャと顔認識への受け渡し
//   - セッション状態の Server-Sent Events 配信
//   - MJPEGによるプレビュー配信
//
// 仕様:
//   - ルーティングは gin を使用
//   - カメラのエラーは種別ごとのHTTPステータスに変換する
//   - Accept-Language でエラーメッセージの言語を選ぶ
//   - User-Agent から端末種別を判定し、制約候補を調整する
package server
