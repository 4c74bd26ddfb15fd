// Package recovery はワーカープールの監視と、死んだワーカーの再生成を提供する。
//
// ジョブの panic で終了したワーカーはプール自身では置き換えられない。
// Manager は一定間隔で Pool.Workers() を確認し、AutoRespawn が有効なら
// Pool.Respawn() で同じIDのワーカーを起動し直す。
//
// # 機能
//
// - ヘルスチェック: 定期的にワーカーの状態を監視
// - 自動再生成: 終了したワーカーを RecoveryDelay 後に再生成
// - 上限: ワーカーIDごとに MaxRetries 回まで（毎回 panic するジョブ対策）
//
// # 使用例
//
//	config := recovery.DefaultConfig()
//	config.AutoRespawn = true
//
//	manager := recovery.New(pool, config)
//	manager.Start(ctx)
//	defer manager.Stop() // pool.Shutdown() より先に止める
package recovery
