// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// ブラウザセッション（sessions）と、PostgreSQLバックエンド利用時の
// バックエンドセッション（account_sessions）を日次バッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/lensecho/internal/metrics"
)

// Target は削除対象のテーブルと削除処理の組。
// Purgeは削除した件数を返す。
type Target struct {
	Table string
	Purge func(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	targets []Target
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(logger *slog.Logger, collector metrics.MetricsCollector, targets ...Target) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &CleanupJob{
		targets: targets,
		metrics: collector,
		logger:  logger,
	}
}

// Run は全ての対象から期限切れのセッションを削除する。
// 1つの対象で失敗しても残りの対象は処理し、失敗をまとめて返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var (
		total int64
		errs  []error
	)
	for _, target := range j.targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		deleted, err := target.Purge(ctx)
		if err != nil {
			j.logger.Error("セッションクリーンアップの実行に失敗しました",
				slog.String("table", target.Table),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s のクリーンアップに失敗: %w", target.Table, err))
			continue
		}

		j.logger.Info("期限切れセッションを削除しました",
			slog.String("table", target.Table),
			slog.Int64("deleted_count", deleted),
		)
		total += deleted
	}

	j.metrics.RecordSessionsCleaned(total)

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("targets", len(j.targets)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return errors.Join(errs...)
}

// Start は起動直後に1回実行し、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
