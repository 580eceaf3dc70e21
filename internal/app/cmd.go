package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateKind はmigrateサブコマンドの操作。
type MigrateKind string

const (
	MigrateUp      MigrateKind = "up"
	MigrateDown    MigrateKind = "down"
	MigrateVersion MigrateKind = "version"
)

// MigrateAction はmigrateサブコマンドの引数を解析した結果。
type MigrateAction struct {
	Kind  MigrateKind
	Steps int // downの場合のロールバック件数
}

// ParseMigrateArgs はmigrateサブコマンドの引数を解析する。
//
//	migrate            全件適用
//	migrate up         全件適用
//	migrate down [n]   n件ロールバック（デフォルト1）
//	migrate version    適用済みバージョンを表示
func ParseMigrateArgs(args []string) (MigrateAction, error) {
	if len(args) == 0 {
		return MigrateAction{Kind: MigrateUp}, nil
	}

	switch MigrateKind(args[0]) {
	case MigrateUp:
		return MigrateAction{Kind: MigrateUp}, nil
	case MigrateVersion:
		return MigrateAction{Kind: MigrateVersion}, nil
	case MigrateDown:
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return MigrateAction{}, fmt.Errorf("invalid rollback steps: %q", args[1])
			}
			steps = n
		}
		return MigrateAction{Kind: MigrateDown, Steps: steps}, nil
	default:
		return MigrateAction{}, fmt.Errorf("unknown migrate action: %q (want up, down or version)", args[0])
	}
}
