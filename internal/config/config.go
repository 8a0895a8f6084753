// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ストレージ設定
	StorageRoot string // uploads/outputs/temp のベースディレクトリ

	// ファイル制限
	MaxFileSize   int64 // 単一ファイルの最大サイズ（バイト）
	MaxUploadSize int64 // バッチ全体の最大サイズ（バイト）

	// ジョブ/キュー設定
	QueueRedisURL      string // Asynq用Redis接続URL
	MaxConcurrentTasks int    // ワーカープールの並列度
	QueueHighWaterMark int    // 待機キューの上限（超過でBackpressure）
	FairScheduling     bool   // セッション単位のラウンドロビンを有効化

	CleanupIntervalHours int // 掃除スケジューラの実行間隔（時間）
	RetentionHours       int // ファイルの保持期限（時間）
	SoftTimeLimitSeconds int // ワーカーへの協調的な時間切れ通知
	HardTimeLimitSeconds int // 強制打ち切りまでの時間
	DrainTimeoutSeconds  int // グレースフルシャットダウンの待機上限

	RecordTTLCompletedSeconds  int // completed/failedレコードのTTL
	RecordTTLTerminalSeconds   int // expired/cancelledレコードのTTL
	ProgressStaleWindowSeconds int // 進捗が反映されるまでの許容遅延

	// ZIP展開のガード値
	MaxZipEntries      int   // 展開対象エントリ数の上限
	MaxZipUncompressed int64 // 展開後合計サイズの上限（バイト）
	MaxZipRatio        int64 // 個別エントリの圧縮率上限（decompressed/compressed）

	// レイアウト設定（起動時に読み込み、全タスクで共通。リクエスト単位の上書きはない）
	LayoutPageWidthMM  float64
	LayoutPageHeightMM float64
	LayoutColumns      int
	LayoutRows         int
	LayoutMarginMM     float64
	LayoutGutterMM     float64

	// 入力PDF合計サイズの上限（超過時にimpose.ComposeがOversizeを返す）
	MaxComposeBytes int64
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		StorageRoot: getEnv("STORAGE_ROOT", "./storage"),

		MaxFileSize:   getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		MaxUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 512*1024*1024),

		QueueRedisURL:      getEnv("QUEUE_URL", "redis://127.0.0.1:6379/0"),
		MaxConcurrentTasks: getEnvAsInt("MAX_CONCURRENT_TASKS", 4),
		QueueHighWaterMark: getEnvAsInt("QUEUE_HIGH_WATER_MARK", 64),
		FairScheduling:     getEnvAsBool("FAIR_SCHEDULING", false),

		CleanupIntervalHours: getEnvAsInt("CLEANUP_INTERVAL_HOURS", 6),
		RetentionHours:       getEnvAsInt("RETENTION_HOURS", 24),
		SoftTimeLimitSeconds: getEnvAsInt("SOFT_TIME_LIMIT_SECONDS", 55*60),
		HardTimeLimitSeconds: getEnvAsInt("HARD_TIME_LIMIT_SECONDS", 60*60),
		DrainTimeoutSeconds:  getEnvAsInt("DRAIN_TIMEOUT_SECONDS", 30),

		RecordTTLCompletedSeconds:  getEnvAsInt("RECORD_TTL_COMPLETED_SECONDS", 24*3600),
		RecordTTLTerminalSeconds:   getEnvAsInt("RECORD_TTL_TERMINAL_SECONDS", 3600),
		ProgressStaleWindowSeconds: getEnvAsInt("PROGRESS_STALE_WINDOW_SECONDS", 2),

		MaxZipEntries:      getEnvAsInt("MAX_ZIP_ENTRIES", 2000),
		MaxZipUncompressed: getEnvAsInt64("MAX_ZIP_UNCOMPRESSED_BYTES", 1024*1024*1024),
		MaxZipRatio:        getEnvAsInt64("MAX_ZIP_RATIO", 200),

		LayoutPageWidthMM:  getEnvAsFloat("LAYOUT_PAGE_WIDTH_MM", 210),
		LayoutPageHeightMM: getEnvAsFloat("LAYOUT_PAGE_HEIGHT_MM", 297),
		LayoutColumns:      getEnvAsInt("LAYOUT_COLUMNS", 2),
		LayoutRows:         getEnvAsInt("LAYOUT_ROWS", 4),
		LayoutMarginMM:     getEnvAsFloat("LAYOUT_MARGIN_MM", 10),
		LayoutGutterMM:     getEnvAsFloat("LAYOUT_GUTTER_MM", 5),

		MaxComposeBytes: getEnvAsInt64("MAX_COMPOSE_BYTES", 2*1024*1024*1024),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_URL is required in release mode")
		}
		if c.StorageRoot == "" {
			return fmt.Errorf("STORAGE_ROOT is required in release mode")
		}
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be >= 1")
	}
	if c.LayoutColumns < 1 || c.LayoutRows < 1 {
		return fmt.Errorf("LAYOUT_COLUMNS and LAYOUT_ROWS must be >= 1")
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
