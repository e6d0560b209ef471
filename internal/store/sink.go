// Package store 提供视频与评论的持久化实现
//
// 所有实现都满足 models.Sink: 并发安全,按ID幂等写入
package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
)

// Option 存储方式
type Option string

const (
	OptionDB     Option = "db"     // SQLite
	OptionJSON   Option = "json"   // JSON文件
	OptionRedis  Option = "redis"  // Redis哈希
	OptionMemory Option = "memory" // 仅内存,用于试运行
)

// Config 存储配置
type Config struct {
	Option  Option
	DataDir string // json/db 的数据根目录

	SQLiteFile string // 相对 DataDir 的数据库文件名

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// New 按配置创建Sink
// 爬取模式通过参数传入,用于JSON文件命名
func New(ctx context.Context, cfg Config, mode models.CrawlerType) (models.Sink, error) {
	switch cfg.Option {
	case OptionDB:
		file := cfg.SQLiteFile
		if file == "" {
			file = "bilibili.db"
		}
		return OpenSQLite(ctx, filepath.Join(cfg.DataDir, file))
	case OptionJSON:
		return NewJSONSink(filepath.Join(cfg.DataDir, "bilibili", "json"), mode)
	case OptionRedis:
		return NewRedisSink(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case OptionMemory:
		return NewMemorySink(), nil
	default:
		return nil, fmt.Errorf("不支持的存储方式: %q (有效值: db, json, redis, memory)", cfg.Option)
	}
}
