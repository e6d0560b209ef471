package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	_ "modernc.org/sqlite" // SQLite驱动
)

// SQLiteSink SQLite存储
type SQLiteSink struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite 打开或创建数据库并建表
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// SQLite 只支持单写者,并发写入由连接池串行化
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("启用WAL失败: %w", err)
	}

	s := &SQLiteSink{db: db, dbPath: dbPath}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("创建数据表失败: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS bilibili_video (
		video_id TEXT PRIMARY KEY,
		bvid TEXT,
		title TEXT,
		owner_name TEXT,
		owner_id TEXT,
		publish_time INTEGER,
		discovered_via TEXT,
		raw TEXT,
		add_ts INTEGER NOT NULL,
		last_modify_ts INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bilibili_video_comment (
		video_id TEXT NOT NULL,
		comment_id TEXT NOT NULL,
		content TEXT,
		user_id TEXT,
		nickname TEXT,
		like_count INTEGER,
		create_time INTEGER,
		metadata TEXT,
		add_ts INTEGER NOT NULL,
		last_modify_ts INTEGER NOT NULL,
		PRIMARY KEY (video_id, comment_id)
	);

	CREATE INDEX IF NOT EXISTS idx_comment_video ON bilibili_video_comment(video_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// UpsertItem 实现 models.Sink
// 内容未变化的重复写入不更新任何列,包括 last_modify_ts
func (s *SQLiteSink) UpsertItem(ctx context.Context, item *models.VideoItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	now := time.Now().UnixMilli()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bilibili_video
			(video_id, bvid, title, owner_name, owner_id, publish_time, discovered_via, raw, add_ts, last_modify_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			bvid = excluded.bvid,
			title = excluded.title,
			owner_name = excluded.owner_name,
			owner_id = excluded.owner_id,
			publish_time = excluded.publish_time,
			discovered_via = excluded.discovered_via,
			raw = excluded.raw,
			last_modify_ts = excluded.last_modify_ts
		WHERE bvid IS NOT excluded.bvid
			OR title IS NOT excluded.title
			OR owner_name IS NOT excluded.owner_name
			OR owner_id IS NOT excluded.owner_id
			OR publish_time IS NOT excluded.publish_time
			OR discovered_via IS NOT excluded.discovered_via
			OR raw IS NOT excluded.raw`,
		item.ID, item.BVID, item.Title, item.OwnerName, item.OwnerID, item.PublishTime,
		string(item.DiscoveredVia), string(item.Raw), now, now,
	)
	if err != nil {
		return fmt.Errorf("写入视频 %s 失败: %w", item.ID, err)
	}
	return nil
}

// UpsertComments 实现 models.Sink
// 同一视频的评论在一个事务中写入,未变化的评论保持原样
func (s *SQLiteSink) UpsertComments(ctx context.Context, itemID string, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bilibili_video_comment
			(video_id, comment_id, content, user_id, nickname, like_count, create_time, metadata, add_ts, last_modify_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id, comment_id) DO UPDATE SET
			content = excluded.content,
			user_id = excluded.user_id,
			nickname = excluded.nickname,
			like_count = excluded.like_count,
			create_time = excluded.create_time,
			metadata = excluded.metadata,
			last_modify_ts = excluded.last_modify_ts
		WHERE content IS NOT excluded.content
			OR user_id IS NOT excluded.user_id
			OR nickname IS NOT excluded.nickname
			OR like_count IS NOT excluded.like_count
			OR create_time IS NOT excluded.create_time
			OR metadata IS NOT excluded.metadata`)
	if err != nil {
		return fmt.Errorf("预编译语句失败: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, c := range comments {
		if _, err := stmt.ExecContext(ctx,
			itemID, c.CommentID, c.Content, c.UserID, c.UserName, c.LikeCount, c.CreateTime,
			string(c.Metadata), now, now,
		); err != nil {
			return fmt.Errorf("写入评论 %s/%s 失败: %w", itemID, c.CommentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// CountItems 视频总数
func (s *SQLiteSink) CountItems(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bilibili_video").Scan(&n)
	return n, err
}

// CountComments 某视频的评论数
func (s *SQLiteSink) CountComments(ctx context.Context, itemID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bilibili_video_comment WHERE video_id = ?", itemID).Scan(&n)
	return n, err
}

// GetItem 读取视频记录
func (s *SQLiteSink) GetItem(ctx context.Context, id string) (*models.VideoItem, error) {
	var (
		item models.VideoItem
		via  string
		raw  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT video_id, bvid, title, owner_name, owner_id, publish_time, discovered_via, raw
		FROM bilibili_video WHERE video_id = ?`, id).
		Scan(&item.ID, &item.BVID, &item.Title, &item.OwnerName, &item.OwnerID, &item.PublishTime, &via, &raw)
	if err != nil {
		return nil, err
	}
	item.DiscoveredVia = models.CrawlerType(via)
	item.Raw = []byte(raw)
	return &item, nil
}

// Close 实现 models.Sink
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
