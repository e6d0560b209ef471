package models

import (
	"context"
	"time"
)

// SessionProvider 登录会话提供者
type SessionProvider interface {
	// Probe 轻量检查当前会话是否有效
	Probe(ctx context.Context) bool

	// Establish 执行登录流程并返回会话
	// 会话已有效时应为无副作用的空操作
	Establish(ctx context.Context, hint LoginHint) (*Session, error)

	// RefreshClientCredentials 把会话cookie同步到请求客户端
	RefreshClientCredentials(ctx context.Context, session *Session) error
}

// LoginHint 登录参数
type LoginHint struct {
	Type    LoginType
	Cookies string
}

// FetchClient 平台数据接口
// 非成功响应返回 *DataFetchError,网络错误以普通错误返回
type FetchClient interface {
	Search(ctx context.Context, keyword string, page, pageSize int, order SearchOrder) (*SearchResult, error)

	// FetchItemDetail 可能返回 ErrFieldMissing
	FetchItemDetail(ctx context.Context, itemID string) (*VideoItem, error)

	// FetchAllComments 内部翻页直到结束,每页之间等待 delay() 返回的时长
	FetchAllComments(ctx context.Context, itemID string, delay func() time.Duration) ([]Comment, error)
}

// Sink 数据持久化
// 必须并发安全,并对重复ID幂等
type Sink interface {
	UpsertItem(ctx context.Context, item *VideoItem) error
	UpsertComments(ctx context.Context, itemID string, comments []Comment) error
	Close() error
}

// ProxyProvider 代理租约来源
type ProxyProvider interface {
	AcquireLease(ctx context.Context) (*ProxyLease, error)
}
