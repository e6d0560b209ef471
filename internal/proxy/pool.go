package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/RecoveryAshes/bilicrawler/internal/utils"
)

// PoolConfig 代理池配置
type PoolConfig struct {
	Count    int  // 每次加载的代理数量
	Validate bool // 加载时是否做健康检查
}

// Pool 代理池
// 实现 models.ProxyProvider
type Pool struct {
	config   PoolConfig
	provider Provider
	checker  *Checker

	mu     sync.Mutex
	leases []*models.ProxyLease
}

// NewPool 创建代理池
func NewPool(config PoolConfig, provider Provider, checker *Checker) *Pool {
	if config.Count <= 0 {
		config.Count = 1
	}
	if checker == nil {
		checker = NewChecker("", 0)
	}
	return &Pool{
		config:   config,
		provider: provider,
		checker:  checker,
	}
}

// Load 从来源加载代理,开启验证时剔除不可用的代理
func (p *Pool) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(ctx)
}

func (p *Pool) loadLocked(ctx context.Context) error {
	candidates, err := p.provider.FetchProxies(ctx, p.config.Count)
	if err != nil {
		return fmt.Errorf("从 %s 获取代理失败: %w", p.provider.Name(), err)
	}

	healthy := make([]*models.ProxyLease, 0, len(candidates))
	for _, lease := range candidates {
		if p.config.Validate {
			if err := p.checker.Check(ctx, lease); err != nil {
				utils.Warnf("丢弃不可用代理: %v", err)
				continue
			}
		}
		healthy = append(healthy, lease)
	}

	p.leases = healthy
	utils.Infof("代理池加载完成: 来源=%s, 可用 %d/%d", p.provider.Name(), len(healthy), len(candidates))
	return nil
}

// AcquireLease 取出一个代理租约
// 池为空时重新加载一次,仍为空返回 ErrProxyExhausted
func (p *Pool) AcquireLease(ctx context.Context) (*models.ProxyLease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.leases) == 0 {
		if err := p.loadLocked(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrProxyExhausted, err)
		}
	}
	if len(p.leases) == 0 {
		return nil, models.ErrProxyExhausted
	}

	lease := p.leases[0]
	p.leases = p.leases[1:]
	return lease, nil
}

// Size 当前可用代理数
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leases)
}
