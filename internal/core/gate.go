package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate 全局并发闸门
// 一次运行只有一个实例,详情与评论任务共用同一份配额
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
}

// Permit 并发许可
type Permit struct {
	gate *Gate
	once sync.Once
}

// NewGate 创建容量为capacity的闸门,capacity<1时按1处理
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Capacity 闸门容量
func (g *Gate) Capacity() int {
	return g.capacity
}

// Acquire 获取许可,没有空闲许可时阻塞
// context取消时返回错误,不占用许可
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("等待并发许可失败: %w", err)
	}
	return &Permit{gate: g}, nil
}

// Release 归还许可,重复调用无效
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.gate.sem.Release(1)
	})
}
