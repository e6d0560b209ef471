package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate_BoundsConcurrency(t *testing.T) {
	const capacity = 3
	gate := NewGate(capacity)

	var (
		inFlight int32
		maxSeen  int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			permit, err := gate.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() 返回错误: %v", err)
				return
			}
			defer permit.Release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	if maxSeen > capacity {
		t.Errorf("并发峰值 %d 超过容量 %d", maxSeen, capacity)
	}
	if maxSeen < 1 {
		t.Error("至少应有一个任务执行")
	}
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	gate := NewGate(1)

	p, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() 返回错误: %v", err)
	}
	p.Release()
	p.Release()

	// 重复释放不能凭空多出许可
	first, err := gate.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() 返回错误: %v", err)
	}
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gate.Acquire(ctx); err == nil {
		t.Error("容量为1时第二次获取应阻塞直到超时")
	}
}

func TestGate_AcquireHonorsContext(t *testing.T) {
	gate := NewGate(1)
	p, _ := gate.Acquire(context.Background())
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gate.Acquire(ctx); err == nil {
		t.Error("context已取消时应返回错误")
	}
}

func TestNewGate_MinimumCapacity(t *testing.T) {
	if got := NewGate(0).Capacity(); got != 1 {
		t.Errorf("Capacity() = %d, want 1", got)
	}
}
