package core

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/RecoveryAshes/bilicrawler/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	// 内存压力等级
	PressureNormal    = "normal"
	PressureWarning   = "warning"
	PressureCritical  = "critical"
	PressureEmergency = "emergency"
)

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory int64 // 安全保留内存(字节)
	TaskMemoryUsage     int64 // 单个并发任务的平均内存消耗(字节)
	MaxConcurrencyLimit int   // 建议并发数的绝对上限
}

// ResourceMonitor 主机资源监控器
// 运行期间周期性采样内存和CPU,结束时输出快照写入报告
type ResourceMonitor struct {
	config ResourceMonitorConfig

	// 可替换的数据源
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	cpuPercent    func() (float64, error)

	mu       sync.RWMutex
	snapshot models.ResourceSnapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewResourceMonitor 创建资源监控器
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.TaskMemoryUsage <= 0 {
		config.TaskMemoryUsage = 50 * 1024 * 1024
	}
	if config.MaxConcurrencyLimit <= 0 {
		config.MaxConcurrencyLimit = 16
	}

	return &ResourceMonitor{
		config:        config,
		virtualMemory: mem.VirtualMemory,
		cpuPercent:    sampleCPU,
	}
}

// sampleCPU 100毫秒窗口内所有核心的平均使用率
func sampleCPU() (float64, error) {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, nil
	}
	return percentages[0], nil
}

// Sample 立即采样一次并更新快照
func (rm *ResourceMonitor) Sample() models.ResourceSnapshot {
	var snap models.ResourceSnapshot

	if vm, err := rm.virtualMemory(); err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败")
	} else {
		snap.TotalMemory = vm.Total
		snap.AvailableMemory = vm.Available
		snap.MemoryPercent = vm.UsedPercent
	}

	if pct, err := rm.cpuPercent(); err != nil {
		log.Warn().Err(err).Msg("获取CPU使用率失败")
	} else {
		snap.CPUPercent = pct
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	snap.HeapAlloc = memStats.HeapAlloc
	snap.Goroutines = runtime.NumGoroutine()

	rm.mu.Lock()
	rm.snapshot = snap
	rm.mu.Unlock()
	return snap
}

// Start 启动后台采样,重复调用无效
func (rm *ResourceMonitor) Start(ctx context.Context, interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	rm.cancel = cancel
	rm.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := rm.Sample()
				if p := rm.pressure(snap); p != PressureNormal {
					log.Warn().Str("pressure", p).
						Uint64("available_mb", snap.AvailableMemory/(1024*1024)).
						Msg("主机内存紧张")
				}
			}
		}
	}(rm.done)
}

// Stop 停止后台采样并等待退出
func (rm *ResourceMonitor) Stop() {
	rm.mu.Lock()
	cancel, done := rm.cancel, rm.done
	rm.cancel, rm.done = nil, nil
	rm.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Snapshot 最近一次采样结果,从未采样时先采样一次
func (rm *ResourceMonitor) Snapshot() *models.ResourceSnapshot {
	rm.mu.RLock()
	snap := rm.snapshot
	rm.mu.RUnlock()

	if snap.TotalMemory == 0 && snap.Goroutines == 0 {
		snap = rm.Sample()
	}
	return &snap
}

// MemoryPressure 当前内存压力等级
func (rm *ResourceMonitor) MemoryPressure() string {
	return rm.pressure(*rm.Snapshot())
}

func (rm *ResourceMonitor) pressure(snap models.ResourceSnapshot) string {
	if snap.TotalMemory == 0 {
		return PressureNormal
	}

	availableMB := (int64(snap.AvailableMemory) - rm.config.SafetyReserveMemory) / (1024 * 1024)
	switch {
	case availableMB < 200:
		return PressureEmergency
	case availableMB < 300:
		return PressureCritical
	case availableMB < 500:
		return PressureWarning
	default:
		return PressureNormal
	}
}

// SuggestConcurrency 按可用内存和CPU核数估算合适的并发数
// 结果至少为1,不超过 requested 和配置上限
func (rm *ResourceMonitor) SuggestConcurrency(requested int) int {
	snap := rm.Snapshot()

	result := requested
	if result < 1 {
		result = 1
	}

	if snap.TotalMemory > 0 {
		available := int64(snap.AvailableMemory) - rm.config.SafetyReserveMemory
		byMemory := int(available / rm.config.TaskMemoryUsage)
		if byMemory < result {
			result = byMemory
		}
	}
	if byCPU := runtime.NumCPU() * 4; byCPU < result {
		result = byCPU
	}
	if rm.config.MaxConcurrencyLimit < result {
		result = rm.config.MaxConcurrencyLimit
	}

	switch rm.pressure(*snap) {
	case PressureEmergency:
		result = 1
	case PressureCritical:
		result /= 2
	}

	if result < 1 {
		result = 1
	}
	return result
}
