package engine

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/irfndi/etffactor/internal/cache"
	"github.com/irfndi/etffactor/pkg/factors"
)

// Info describes the engine for operators.
type Info struct {
	Factors    int                           `json:"factors"`
	ByCategory map[factors.Category][]string `json:"by_category"`
	Workers    int                           `json:"workers"`
	QueueDepth int                           `json:"queue_depth"`
	QueueSize  int                           `json:"queue_size"`
	Adjustment factors.Adjustment            `json:"adjustment"`
	CrossCheck string                        `json:"cross_check,omitempty"`
	Cache      cache.Info                    `json:"cache"`
	Data       *factors.FrameSummary         `json:"data,omitempty"`
	Memory     MemoryInfo                    `json:"memory"`
	Goroutines int                           `json:"goroutines"`
}

// MemoryInfo reports host and process memory.
type MemoryInfo struct {
	HostTotalMB     uint64  `json:"host_total_mb"`
	HostAvailableMB uint64  `json:"host_available_mb"`
	HostUsedPercent float64 `json:"host_used_percent"`
	HeapAllocMB     uint64  `json:"heap_alloc_mb"`
}

// Info gathers the registry, pool, cache and memory state, plus a summary
// of the frame the most recent batch ran on. A failing cache
// or memory probe leaves its section empty.
func (e *Engine) Info(ctx context.Context) Info {
	info := Info{
		Factors:    len(e.registry.Names()),
		ByCategory: e.registry.ByCategory(),
		Workers:    e.pool.Workers(),
		QueueDepth: e.pool.GetQueueDepth(),
		QueueSize:  e.pool.GetQueueCapacity(),
		Adjustment: e.config.Adjustment,
		Goroutines: runtime.NumGoroutine(),
		Data:       e.lastData.Load(),
	}
	if e.reference != nil {
		info.CrossCheck = e.reference.Name()
	}

	if ci, err := e.coord.Store().Info(ctx); err == nil {
		info.Cache = ci
	} else {
		e.logger.WithError(err).Warn("Failed to read cache info")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.Memory.HostTotalMB = vm.Total / 1024 / 1024
		info.Memory.HostAvailableMB = vm.Available / 1024 / 1024
		info.Memory.HostUsedPercent = vm.UsedPercent
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.Memory.HeapAllocMB = ms.HeapAlloc / 1024 / 1024
	return info
}
