// Package health sbírá "snímek" stavu hostitele a vlastního procesu
// pro health endpoint (gopsutil).
package health

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	mb = 1024.0 * 1024.0
	gb = mb * 1024.0
)

// Stats drží jeden snímek stavu systému.
type Stats struct {
	// CPULoad: Průměrné vytížení procesoru v procentech (0-100) od minulého měření.
	CPULoad float64 `json:"cpuLoad"`

	// RAM: Total - Available, bez diskové cache.
	RamUsedMB  float64 `json:"ramUsedMB"`
	RamTotalMB float64 `json:"ramTotalMB"`

	// ProcessRamMB: RSS tohoto procesu.
	ProcessRamMB float64 `json:"processRamMB"`
	Goroutines   int     `json:"goroutines"`

	DiskUsedGB  float64 `json:"diskUsedGB"`
	DiskTotalGB float64 `json:"diskTotalGB"`

	HostUptimeSeconds uint64    `json:"hostUptimeSeconds"`
	CollectedAt       time.Time `json:"collectedAt"`
}

// Collector měří stav a drží poslední snímek.
type Collector struct {
	diskPath string
	logger   *slog.Logger

	mu     sync.RWMutex
	latest Stats
}

// NewCollector vytvoří collector. diskPath je oddíl, jehož zaplnění hlídáme ("/").
func NewCollector(diskPath string, logger *slog.Logger) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Collector{diskPath: diskPath, logger: logger}
}

// Collect provede jedno měření. Chyba jedné části (CPU, RAM, disk) nezastaví
// ostatní: zaloguje se a hodnota zůstane nulová.
func (c *Collector) Collect(ctx context.Context) Stats {
	stats := Stats{
		Goroutines:  runtime.NumGoroutine(),
		CollectedAt: time.Now().UTC(),
	}

	// 1. CPU: interval 0 = rozdíl čítačů od minulého volání, neblokuje.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPULoad = pct[0]
	} else if err != nil {
		c.logger.Debug("Chyba při čtení CPU statistik", "error", err)
	}

	// 2. RAM: Linux drží volnou paměť jako cache, proto Total - Available.
	if vMem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.RamUsedMB = float64(vMem.Total-vMem.Available) / mb
		stats.RamTotalMB = float64(vMem.Total) / mb
	} else {
		c.logger.Debug("Chyba při čtení RAM statistik", "error", err)
	}

	// 3. Vlastní proces (RSS)
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil {
			stats.ProcessRamMB = float64(memInfo.RSS) / mb
		}
	}

	// 4. Disk
	if dStat, err := disk.UsageWithContext(ctx, c.diskPath); err == nil {
		stats.DiskUsedGB = float64(dStat.Used) / gb
		stats.DiskTotalGB = float64(dStat.Total) / gb
	} else {
		c.logger.Debug("Chyba při čtení statistik disku", "path", c.diskPath, "error", err)
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		stats.HostUptimeSeconds = up
	}

	c.mu.Lock()
	c.latest = stats
	c.mu.Unlock()
	return stats
}

// Latest vrací poslední snímek (nulový, dokud neproběhlo první měření).
func (c *Collector) Latest() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Run měří hned a pak každých interval, dokud nezanikne ctx.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	c.Collect(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}
