// Package monitor implements the Resource Monitor (§4.4): for every live
// supervised handler, sum CPU/RAM usage across its process tree, fold in
// matching network usage from the bandwidth tracker, and write the result
// into both the handler's own Monitor and the shared AppStatus/usage
// ledger.
package monitor

import (
	"context"
	"fmt"
	"log/slog"

	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
	"github.com/artisan-hosting/ais_manager/internal/bandwidth"
	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/state"
	"github.com/artisan-hosting/ais_manager/internal/supervised"
)

// ResourceMonitor samples CPU/RAM/network usage for every handler tracked
// by a Registry.
type ResourceMonitor struct {
	Registry   *registry.Registry
	Bandwidth  *bandwidth.Tracker // nil disables network-usage folding
	CgroupRoot string
	Logger     *slog.Logger
}

// New constructs a ResourceMonitor. logger defaults to slog.Default() if nil.
func New(reg *registry.Registry, bw *bandwidth.Tracker, cgroupRoot string, logger *slog.Logger) *ResourceMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceMonitor{Registry: reg, Bandwidth: bw, CgroupRoot: cgroupRoot, Logger: logger}
}

// SampleSystem runs one Resource Monitor pass over the system handler map.
func (m *ResourceMonitor) SampleSystem(ctx context.Context) error {
	ids, err := m.Registry.SystemHandlerIds()
	if err != nil {
		return fmt.Errorf("monitor: sample system: %w", err)
	}
	return m.sampleIds(ctx, ids, m.Registry.SystemHandler)
}

// SampleClient runs one Resource Monitor pass over the client handler map.
func (m *ResourceMonitor) SampleClient(ctx context.Context) error {
	ids, err := m.Registry.ClientHandlerIds()
	if err != nil {
		return fmt.Errorf("monitor: sample client: %w", err)
	}
	return m.sampleIds(ctx, ids, m.Registry.ClientHandler)
}

func (m *ResourceMonitor) sampleIds(ctx context.Context, ids []state.AppId, lookup func(state.AppId) (*supervised.Supervised, error)) error {
	var networkByService map[string]state.NetworkUsage
	if m.Bandwidth != nil {
		var err error
		networkByService, err = m.Bandwidth.AggregateByService(m.CgroupRoot)
		if err != nil {
			m.Logger.Warn("monitor: bandwidth aggregation failed, continuing without network metrics",
				slog.Any("error", err))
			networkByService = nil
		}
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		h, err := lookup(id)
		if err != nil {
			continue // reaped between listing and lookup; the next tick handles it
		}
		if !h.Running() {
			continue // the dead-sweeper handles this
		}

		cpu, mem, err := aggregateTreeUsage(h.Pid())
		if err != nil {
			m.Logger.Warn("monitor: sample failed", slog.Int("pid", h.Pid()), slog.Any("error", err))
			continue
		}
		h.Monitor().Store(cpu, mem)

		status, err := m.Registry.Status(id)
		if err != nil {
			continue
		}

		metrics := &state.Metrics{CPUUsage: cpu, MemoryUsage: mem}
		appName := status.AppData.State.Name
		if svc, ok := networkByService[appName]; ok {
			metrics.Network = &state.NetworkUsage{RxBytes: svc.RxBytes, TxBytes: svc.TxBytes}
		}
		if err := m.Registry.UpdateStatus(id, func(s *state.AppStatus) {
			s.Metrics = metrics
		}); err != nil {
			continue
		}

		ledgerEntry := state.LatestMetrics{
			AppName:     appName,
			CPUUsage:    metrics.CPUUsage,
			MemoryUsage: metrics.MemoryUsage,
			RecordedAt:  state.Now(),
		}
		if metrics.Network != nil {
			ledgerEntry.RxBytes = metrics.Network.RxBytes
			ledgerEntry.TxBytes = metrics.Network.TxBytes
		}
		if err := m.Registry.PutLedgerEntry(appName, ledgerEntry); err != nil {
			m.Logger.Warn("monitor: ledger write failed", slog.String("app", appName), slog.Any("error", err))
		}
	}
	return nil
}

// aggregateTreeUsage sums CPU percent and resident memory across pid and
// every descendant in its process tree.
func aggregateTreeUsage(pid int) (cpu, mem float32, err error) {
	root, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: open process %d: %v", apperrors.ErrGeneral, pid, err)
	}

	procs := []*gopsprocess.Process{root}
	procs = append(procs, collectDescendants(root)...)

	var totalCPU float64
	var totalMem float32
	for _, p := range procs {
		if c, err := p.CPUPercent(); err == nil {
			totalCPU += c
		}
		if memInfo, err := p.MemoryInfo(); err == nil && memInfo != nil {
			totalMem += float32(memInfo.RSS) / (1024 * 1024) // MiB
		}
	}
	return float32(totalCPU), totalMem, nil
}

// collectDescendants walks the process tree depth-first under p.
func collectDescendants(p *gopsprocess.Process) []*gopsprocess.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	out := make([]*gopsprocess.Process, 0, len(children))
	for _, c := range children {
		out = append(out, c)
		out = append(out, collectDescendants(c)...)
	}
	return out
}
