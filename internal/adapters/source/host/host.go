// Package host reads operating system metrics through gopsutil.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ghalamif/MetricFlow/internal/domain"
	"github.com/ghalamif/MetricFlow/internal/ports"
)

const (
	MetricUsedMemory   = "used-memory"
	MetricDiskPrefix   = "disk-available-space-"
	MetricCPUPercent   = "cpu-usage-percent"
	MetricLoadAverage1 = "load-average-1"
)

type Options struct {
	Disks bool `yaml:"disks"`
	CPU   bool `yaml:"cpu"`
	Load  bool `yaml:"load"`
}

// DefaultOptions matches the classic publisher payload: memory and disks.
func DefaultOptions() Options {
	return Options{Disks: true}
}

type readers struct {
	memory     func(context.Context) (*mem.VirtualMemoryStat, error)
	partitions func(context.Context, bool) ([]disk.PartitionStat, error)
	usage      func(context.Context, string) (*disk.UsageStat, error)
	cpuPercent func(context.Context, time.Duration, bool) ([]float64, error)
	loadAvg    func(context.Context) (*load.AvgStat, error)
}

func systemReaders() readers {
	return readers{
		memory:     mem.VirtualMemoryWithContext,
		partitions: disk.PartitionsWithContext,
		usage:      disk.UsageWithContext,
		cpuPercent: cpu.PercentWithContext,
		loadAvg:    load.AvgWithContext,
	}
}

type Source struct {
	opts Options
	r    readers
	now  func() time.Time
}

func New(opts Options) *Source {
	return &Source{opts: opts, r: systemReaders(), now: time.Now}
}

func (s *Source) Name() string { return "host" }

// Collect returns whatever could be read. Failed readers are joined into the
// returned error; the samples gathered before and after them are kept.
func (s *Source) Collect(ctx context.Context) ([]domain.Sample, error) {
	at := s.now()
	var (
		out  []domain.Sample
		errs []error
	)
	add := func(name string, v float64) {
		sample, err := domain.NewSample(name, float32(v), at)
		if err != nil {
			errs = append(errs, err)
			return
		}
		out = append(out, sample)
	}

	if vm, err := s.r.memory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("virtual memory: %w", err))
	} else {
		add(MetricUsedMemory, float64(vm.Used))
	}

	if s.opts.Disks {
		errs = append(errs, s.collectDisks(ctx, add))
	}

	if s.opts.CPU {
		pct, err := s.r.cpuPercent(ctx, 0, false)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("cpu percent: %w", err))
		case len(pct) > 0:
			add(MetricCPUPercent, pct[0])
		}
	}

	if s.opts.Load {
		if avg, err := s.r.loadAvg(ctx); err != nil {
			errs = append(errs, fmt.Errorf("load average: %w", err))
		} else {
			add(MetricLoadAverage1, avg.Load1)
		}
	}

	return out, errors.Join(errs...)
}

// collectDisks numbers physical partitions in enumeration order.
func (s *Source) collectDisks(ctx context.Context, add func(string, float64)) error {
	parts, err := s.r.partitions(ctx, false)
	if err != nil {
		return fmt.Errorf("disk partitions: %w", err)
	}
	var errs []error
	for idx, p := range parts {
		u, err := s.r.usage(ctx, p.Mountpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("disk usage %s: %w", p.Mountpoint, err))
			continue
		}
		add(fmt.Sprintf("%s%d", MetricDiskPrefix, idx), float64(u.Free))
	}
	return errors.Join(errs...)
}

var _ ports.MetricsSource = (*Source)(nil)
