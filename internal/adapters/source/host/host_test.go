package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

var fixed = time.UnixMilli(1_700_000_000_000)

func fakeSource(opts Options, r readers) *Source {
	return &Source{opts: opts, r: r, now: func() time.Time { return fixed }}
}

func healthyReaders() readers {
	return readers{
		memory: func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Used: 4096}, nil
		},
		partitions: func(context.Context, bool) ([]disk.PartitionStat, error) {
			return []disk.PartitionStat{{Mountpoint: "/"}, {Mountpoint: "/data"}}, nil
		},
		usage: func(_ context.Context, path string) (*disk.UsageStat, error) {
			if path == "/" {
				return &disk.UsageStat{Free: 100}, nil
			}
			return &disk.UsageStat{Free: 200}, nil
		},
		cpuPercent: func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{12.5}, nil
		},
		loadAvg: func(context.Context) (*load.AvgStat, error) {
			return &load.AvgStat{Load1: 0.75}, nil
		},
	}
}

func TestCollectDefaults(t *testing.T) {
	s := fakeSource(DefaultOptions(), healthyReaders())
	got, err := s.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := map[string]float32{
		"used-memory":            4096,
		"disk-available-space-0": 100,
		"disk-available-space-1": 200,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d: %+v", len(want), len(got), got)
	}
	for _, s := range got {
		if want[s.Name] != s.Value {
			t.Fatalf("sample %s = %v, want %v", s.Name, s.Value, want[s.Name])
		}
		if s.Timestamp != fixed.UnixMilli() {
			t.Fatalf("sample %s timestamp %d", s.Name, s.Timestamp)
		}
	}
}

func TestCollectAllMetrics(t *testing.T) {
	s := fakeSource(Options{Disks: true, CPU: true, Load: true}, healthyReaders())
	got, err := s.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(got))
	}
	if got[3].Name != MetricCPUPercent || got[4].Name != MetricLoadAverage1 {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestCollectPartialFailure(t *testing.T) {
	r := healthyReaders()
	diskErr := errors.New("permission denied")
	r.usage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		if path == "/data" {
			return nil, diskErr
		}
		return &disk.UsageStat{Free: 100}, nil
	}
	s := fakeSource(DefaultOptions(), r)

	got, err := s.Collect(context.Background())
	if !errors.Is(err, diskErr) {
		t.Fatalf("expected joined disk error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected memory and one disk sample, got %+v", got)
	}
}

func TestCollectMemoryFailure(t *testing.T) {
	r := healthyReaders()
	r.memory = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, errors.New("boom") }
	s := fakeSource(Options{}, r)

	got, err := s.Collect(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(got) != 0 {
		t.Fatalf("expected no samples, got %+v", got)
	}
}

func TestCollectLiveHost(t *testing.T) {
	got, err := New(DefaultOptions()).Collect(context.Background())
	if err != nil {
		t.Logf("partial host read: %v", err)
	}
	for _, s := range got {
		if s.Name == MetricUsedMemory {
			if s.Value <= 0 {
				t.Fatalf("used memory should be positive, got %v", s.Value)
			}
			return
		}
	}
	t.Skip("used memory not readable on this host")
}
