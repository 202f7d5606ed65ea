// Package sysinfo describes the machine a batch was graded on.
//
// Execution times in a report only mean something relative to the host that
// produced them, so the report footer and the batch summary carry a short
// host description: hostname, distribution, kernel, CPU and memory.
package sysinfo

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemInfo contains static information about the grading host.
type SystemInfo struct {
	// OS is the operating system name (linux, darwin)
	OS string `json:"os"`

	// Platform is the distribution name (ubuntu, debian, alpine)
	Platform string `json:"platform"`

	// PlatformVersion is the distribution version (22.04, 12, etc.)
	PlatformVersion string `json:"platformVersion"`

	KernelVersion string `json:"kernelVersion"`

	// Arch is the Go architecture (amd64, arm64)
	Arch string `json:"arch"`

	Hostname string `json:"hostname"`

	// VirtualizationSystem is kvm, docker, etc. when running as a guest.
	VirtualizationSystem string `json:"virtSystem,omitempty"`

	CPUModel   string `json:"cpuModel"`
	CPUThreads int    `json:"cpuThreads"` // Logical CPU count

	// MemoryTotal is total RAM in bytes.
	MemoryTotal uint64 `json:"memoryTotal"`

	// Load1 is the one minute load average when the batch started. A busy
	// grader inflates execution times.
	Load1 float64 `json:"load1"`
}

// Collect gathers system information from the host. Individual probes that
// fail leave their fields empty.
func Collect(ctx context.Context) (*SystemInfo, error) {
	info := &SystemInfo{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	hostInfo, err := host.InfoWithContext(ctx)
	if err == nil {
		info.Platform = hostInfo.Platform
		info.PlatformVersion = hostInfo.PlatformVersion
		info.KernelVersion = hostInfo.KernelVersion
		info.Hostname = hostInfo.Hostname
		if hostInfo.VirtualizationRole == "guest" {
			info.VirtualizationSystem = hostInfo.VirtualizationSystem
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cpuInfo, err := cpu.InfoWithContext(ctx)
	if err == nil && len(cpuInfo) > 0 {
		info.CPUModel = strings.TrimSpace(cpuInfo[0].ModelName)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUThreads = n
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = memInfo.Total
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.Load1 = avg.Load1
	}

	return info, nil
}

// Describe returns a one-line description for report footers, e.g.
// "grader01 (ubuntu 22.04, linux/amd64, 8 x Intel Xeon, 15.6 GiB RAM, load 0.42)".
func (s *SystemInfo) Describe() string {
	name := s.Hostname
	if name == "" {
		name = "unknown host"
	}

	parts := make([]string, 0, 6)
	if s.Platform != "" {
		parts = append(parts, strings.TrimSpace(s.Platform+" "+s.PlatformVersion))
	}
	parts = append(parts, s.OS+"/"+s.Arch)
	if s.VirtualizationSystem != "" {
		parts = append(parts, s.VirtualizationSystem+" guest")
	}
	switch {
	case s.CPUThreads > 0 && s.CPUModel != "":
		parts = append(parts, fmt.Sprintf("%d x %s", s.CPUThreads, s.CPUModel))
	case s.CPUThreads > 0:
		parts = append(parts, fmt.Sprintf("%d CPUs", s.CPUThreads))
	}
	if s.MemoryTotal > 0 {
		parts = append(parts, fmt.Sprintf("%.1f GiB RAM", float64(s.MemoryTotal)/(1<<30)))
	}
	parts = append(parts, fmt.Sprintf("load %.2f", s.Load1))

	return name + " (" + strings.Join(parts, ", ") + ")"
}
