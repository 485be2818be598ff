// Package sysinfo populates the final result's metadata.system_info block
// from the host's CPU, memory, and kernel details via gopsutil, the same
// introspection library the coordinator already uses to validate CPU
// affinity core counts.
package sysinfo

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Info is the system_info block embedded once in a run's final JSON
// metadata.
type Info struct {
	CPUModel      string `json:"cpu_model"`
	CPUCores      int    `json:"cpu_cores"`
	TotalMemoryMB uint64 `json:"total_memory_mb"`
	OS            string `json:"os"`
	Platform      string `json:"platform"`
	KernelVersion string `json:"kernel_version"`
	Hostname      string `json:"hostname"`
}

// Collect gathers the host's system_info, tolerating partial failures from
// any one gopsutil subsystem — a missing /proc entry in a container should
// degrade a field to its zero value, not fail the whole benchmark run.
func Collect(ctx context.Context) Info {
	var info Info

	if cpuInfo, err := cpu.InfoWithContext(ctx); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = cores
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.TotalMemoryMB = vm.Total / (1024 * 1024)
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.OS = h.OS
		info.Platform = h.Platform
		info.KernelVersion = h.KernelVersion
		info.Hostname = h.Hostname
	}

	return info
}
