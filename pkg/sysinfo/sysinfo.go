// Package sysinfo reports the monitor host's own telemetry and detects the
// primary interface address used for certificate SANs.
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
)

var errNoPrimaryInterface = errors.New("no active non-loopback interface found")

// Info is the /api/system payload.
type Info struct {
	Hostname       string  `json:"hostname"`
	OS             string  `json:"os"`
	Platform       string  `json:"platform"`
	UptimeSeconds  uint64  `json:"uptime_seconds"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	MemTotalMB     uint64  `json:"mem_total_mb"`
	GoVersion      string  `json:"go_version"`
	Goroutines     int     `json:"goroutines"`
	PrimaryIP      string  `json:"primary_ip,omitempty"`
}

// Collect gathers host telemetry. Partial data is fine: a collector that
// errors leaves its field zero rather than failing the whole call.
func Collect(ctx context.Context) Info {
	info := Info{
		OS:         runtime.GOOS,
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hi.Hostname
		info.Platform = fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion)
		info.UptimeSeconds = hi.Uptime
	}

	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemUsedPercent = vm.UsedPercent
		info.MemTotalMB = vm.Total / (1024 * 1024)
	}

	if ip, err := PrimaryIP(ctx); err == nil {
		info.PrimaryIP = ip.String()
	}

	return info
}

// PrimaryIP returns the first IPv4 address of an up, non-loopback
// interface. Used for the self-signed certificate SAN and shown in the
// startup log.
func PrimaryIP(ctx context.Context) (net.IP, error) {
	ifaces, err := gopsnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		up, loopback := false, false

		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}

		if !up || loopback {
			continue
		}

		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}

			if ip == nil || ip.To4() == nil || ip.IsLinkLocalUnicast() {
				continue
			}

			return ip.To4(), nil
		}
	}

	return nil, errNoPrimaryInterface
}
