// Package psutil provides the host usage delta stat surfaced by the monitor
package psutil

import (
	"fmt"
	"os"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astisplitter/pkg/astisplitter"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
)

func NewHostUsage() (astikit.DeltaStat, error) {
	// Create valuer
	vr, err := newHostUsageValuer(int32(os.Getpid()))
	if err != nil {
		return astikit.DeltaStat{}, fmt.Errorf("psutil: creating valuer failed: %w", err)
	}

	// Create delta stat
	return astikit.DeltaStat{
		Metadata: astikit.DeltaStatMetadata{
			Description: "CPU and memory usage of the host and of the splitter process",
			Label:       "Host usage",
			Name:        astisplitter.DeltaStatNameHostUsage,
		},
		Valuer: vr,
	}, nil
}

var _ astikit.DeltaStatValuer = (*hostUsageValuer)(nil)

type hostUsageValuer struct {
	lastTimes *cpu.TimesStat
	p         *process.Process
}

func newHostUsageValuer(pid int32) (vr *hostUsageValuer, err error) {
	// Create valuer
	vr = &hostUsageValuer{}

	// Create process
	if vr.p, err = process.NewProcess(pid); err != nil {
		err = fmt.Errorf("psutil: creating process %d failed: %w", pid, err)
		return
	}
	return
}

func (vr *hostUsageValuer) Value(delta time.Duration) interface{} {
	return astisplitter.DeltaStatHostUsageValue{
		CPU:    vr.cpu(delta),
		Memory: vr.memory(),
	}
}

func (vr *hostUsageValuer) cpu(delta time.Duration) (v astisplitter.DeltaStatHostCPUUsageValue) {
	// Process, only once a previous value exists
	if t, err := vr.p.Times(); err == nil {
		if vr.lastTimes != nil && delta > 0 {
			v.Process = astikit.Float64Ptr(((t.Total() - t.Idle) - (vr.lastTimes.Total() - vr.lastTimes.Idle)) / delta.Seconds() * 100)
		}
		vr.lastTimes = t
	}

	// Host
	if ps, err := cpu.Percent(0, true); err == nil {
		v.Individual = ps
	}
	if ps, err := cpu.Percent(0, false); err == nil && len(ps) > 0 {
		v.Total = ps[0]
	}
	return
}

func (vr *hostUsageValuer) memory() (v astisplitter.DeltaStatHostMemoryUsageValue) {
	if i, err := vr.p.MemoryInfo(); err == nil {
		v.Resident = i.RSS
		v.Virtual = i.VMS
	}
	if s, err := mem.VirtualMemory(); err == nil {
		v.Total = s.Total
		v.Used = s.Used
	}
	return
}
