package ps

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type Status struct {
	CPU    CPU    `json:"cpu"`
	Memory Memory `json:"memory"`
	Disk   *Disk  `json:"disk,omitempty"`
}

type CPU struct {
	Percent float64 `json:"percent"`
}

type Memory struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
	Readable    string  `json:"readable"`
}

type Disk struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
	Readable    string  `json:"readable"`
}

// Collect samples CPU and memory, plus disk usage of dir when it is not empty.
func Collect(dir string) (Status, error) {
	var (
		s   Status
		err error
	)
	if s.CPU, err = CPUStatus(); err != nil {
		return s, err
	}
	if s.Memory, err = MemoryStatus(); err != nil {
		return s, err
	}
	if dir != "" {
		d, err := DiskUsage(dir)
		if err != nil {
			return s, err
		}
		s.Disk = &d
	}

	return s, nil
}

func CPUStatus() (CPU, error) {
	list, err := cpu.Percent(time.Millisecond*50, false)
	if err != nil {
		return CPU{}, err
	}
	if len(list) == 0 {
		return CPU{}, nil
	}

	return CPU{Percent: list[0]}, nil
}

func MemoryStatus() (Memory, error) {
	memory, err := mem.VirtualMemory()
	if err != nil {
		return Memory{}, err
	}

	return Memory{
		Total:       memory.Total,
		Used:        memory.Used,
		UsedPercent: memory.UsedPercent,
		Readable:    humanize.Bytes(memory.Used) + " / " + humanize.Bytes(memory.Total),
	}, nil
}

func DiskUsage(path string) (Disk, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return Disk{}, err
	}

	return Disk{
		Path:        path,
		Total:       usage.Total,
		Used:        usage.Used,
		UsedPercent: usage.UsedPercent,
		Readable:    humanize.Bytes(usage.Used) + " / " + humanize.Bytes(usage.Total),
	}, nil
}
