// Package proc reads process statistics from /proc for the supervised
// service child.
package proc

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Stats is a point-in-time sample of a process.
type Stats struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   int64   `json:"memory_mb"`
	MemoryRSS  int64   `json:"memory_rss"`
	VirtualMB  int64   `json:"virtual_mb"`
	State      string  `json:"state"`
	Threads    int     `json:"threads"`
}

// procStat holds the /proc/[pid]/stat fields we care about.
type procStat struct {
	utime     uint64
	stime     uint64
	startTime uint64
	state     byte
	threads   int
	vsize     uint64
	rss       int64
}

// CPUTracker derives CPU percentage from consecutive samples of one PID.
type CPUTracker struct {
	pid       int
	utime     uint64
	stime     uint64
	timestamp time.Time
}

func NewCPUTracker() *CPUTracker {
	return &CPUTracker{}
}

// ReadStats samples pid. A non-nil tracker turns the raw jiffy counters
// into a CPU percentage between calls.
func ReadStats(pid int, tracker *CPUTracker) (*Stats, error) {
	if pid <= 0 {
		return nil, errors.New("invalid PID")
	}

	ps, err := readProcStat(pid)
	if err != nil {
		return nil, err
	}

	pageSize := int64(os.Getpagesize())
	memRSS := ps.rss * pageSize

	stats := &Stats{
		PID:       pid,
		MemoryRSS: memRSS,
		MemoryMB:  memRSS / (1024 * 1024),
		VirtualMB: int64(ps.vsize) / (1024 * 1024),
		State:     string(ps.state),
		Threads:   ps.threads,
	}

	if tracker != nil {
		now := time.Now()
		total := ps.utime + ps.stime

		if tracker.pid == pid && !tracker.timestamp.IsZero() {
			elapsed := now.Sub(tracker.timestamp).Seconds()
			if elapsed > 0 {
				cpuDelta := float64(total - (tracker.utime + tracker.stime))
				// Jiffies to seconds at the standard 100 Hz.
				stats.CPUPercent = (cpuDelta / 100.0 / elapsed) * 100.0
			}
		}

		tracker.pid = pid
		tracker.utime = ps.utime
		tracker.stime = ps.stime
		tracker.timestamp = now
	}

	return stats, nil
}

func readProcStat(pid int) (*procStat, error) {
	path := filepath.Join("/proc", strconv.Itoa(pid), "stat")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read stat file")
	}

	// The comm field can contain spaces and parentheses, so parse from the
	// last ')'.
	content := string(data)
	closeParen := strings.LastIndex(content, ")")
	if closeParen < 0 {
		return nil, errors.New("malformed stat file: no closing paren")
	}

	fields := strings.Fields(strings.TrimSpace(content[closeParen+1:]))
	if len(fields) < 22 {
		return nil, errors.Errorf("malformed stat file: expected 22+ fields, got %d", len(fields))
	}

	// 0-based indices after comm: 0 state, 11 utime, 12 stime,
	// 17 num_threads, 19 starttime, 20 vsize, 21 rss.
	ps := &procStat{state: fields[0][0]}

	if ps.utime, err = strconv.ParseUint(fields[11], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse utime")
	}
	if ps.stime, err = strconv.ParseUint(fields[12], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse stime")
	}
	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return nil, errors.Wrap(err, "parse num_threads")
	}
	ps.threads = threads
	if ps.startTime, err = strconv.ParseUint(fields[19], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse starttime")
	}
	if ps.vsize, err = strconv.ParseUint(fields[20], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse vsize")
	}
	if ps.rss, err = strconv.ParseInt(fields[21], 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse rss")
	}

	return ps, nil
}

// StartTime returns when a process started, from its starttime jiffies and
// the system boot time.
func StartTime(pid int) (time.Time, error) {
	ps, err := readProcStat(pid)
	if err != nil {
		return time.Time{}, err
	}
	boot, err := bootTime()
	if err != nil {
		return time.Time{}, err
	}
	return boot.Add(time.Duration(ps.startTime/100) * time.Second), nil
}

func bootTime() (time.Time, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return time.Time{}, errors.Wrap(err, "open /proc/stat")
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		btime, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return time.Time{}, errors.Wrap(err, "parse btime")
		}
		return time.Unix(btime, 0), nil
	}
	return time.Time{}, errors.New("btime not found in /proc/stat")
}
