// Package kstat implements the kernel's debug-statistics counters and
// their on-demand profile dump: the same shape as the teacher's stats
// package (stats/stats.go -- Counter_t, Cycles_t, Stats2String), kept
// live rather than compiled out behind a `const Stats = false` flag,
// and additionally able to serialize a snapshot as a
// github.com/google/pprof profile.Profile when the DebugLog syscall
// (#16) is invoked with the profile-dump tag -- the debug-exit/serial
// equivalent of scraping /debug/pprof off a running service, since this
// kernel has no network stack to expose that over.
package kstat

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/pprof/profile"
)

// Counter is a statistical counter, incremented from any CPU.
type Counter int64

func (c *Counter) Inc()        { atomic.AddInt64((*int64)(c), 1) }
func (c *Counter) Add(n int64) { atomic.AddInt64((*int64)(c), n) }
func (c *Counter) Load() int64 { return atomic.LoadInt64((*int64)(c)) }

// Snapshot2String renders every Counter field of st as a line, the same
// reflection-driven idiom as the teacher's Stats2String.
func Snapshot2String(st interface{}) string {
	v := reflect.ValueOf(st)
	var s strings.Builder
	for i := 0; i < v.NumField(); i++ {
		if strings.HasSuffix(v.Field(i).Type().String(), "Counter") {
			n := v.Field(i).Interface().(Counter)
			s.WriteString("\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10))
		}
	}
	return s.String()
}

// Recorder is the kernel-wide set of debug counters kernel/syscalls and
// kernel/sched feed. Fields are exported so Snapshot2String's reflection
// can walk them, matching the teacher's plain-struct-of-counters shape.
type Recorder struct {
	Syscalls      Counter
	TaskSpawns    Counter
	TaskExits     Counter
	ChannelSends  Counter
	ChannelRecvs  Counter
	BlockedWaits  Counter
	DiskScanTags  Counter
}

// New constructs a zeroed recorder.
func New() *Recorder { return &Recorder{} }

// String implements the teacher's Stats2String over this type specifically.
func (r *Recorder) String() string { return Snapshot2String(*r) }

// DumpProfile encodes a point-in-time snapshot of every counter as a
// pprof profile.Profile: one synthetic location/function per counter,
// one sample carrying its current value. Emitted by DebugLog tag 1
// (defs.DebugLogProfile).
func (r *Recorder) DumpProfile() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "snapshot", Unit: "count"},
		Period:     1,
	}

	add := func(name string, v int64) {
		fn := &profile.Function{ID: uint64(len(p.Function) + 1), Name: name}
		loc := &profile.Location{ID: uint64(len(p.Location) + 1), Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{v},
		})
	}

	add("syscalls", r.Syscalls.Load())
	add("task_spawns", r.TaskSpawns.Load())
	add("task_exits", r.TaskExits.Load())
	add("channel_sends", r.ChannelSends.Load())
	add("channel_recvs", r.ChannelRecvs.Load())
	add("blocked_waits", r.BlockedWaits.Load())
	add("disk_scan_tags", r.DiskScanTags.Load())
	return p
}

// LogDiskScan implements DebugLog tag 2 (defs.DebugLogDiskScan):
// original_source's disk.rs raw-LBA debug dump rides this tag rather
// than a syscall number of its own, but the IDE PIO driver it reads
// through is out of scope here -- there is no disk to scan, so the tag
// is accepted and counted rather than rejected, matching its original
// status as a test-harness-only probe.
func (r *Recorder) LogDiskScan() { r.DiskScanTags.Inc() }
