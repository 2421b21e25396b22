// Package procfs provides the handful of /proc-backed process-liveness
// primitives the supervisor needs to decide whether a PID it is tracking is
// still worth monitoring: Alive, IsZombie, and a per-PID cgroup membership
// lookup (CgroupPath, ServiceName). The bandwidth aggregator does not use
// the lookup; it scans the cgroup tree itself (internal/bandwidth/cgroup.go).
//
// Grounded on the teacher's own /proc-reading style (readProcInfo in
// internal/watcher/process_watcher_linux.go) and its use of
// golang.org/x/sys/unix elsewhere for raw kernel calls; liveness itself uses
// unix.Kill(pid, 0), the standard no-op-signal probe, rather than parsing
// /proc/<pid>/stat.
package procfs

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Alive reports whether pid identifies an existing process. It does not
// distinguish a live process from one the caller
// lacks permission to see (EPERM also means "pid exists") — both are
// reported as alive, since the supervisor only ever checks PIDs it itself
// spawned or adopted.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// IsZombie reports whether pid is in zombie (defunct) state, read from the
// third whitespace-delimited field of /proc/<pid>/stat. A read failure
// (process already gone) is reported as not-a-zombie; the caller's own
// Alive check is what decides liveness.
func IsZombie(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// The second field is "(comm)" and may itself contain spaces or
	// parens, so split on the closing paren rather than naive
	// whitespace splitting.
	close := strings.LastIndexByte(string(b), ')')
	if close < 0 || close+2 >= len(b) {
		return false
	}
	fields := strings.Fields(string(b[close+2:]))
	if len(fields) == 0 {
		return false
	}
	return fields[0] == "Z"
}

// CgroupPath returns the cgroup v2 path recorded for pid in
// /proc/<pid>/cgroup, or "" if it cannot be read.
func CgroupPath(pid int) string {
	f, err := os.Open(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		// cgroup v2 lines look like "0::/artisan.slice/myapp.service".
		parts := strings.SplitN(line, ":", 3)
		if len(parts) == 3 && parts[0] == "0" {
			return parts[2]
		}
	}
	return ""
}

// ServiceName extracts the trailing ".service"-less unit name from a
// cgroup path produced by CgroupPath, e.g.
// "/artisan.slice/myapp.service" -> "myapp".
func ServiceName(cgroupPath string) string {
	base := cgroupPath
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, ".service")
}
