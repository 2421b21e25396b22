package bandwidth

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// scanCgroupServices walks cgroupRoot/*.service/cgroup.procs and returns a
// PID -> service-name map, per §6's "/sys/fs/cgroup/artisan.slice/<name>.service/cgroup.procs"
// external interface.
func scanCgroupServices(cgroupRoot string) (map[int]string, error) {
	entries, err := os.ReadDir(cgroupRoot)
	if err != nil {
		return nil, fmt.Errorf("read cgroup root %s: %w", cgroupRoot, err)
	}

	out := make(map[int]string)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".service") {
			continue
		}
		service := strings.TrimSuffix(e.Name(), ".service")
		procsPath := filepath.Join(cgroupRoot, e.Name(), "cgroup.procs")

		pids, err := readCgroupProcs(procsPath)
		if err != nil {
			// A single unreadable unit shouldn't abort the whole scan; the
			// caller treats a missing service as "no traffic attributed".
			continue
		}
		for _, pid := range pids {
			out[pid] = service
		}
	}
	return out, nil
}

func readCgroupProcs(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pids []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, scanner.Err()
}
