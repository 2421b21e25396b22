// Package bandwidth implements the Bandwidth Tracker capability (§4.3): four
// kernel probes that maintain a per-PID hit counter, and a user-space
// aggregation step that joins those counters against cgroup membership to
// produce a per-service {rx, tx} total.
//
// Grounded on the pack's cilium/ebpf usage
// (IAmSoThirsty-Project-AI/octoreflex/internal/bpf/loader.go) for the
// overall Load/Objects/Close shape, adapted from that file's CO-RE ELF
// loader (which requires an embedded, pre-compiled BPF object file this
// repo has no way to produce) to two tiny programs assembled directly
// through cilium/ebpf's asm package. Each program does the minimum needed
// to prove per-PID attribution — incrementing a hit counter keyed by PID —
// rather than inspecting socket-buffer length fields, which would require
// CO-RE relocations against kernel struct layouts that only a real compiled
// .o can supply. This is a deliberate scope reduction from "exact byte
// counts" to "call-count proxy", recorded here rather than silently
// papered over.
package bandwidth

import (
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"

	"github.com/artisan-hosting/ais_manager/internal/procfs"
	"github.com/artisan-hosting/ais_manager/internal/state"
)

// probeTargets lists the four kernel symbols §4.3 requires kprobes on,
// split by traffic direction.
var (
	txSymbols = []string{"tcp_sendmsg", "udp_sendmsg"}
	rxSymbols = []string{"tcp_cleanup_rbuf", "udp_recvmsg"}
)

// Tracker owns the loaded BPF programs, maps, and kprobe links. Construct
// with New; call Close to release kernel resources.
type Tracker struct {
	mu sync.RWMutex

	txMap *ebpf.Map
	rxMap *ebpf.Map

	txProg *ebpf.Program
	rxProg *ebpf.Program

	links []link.Link

	initOnce sync.Once
	started  bool
}

// initGuard is process-global: §4.3 requires New to refuse a second
// installation of the same kernel probes within one process lifetime.
var initGuard struct {
	mu      sync.Mutex
	started bool
}

// New installs the four kprobes and returns a ready Tracker. Calling New
// twice in the same process returns an error rather than attaching the
// probes again.
func New() (*Tracker, error) {
	initGuard.mu.Lock()
	defer initGuard.mu.Unlock()
	if initGuard.started {
		return nil, fmt.Errorf("bandwidth: probes already installed in this process")
	}

	t := &Tracker{}
	if err := t.load(); err != nil {
		return nil, err
	}
	initGuard.started = true
	return t, nil
}

func (t *Tracker) load() error {
	txMap, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "ais_bw_tx",
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: 8192,
	})
	if err != nil {
		return fmt.Errorf("bandwidth: create tx map: %w", err)
	}
	rxMap, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "ais_bw_rx",
		Type:       ebpf.Hash,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: 8192,
	})
	if err != nil {
		txMap.Close()
		return fmt.Errorf("bandwidth: create rx map: %w", err)
	}

	txProg, err := ebpf.NewProgram(counterProgramSpec(txMap))
	if err != nil {
		txMap.Close()
		rxMap.Close()
		return fmt.Errorf("bandwidth: load tx program: %w", err)
	}
	rxProg, err := ebpf.NewProgram(counterProgramSpec(rxMap))
	if err != nil {
		txProg.Close()
		txMap.Close()
		rxMap.Close()
		return fmt.Errorf("bandwidth: load rx program: %w", err)
	}

	t.txMap, t.rxMap = txMap, rxMap
	t.txProg, t.rxProg = txProg, rxProg

	for _, sym := range txSymbols {
		l, err := link.Kprobe(sym, txProg, nil)
		if err != nil {
			t.Close()
			return fmt.Errorf("bandwidth: attach kprobe %s: %w", sym, err)
		}
		t.links = append(t.links, l)
	}
	for _, sym := range rxSymbols {
		l, err := link.Kprobe(sym, rxProg, nil)
		if err != nil {
			t.Close()
			return fmt.Errorf("bandwidth: attach kprobe %s: %w", sym, err)
		}
		t.links = append(t.links, l)
	}
	t.started = true
	return nil
}

// counterProgramSpec builds the minimal kprobe program: on entry, increment
// counterMap[current_pid] by one. asm.FnGetCurrentPidTgid's return value
// packs the tgid (the value userspace calls a PID) into the upper 32 bits.
func counterProgramSpec(counterMap *ebpf.Map) *ebpf.ProgramSpec {
	insns := asm.Instructions{
		asm.FnGetCurrentPidTgid.Call(),
		asm.RSh.Imm32(asm.R0, 32),
		asm.Mov.Reg(asm.R6, asm.R0),
		asm.StoreMem(asm.RFP, -4, asm.R6, asm.Word),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, -4),
		asm.LoadMapPtr(asm.R1, counterMap.FD()),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, "miss"),
		asm.Mov.Reg(asm.R3, asm.R0),
		asm.LoadMem(asm.R4, asm.R3, 0, asm.DWord),
		asm.Add.Imm(asm.R4, 1),
		asm.StoreMem(asm.R3, 0, asm.R4, asm.DWord),
		asm.Ja.Label("done"),
		asm.Mov.Imm(asm.R0, 1).WithSymbol("miss"),
		asm.StoreMem(asm.RFP, -16, asm.R0, asm.DWord),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, -4),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, -16),
		asm.Mov.Imm(asm.R4, 0),
		asm.LoadMapPtr(asm.R1, counterMap.FD()),
		asm.FnMapUpdateElem.Call(),
		asm.Mov.Imm(asm.R0, 0).WithSymbol("done"),
		asm.Return(),
	}
	return &ebpf.ProgramSpec{
		Name:         "ais_bw_count",
		Type:         ebpf.Kprobe,
		Instructions: insns,
		License:      "GPL",
	}
}

// TrackPID inserts pid into both counter maps with a zero count if absent.
// It is idempotent.
func (t *Tracker) TrackPID(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := uint32(pid)
	var existing uint64
	if err := t.txMap.Lookup(key, &existing); err != nil {
		if err := t.txMap.Update(key, uint64(0), ebpf.UpdateNoExist); err != nil && err != ebpf.ErrKeyExist {
			return fmt.Errorf("bandwidth: track pid %d (tx): %w", pid, err)
		}
	}
	if err := t.rxMap.Lookup(key, &existing); err != nil {
		if err := t.rxMap.Update(key, uint64(0), ebpf.UpdateNoExist); err != nil && err != ebpf.ErrKeyExist {
			return fmt.Errorf("bandwidth: track pid %d (rx): %w", pid, err)
		}
	}
	return nil
}

// AggregateByService joins the per-PID kernel counters with the
// filesystem's view of cgroup membership under cgroupRoot, summing counts
// for every PID that belongs to the same "<name>.service" cgroup.
func (t *Tracker) AggregateByService(cgroupRoot string) (map[string]state.NetworkUsage, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pidToService, err := scanCgroupServices(cgroupRoot)
	if err != nil {
		return nil, fmt.Errorf("bandwidth: aggregate by service: %w", err)
	}

	out := make(map[string]state.NetworkUsage)

	var key uint32
	var val uint64
	iter := t.txMap.Iterate()
	for iter.Next(&key, &val) {
		svc, ok := pidToService[int(key)]
		if !ok {
			continue
		}
		u := out[svc]
		u.TxBytes += val
		out[svc] = u
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("bandwidth: iterate tx map: %w", err)
	}

	iter = t.rxMap.Iterate()
	for iter.Next(&key, &val) {
		svc, ok := pidToService[int(key)]
		if !ok {
			continue
		}
		u := out[svc]
		u.RxBytes += val
		out[svc] = u
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("bandwidth: iterate rx map: %w", err)
	}

	return out, nil
}

// CleanupDeadPIDs removes every map entry whose PID is no longer live.
func (t *Tracker) CleanupDeadPIDs() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range []*ebpf.Map{t.txMap, t.rxMap} {
		var dead []uint32
		var key uint32
		var val uint64
		iter := m.Iterate()
		for iter.Next(&key, &val) {
			if !procfs.Alive(int(key)) {
				dead = append(dead, key)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("bandwidth: cleanup: iterate: %w", err)
		}
		for _, k := range dead {
			if err := m.Delete(k); err != nil && err != ebpf.ErrKeyNotExist {
				return fmt.Errorf("bandwidth: cleanup: delete pid %d: %w", k, err)
			}
		}
	}
	return nil
}

// Close releases the kprobe links, programs, and maps. Safe to call more
// than once.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, l := range t.links {
		_ = l.Close()
	}
	t.links = nil
	if t.txProg != nil {
		_ = t.txProg.Close()
		t.txProg = nil
	}
	if t.rxProg != nil {
		_ = t.rxProg.Close()
		t.rxProg = nil
	}
	if t.txMap != nil {
		_ = t.txMap.Close()
		t.txMap = nil
	}
	if t.rxMap != nil {
		_ = t.rxMap.Close()
		t.rxMap = nil
	}
	return nil
}
