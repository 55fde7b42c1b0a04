package drawer

import (
	"context"
	"net/netip"
	"sort"

	"drawer-hal/internal/diagnostics"
)

// NetworkCandidate is an address:port that may host a receipt printer.
type NetworkCandidate struct {
	Address netip.Addr `json:"address"`
	Port    int        `json:"port"`
}

func (c NetworkCandidate) String() string {
	return netip.AddrPortFrom(c.Address, uint16(c.Port)).String()
}

// Host suffixes probed on every local /24, in order.
var (
	priorityHosts = []byte{1, 100, 101}
	sequentialLo  = byte(2)
	sequentialHi  = byte(20)
)

// candidate ranks
const (
	rankLocal = iota
	rankPreferred
	rankOther
)

// candidatePlan is the ordered, bounded probe list plus the subnets that
// ranked it.
type candidatePlan struct {
	addrs []netip.Addr
	local []netip.Prefix
}

// planCandidates builds the probe order: defaults and per-interface guesses,
// de-duplicated, own subnets first, capped at the scan limit.
func (e *Engine) planCandidates(log *diagnostics.Logger) candidatePlan {
	var plan candidatePlan
	var discovered []netip.Addr

	ifaces, err := e.ifaces.Interfaces()
	if err != nil {
		log.Warn("interface enumeration failed, using configured defaults only", "error", err)
	}
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}
		for _, p := range iface.IPv4 {
			own := p.Addr()
			if !own.Is4() || own.IsLoopback() {
				continue
			}
			plan.local = append(plan.local, localSubnet(p))
			discovered = append(discovered, subnetGuesses(own)...)
		}
	}

	all := make([]netip.Addr, 0, len(e.prefs.DefaultAddresses)+len(discovered))
	all = append(all, e.prefs.DefaultAddresses...)
	all = append(all, discovered...)
	all = dedupe(all)

	rank := func(a netip.Addr) int {
		if containedIn(plan.local, a) {
			return rankLocal
		}
		if containedIn(e.prefs.PreferredSubnets, a) {
			return rankPreferred
		}
		return rankOther
	}
	sort.SliceStable(all, func(i, j int) bool {
		return rank(all[i]) < rank(all[j])
	})

	if len(all) > e.scanLimit {
		all = all[:e.scanLimit]
	}
	plan.addrs = all
	return plan
}

// localSubnet is the interface's subnet, widened to at least a /24 so every
// guess below ranks as local.
func localSubnet(p netip.Prefix) netip.Prefix {
	return netip.PrefixFrom(p.Addr(), min(p.Bits(), 24)).Masked()
}

// subnetGuesses returns own, .1, .100, .101, then .2 to .20 on own's /24.
// Repeats are removed later by dedupe.
func subnetGuesses(own netip.Addr) []netip.Addr {
	b := own.As4()
	at := func(host byte) netip.Addr {
		return netip.AddrFrom4([4]byte{b[0], b[1], b[2], host})
	}

	out := []netip.Addr{own}
	for _, h := range priorityHosts {
		out = append(out, at(h))
	}
	for h := sequentialLo; h <= sequentialHi; h++ {
		out = append(out, at(h))
	}
	return out
}

func dedupe(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]bool, len(addrs))
	out := addrs[:0:0]
	for _, a := range addrs {
		a = a.Unmap()
		if !a.IsValid() || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func containedIn(prefixes []netip.Prefix, a netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// probe reports whether addr:port accepts a TCP connection. The connection is
// closed straight away; nothing is written.
func (e *Engine) probe(ctx context.Context, c NetworkCandidate) error {
	return e.withHandle(ctx, e.timings.ProbeTimeout, c.String(), func() error {
		pctx, cancel := context.WithTimeout(ctx, e.timings.ProbeTimeout)
		defer cancel()

		conn, err := e.dialer.DialContext(pctx, "tcp", c.String())
		if err != nil {
			e.recorder.ObserveAttempt("probe", KindOf(err).String())
			return err
		}
		e.recorder.ObserveAttempt("probe", "success")
		return conn.Close()
	})
}

// Detect returns the first responsive candidate, or false when none answer.
// It never sends a drawer-kick frame.
func (e *Engine) Detect(ctx context.Context) (NetworkCandidate, bool) {
	return e.detect(ctx, e.sink.With())
}

func (e *Engine) detect(ctx context.Context, log *diagnostics.Logger) (NetworkCandidate, bool) {
	plan := e.planCandidates(log)
	log.Info("network auto-detection started",
		"candidates", len(plan.addrs), "ports", e.prefs.ProbePorts)

	for _, addr := range plan.addrs {
		for _, port := range e.prefs.ProbePorts {
			if ctx.Err() != nil {
				log.Warn("network auto-detection cancelled", "error", ctx.Err())
				return NetworkCandidate{}, false
			}
			c := NetworkCandidate{Address: addr, Port: port}
			if err := e.probe(ctx, c); err != nil {
				continue
			}
			log.Info("network device responded", "address", c.String())
			return c, true
		}
	}

	log.Warn("network auto-detection found no device", "candidates", len(plan.addrs))
	return NetworkCandidate{}, false
}

// ScanResult lists every responsive candidate found by Scan.
type ScanResult struct {
	Devices    []NetworkCandidate `json:"devices"`
	Candidates int                `json:"candidates"`
}

// Scan probes the whole bounded candidate list on every probe port and
// returns all responders. Like Detect it never opens a drawer.
func (e *Engine) Scan(ctx context.Context) ScanResult {
	log := e.sink.With("operation", "scan")
	plan := e.planCandidates(log)
	res := ScanResult{Devices: []NetworkCandidate{}, Candidates: len(plan.addrs)}

	for _, addr := range plan.addrs {
		for _, port := range e.prefs.ProbePorts {
			if ctx.Err() != nil {
				log.Warn("network scan cancelled", "error", ctx.Err())
				return res
			}
			c := NetworkCandidate{Address: addr, Port: port}
			if err := e.probe(ctx, c); err == nil {
				res.Devices = append(res.Devices, c)
			}
		}
	}

	log.Info("network scan finished",
		"candidates", res.Candidates, "responsive", len(res.Devices))
	return res
}
