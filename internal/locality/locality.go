// Package locality computes and compares the locality descriptors used to
// pick where in the tree a joining process attaches: nodes prefer to pivot
// under a sibling that shares their host and NUMA node, falling back to
// whichever existing attachment point looks "closest" by descriptor string.
package locality

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.skia.org/infra/go/skerr"
)

// Descriptor formats the "host-numa-pid" string a process advertises when
// pivoting into the tree.
func Descriptor(hostname string, numaNode int, pid uint64) string {
	return fmt.Sprintf("%s-%d-%d", hostname, numaNode, pid)
}

// Prober reports the locality of the current process. It's an interface so
// tests can supply a fixed descriptor instead of reading /proc.
type Prober interface {
	Hostname() (string, error)
	DominatingNUMANode() (int, error)
}

// DefaultProber reads hostname via os.Hostname and the dominating NUMA node
// by parsing /proc/self/numa_maps, same as the original's
// dominating_numa_id.
type DefaultProber struct{}

var _ Prober = DefaultProber{}

// Hostname returns the local machine's hostname.
func (DefaultProber) Hostname() (string, error) {
	h, err := os.Hostname()
	if err != nil {
		return "", skerr.Wrap(err)
	}
	return h, nil
}

// DominatingNUMANode parses /proc/self/numa_maps and returns the NUMA node
// with the largest total page count across all mappings. Returns 0 (and no
// error) when the file is absent or carries no node info, e.g. on a
// non-NUMA machine or a kernel built without CONFIG_NUMA.
func (DefaultProber) DominatingNUMANode() (int, error) {
	f, err := os.Open("/proc/self/numa_maps")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, skerr.Wrap(err)
	}
	defer f.Close()

	totals := map[int]uint64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		for _, field := range strings.Fields(line) {
			// Fields look like "N0=12" or "N1=340"; sum per-node page counts
			// across every mapping line in the file.
			if !strings.HasPrefix(field, "N") {
				continue
			}
			rest := field[1:]
			eq := strings.IndexByte(rest, '=')
			if eq < 0 {
				continue
			}
			node, err := strconv.Atoi(rest[:eq])
			if err != nil {
				continue
			}
			count, err := strconv.ParseUint(rest[eq+1:], 10, 64)
			if err != nil {
				continue
			}
			totals[node] += count
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, skerr.Wrap(err)
	}

	best, bestCount := 0, uint64(0)
	for node, count := range totals {
		if count > bestCount {
			best, bestCount = node, count
		}
	}
	return best, nil
}

// Distance returns a deterministic measure of how dissimilar two locality
// descriptors are: the sum of absolute differences between corresponding
// byte values, over the length of the longer string (the shorter string is
// treated as zero-padded). Identical descriptors have distance 0; wholly
// different ones are large. This is not a metric in the strict mathematical
// sense, just a cheap total order good enough to pick the closest sibling.
func Distance(a, b string) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	total := 0
	for i := 0; i < n; i++ {
		var ca, cb int
		if i < len(a) {
			ca = int(a[i])
		}
		if i < len(b) {
			cb = int(b[i])
		}
		d := ca - cb
		if d < 0 {
			d = -d
		}
		total += d
	}
	return total
}

// Closest returns the index into candidates whose descriptor is nearest to
// target by Distance, and the distance itself. Returns -1 if candidates is
// empty.
func Closest(target string, candidates []string) (int, int) {
	best, bestDist := -1, 0
	for i, c := range candidates {
		d := Distance(target, c)
		if best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}
