package metricsx

import (
	"strconv"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// NetCounter is like a *metrics.Counter, but split by network id, following
// the same lazily-created-per-key pattern as GeoCounter, keyed by a
// distributor network id instead of a geohash bucket.
type NetCounter struct {
	mu   sync.Mutex
	ctr  map[uint32]*metrics.Counter
	set  *metrics.Set
	base string
	arg  string
}

// NewNetCounter creates a new NetCounter writing to metrics in set named
// name.
func NewNetCounter(set *metrics.Set, name string) *NetCounter {
	base, arg := splitName(name)
	return &NetCounter{
		ctr:  make(map[uint32]*metrics.Counter),
		set:  set,
		base: base,
		arg:  arg,
	}
}

// Inc increments the counter for net.
func (c *NetCounter) Inc(net uint32) {
	c.Counter(net).Inc()
}

// Counter gets (lazily creating) the underlying counter for net.
func (c *NetCounter) Counter(net uint32) *metrics.Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.ctr[net]
	if !ok {
		m = c.set.NewCounter(formatName(c.base, c.arg, "net", strconv.FormatUint(uint64(net), 10)))
		c.ctr[net] = m
	}
	return m
}
