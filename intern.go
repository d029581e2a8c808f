package swiftstream

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Header is an interned column name. Two Headers are equal exactly when they
// were interned from the same text by the same Interner, so Header is cheap to
// copy and usable as a map key.
type Header struct {
	e *headerEntry
}

type headerEntry struct {
	name string
	refs int
}

// Name returns the column name.
func (h Header) Name() string {
	if h.e == nil {
		return ""
	}
	return h.e.name
}

// String implements fmt.Stringer.
func (h Header) String() string { return h.Name() }

// Interner canonicalizes header text into Headers and tracks how many live
// engines reference each name.
//
// Entries are never reclaimed: a name stays pinned after its reference count
// drops to zero, so a Header obtained by any engine remains valid for the life
// of the process. Memory grows with the number of distinct names seen.
type Interner struct {
	mu    sync.Mutex
	table map[string]*headerEntry

	namesDesc *prometheus.Desc
	refsDesc  *prometheus.Desc
}

// NewInterner creates an empty Interner.
func NewInterner() *Interner {
	return &Interner{
		table: make(map[string]*headerEntry, 100),
		namesDesc: prometheus.NewDesc(
			"swiftstream_interned_headers",
			"Number of distinct header names pinned by the interner.",
			nil, nil,
		),
		refsDesc: prometheus.NewDesc(
			"swiftstream_header_refs",
			"Number of header references held by live engines.",
			nil, nil,
		),
	}
}

var (
	defaultInterner     *Interner
	defaultInternerOnce sync.Once
)

// DefaultInterner returns the process-wide Interner, creating it on first use.
func DefaultInterner() *Interner {
	defaultInternerOnce.Do(func() {
		defaultInterner = NewInterner()
	})
	return defaultInterner
}

// InternMany returns one Header per name, in order, taking the lock once.
// Each returned Header adds one reference to its entry.
func (in *Interner) InternMany(names []string) []Header {
	out := make([]Header, len(names))

	in.mu.Lock()
	defer in.mu.Unlock()
	for i, name := range names {
		e, ok := in.table[name]
		if !ok {
			e = &headerEntry{name: strings.Clone(name)}
			in.table[e.name] = e
		}
		e.refs++
		out[i] = Header{e: e}
	}
	return out
}

// Intern is InternMany for a single name.
func (in *Interner) Intern(name string) Header {
	return in.InternMany([]string{name})[0]
}

// Release drops one reference per Header. Headers that did not come from this
// Interner are ignored.
func (in *Interner) Release(headers []Header) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, h := range headers {
		if h.e == nil || in.table[h.e.name] != h.e {
			continue
		}
		if h.e.refs > 0 {
			h.e.refs--
		}
	}
}

// Refs returns the current reference count for name.
func (in *Interner) Refs(name string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	if e, ok := in.table[name]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of distinct names pinned.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.table)
}

// Describe implements prometheus.Collector.
func (in *Interner) Describe(ch chan<- *prometheus.Desc) {
	ch <- in.namesDesc
	ch <- in.refsDesc
}

// Collect implements prometheus.Collector.
func (in *Interner) Collect(ch chan<- prometheus.Metric) {
	in.mu.Lock()
	names := len(in.table)
	refs := 0
	for _, e := range in.table {
		refs += e.refs
	}
	in.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(in.namesDesc, prometheus.GaugeValue, float64(names))
	ch <- prometheus.MustNewConstMetric(in.refsDesc, prometheus.GaugeValue, float64(refs))
}
