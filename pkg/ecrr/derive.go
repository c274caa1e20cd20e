package ecrr

import (
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// namespace scopes every derived ECRR identifier
var namespace = uuid.MustParse("6f1c1f3e-8a43-5b7e-9d0c-3c1e5a2b7d41")

// deriver turns stable keys into reproducible values. Two derivers with
// the same seed produce the same value for the same key.
type deriver struct {
	seed string
}

func newDeriver(parts ...string) deriver {
	return deriver{seed: strings.ToLower(strings.Join(parts, "|"))}
}

func (d deriver) hash(key string) uint64 {
	return xxhash.Sum64String(d.seed + "#" + key)
}

// unit returns a value in [0, 1)
func (d deriver) unit(key string) float64 {
	return float64(d.hash(key)%1_000_000) / 1_000_000
}

// between returns a value in [lo, hi] rounded to 3 places
func (d deriver) between(key string, lo, hi float64) float64 {
	return round3(lo + d.unit(key)*(hi-lo))
}

// intn returns an integer in [lo, hi]
func (d deriver) intn(key string, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + int(d.hash(key)%uint64(hi-lo+1))
}

func (d deriver) pick(key string, options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[d.hash(key)%uint64(len(options))]
}

func (d deriver) flag(key string) bool {
	return d.hash(key)%2 == 0
}

// sample returns between lo and hi distinct options, kept in table order
func (d deriver) sample(key string, options []string, lo, hi int) []string {
	n := d.intn(key+"/n", lo, min(hi, len(options)))
	type ranked struct {
		idx  int
		rank uint64
	}
	ranks := make([]ranked, len(options))
	for i, opt := range options {
		ranks[i] = ranked{idx: i, rank: d.hash(key + "/" + opt)}
	}
	chosen := make([]bool, len(options))
	for picked := 0; picked < n; picked++ {
		best := -1
		for i, r := range ranks {
			if chosen[r.idx] {
				continue
			}
			if best < 0 || r.rank < ranks[best].rank {
				best = i
			}
		}
		chosen[ranks[best].idx] = true
	}
	out := make([]string, 0, n)
	for i, opt := range options {
		if chosen[i] {
			out = append(out, opt)
		}
	}
	return out
}

// indices returns up to limit distinct ascending indices below n
func (d deriver) indices(key string, n, limit int) []int {
	out := []int{}
	if n <= 0 {
		return out
	}
	opts := make([]string, n)
	for i := range opts {
		opts[i] = strconv.Itoa(i)
	}
	for _, s := range d.sample(key, opts, 0, limit) {
		i, _ := strconv.Atoi(s)
		out = append(out, i)
	}
	return out
}

// id returns a name-based uuid for key
func (d deriver) id(key string) string {
	return uuid.NewSHA1(namespace, []byte(d.seed+"#"+key)).String()
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
