package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// ratio lets num out of every den events through. A zero ratio disables sampling.
type ratio struct{ num, den uint64 }

// sampler thins out high-volume debug events without locking.
type sampler struct {
	cfg atomic.Pointer[ratio]
	n   atomic.Uint64
}

func newSampler(spec string) *sampler {
	s := &sampler{}
	s.Configure(spec)
	return s
}

// Configure replaces the ratio with the parsed spec and restarts the cycle.
func (s *sampler) Configure(spec string) {
	r := parseRatio(spec)
	s.cfg.Store(&r)
	s.n.Store(0)
}

// Allow reports whether the next event passes.
func (s *sampler) Allow() bool {
	r := s.cfg.Load()
	if r == nil || r.den == 0 {
		return true
	}
	pos := s.n.Add(1) - 1
	return pos%r.den < r.num
}

// parseRatio accepts "n/d" or a bare "d" meaning 1/d. Anything else,
// including non-positive parts, yields the zero ratio.
func parseRatio(spec string) ratio {
	spec = strings.TrimSpace(spec)
	numText, denText, found := strings.Cut(spec, "/")
	if !found {
		numText, denText = "1", spec
	}
	num, err1 := strconv.Atoi(strings.TrimSpace(numText))
	den, err2 := strconv.Atoi(strings.TrimSpace(denText))
	if err1 != nil || err2 != nil || num <= 0 || den <= 0 {
		return ratio{}
	}
	if num > den {
		num = den
	}
	return ratio{num: uint64(num), den: uint64(den)}
}
