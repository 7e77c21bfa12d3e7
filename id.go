package sockproxy

import (
	"strconv"
	"sync"
	"time"
)

// epoch is an arbitrary baseline so that id values stay small and positive;
// only relative monotonicity matters (spec §4.6).
var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// idGenerator produces strictly increasing, lowercase-hex session ids.
// Direct-listener sessions get an "L" prefix to distinguish their origin.
//
// next_id() = floor((now_seconds - epoch_offset)/10); if not strictly
// greater than the last emitted value, last+1 is used instead, guaranteeing
// monotonicity even under clock stalls or accept bursts within the same
// 10-second bucket.
type idGenerator struct {
	mu   sync.Mutex
	last int64
}

func newIDGenerator() *idGenerator {
	return &idGenerator{}
}

func (g *idGenerator) next(direct bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	candidate := int64(time.Since(epoch).Seconds()) / 10
	if candidate <= g.last {
		candidate = g.last + 1
	}
	g.last = candidate

	s := strconv.FormatInt(candidate, 16)
	if direct {
		return "L" + s
	}
	return s
}
