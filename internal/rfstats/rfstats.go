// Package rfstats keeps rolling RF front-end statistics per MON-RF block.
package rfstats

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"gnssmon/internal/ubx"
)

const DefaultWindow = 300

// Series summarizes one quantity over the window.
type Series struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	P95    float64 `json:"p95"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Block is the summary for one RF block.
type Block struct {
	BlockID    uint8  `json:"block_id"`
	Band       string `json:"band"`
	Samples    int    `json:"samples"`
	Total      uint64 `json:"total"`
	NoisePerMS Series `json:"noise_per_ms"`
	AGCCnt     Series `json:"agc_cnt"`
	JamInd     Series `json:"jam_ind"`
}

type window struct {
	noise, agc, jam []float64
	next            int
	full            bool
	total           uint64
}

func (w *window) push(size int, noise, agc, jam float64) {
	w.total++
	if !w.full {
		w.noise = append(w.noise, noise)
		w.agc = append(w.agc, agc)
		w.jam = append(w.jam, jam)
		if len(w.noise) == size {
			w.full = true
		}
		return
	}
	w.noise[w.next] = noise
	w.agc[w.next] = agc
	w.jam[w.next] = jam
	w.next = (w.next + 1) % size
}

// Tracker accumulates samples. Add and Blocks are safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	size   int
	blocks map[uint8]*window
}

// New returns a tracker keeping the last size samples per block.
func New(size int) *Tracker {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Tracker{size: size, blocks: make(map[uint8]*window)}
}

// Observe records the figures of a MON-RF block. MON-HW is not tracked
// here since it has no block id. It returns false for other messages.
func (t *Tracker) Observe(msg ubx.Message) bool {
	v, ok := msg.(ubx.RfMeasurement)
	if !ok {
		return false
	}
	t.Add(v.BlockID, v.NoisePerMS, v.AGCCnt, v.JamInd)
	return true
}

func (t *Tracker) Add(block uint8, noise, agc uint16, jam uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.blocks[block]
	if w == nil {
		w = &window{}
		t.blocks[block] = w
	}
	w.push(t.size, float64(noise), float64(agc), float64(jam))
}

// Blocks returns summaries ordered by block id.
func (t *Tracker) Blocks() []Block {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int, 0, len(t.blocks))
	for id := range t.blocks {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	out := make([]Block, 0, len(ids))
	for _, id := range ids {
		w := t.blocks[uint8(id)]
		out = append(out, Block{
			BlockID:    uint8(id),
			Band:       ubx.BandName(uint8(id)),
			Samples:    len(w.noise),
			Total:      w.total,
			NoisePerMS: summarize(w.noise),
			AGCCnt:     summarize(w.agc),
			JamInd:     summarize(w.jam),
		})
	}
	return out
}

func summarize(xs []float64) Series {
	if len(xs) == 0 {
		return Series{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	var s Series
	s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		s.StdDev = 0
	}
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	return s
}
