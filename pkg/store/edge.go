package store

import (
	"time"

	"github.com/deedb/deedb/pkg/value"
)

// Edge is a directed, typed relationship between two entities, carrying
// its own properties plus the adaptive score and traversal statistics
// that bias the optimizer and routing (§3).
type Edge struct {
	ID         value.EdgeID
	Source     value.EntityID
	Target     value.EntityID
	Type       string
	Properties map[string]value.Value
	Score      *value.AdaptiveScore

	CreatedAt    time.Time
	LastTraverse time.Time
	TraverseCnt  uint64
	// AvgLatencyNS is an exponentially-weighted moving average of
	// traversal latency, in nanoseconds.
	AvgLatencyNS float64
}

func (e *Edge) clone() *Edge {
	cp := *e
	cp.Properties = make(map[string]value.Value, len(e.Properties))
	for k, v := range e.Properties {
		cp.Properties[k] = v
	}
	return &cp
}

const latencyEWMAAlpha = 0.2

// recordTraversal updates the edge's traversal counter, moving-average
// latency, and reinforces its adaptive score by 1/(1+latency_ms), per
// spec §3 and the Traverse operator's semantics (§4.J).
func (e *Edge) recordTraversal(latency time.Duration) {
	e.TraverseCnt++
	e.LastTraverse = time.Now()
	ns := float64(latency.Nanoseconds())
	if e.TraverseCnt == 1 {
		e.AvgLatencyNS = ns
	} else {
		e.AvgLatencyNS = latencyEWMAAlpha*ns + (1-latencyEWMAAlpha)*e.AvgLatencyNS
	}
	e.Score.ReinforceLatency(float64(latency.Milliseconds()))
}
