// Package coherence implements the Coherence Gate: a discriminator that
// combines three orthogonal signals derived from k-NN queries against an
// attack-pattern HNSW index and, when available, a companion clean-reference
// index, to decide whether a scan should escalate toward the safety layer.
package coherence

import (
	"math"
	"sync"

	"github.com/swarmguard/gateway/internal/embedding"
	"github.com/swarmguard/gateway/internal/model"
	"github.com/swarmguard/gateway/internal/vectorindex"
)

// Thresholds fixed by the spec's discriminant design.
const (
	TAvgLambda       = 2.0  // T_λ
	TStarLambda      = 0.40 // T_s
	TPartitionRatio  = 1.0  // T_r
	K                = 5    // k nearest neighbors queried per scan
	hysteresisBand   = 0.10 // ±10% around T_λ·(log2 n)^2
)

// Discriminant names one of the three orthogonal signals.
type Discriminant string

const (
	DiscAvgLambda      Discriminant = "avg_lambda"
	DiscStarLambda     Discriminant = "star_lambda"
	DiscPartitionRatio Discriminant = "partition_ratio"
)

// Result is the full outcome of one Coherence Gate scan.
type Result struct {
	model.GateDecision
	Escalate  bool
	SmokeOnly bool
	Votes     map[Discriminant]bool
}

// Gate discriminates attack-like inputs from benign ones. A Gate is safe
// for concurrent use; its embedded hysteresis state is guarded internally.
type Gate struct {
	attackIndex *vectorindex.Index
	cleanIndex  *vectorindex.Index // nil when no clean reference is configured
	embedder    embedding.Embedder

	mu         sync.Mutex
	lastRoute  model.GateRoute
	haveRouted bool
}

// New constructs a Gate. cleanIndex may be nil — the partition-ratio
// discriminant is then withheld and consensus falls back to the 2-of-2 rule.
func New(attackIndex, cleanIndex *vectorindex.Index, embedder embedding.Embedder) *Gate {
	return &Gate{attackIndex: attackIndex, cleanIndex: cleanIndex, embedder: embedder}
}

// Scan embeds normalizedText and runs the consensus rule against the
// configured indexes. Any internal error collapses to a fail-open result:
// route L3_Gate, λ=0, and no escalation — the gate is additive and must
// never block on its own machinery being impaired.
func (g *Gate) Scan(normalizedText string) Result {
	vec := g.embedder.Embed(normalizedText)

	attackResults, err := g.attackIndex.Search(vec, g.embedder.Name(), K)
	if err != nil || len(attackResults) == 0 {
		return g.failOpen("attack index unavailable or empty")
	}

	attackDistances := distancesOf(attackResults)
	avgLambda := avgLambdaOf(attackDistances)
	starLambda := starLambdaOf(attackDistances)

	votes := map[Discriminant]bool{
		DiscAvgLambda:  avgLambda > TAvgLambda,
		DiscStarLambda: starLambda > TStarLambda,
	}

	var partitionRatio float32
	havePartition := false
	if g.cleanIndex != nil {
		cleanResults, err := g.cleanIndex.Search(vec, g.embedder.Name(), K)
		if err == nil && len(cleanResults) > 0 {
			cleanDistances := distancesOf(cleanResults)
			partitionRatio = meanOf(cleanDistances) / meanOf(attackDistances)
			votes[DiscPartitionRatio] = partitionRatio > TPartitionRatio
			havePartition = true
		}
	}

	escalate, smokeOnly := consensus(votes, havePartition)
	route := g.routeFor(avgLambda, g.attackIndex.Len())

	return Result{
		GateDecision: model.GateDecision{
			Route:     route,
			Lambda:    avgLambda,
			Threshold: TAvgLambda,
			DBSize:    g.attackIndex.Len(),
			Reason:    reasonFor(votes, havePartition),
		},
		Escalate:  escalate,
		SmokeOnly: smokeOnly,
		Votes:     votes,
	}
}

func (g *Gate) failOpen(reason string) Result {
	return Result{
		GateDecision: model.GateDecision{
			Route:     model.RouteL3Gate,
			Lambda:    0,
			Threshold: TAvgLambda,
			DBSize:    g.attackIndex.Len(),
			Reason:    reason,
		},
		Escalate:  false,
		SmokeOnly: false,
		Votes:     map[Discriminant]bool{},
	}
}

// consensus applies the 2-of-3 (or 1-of-2 without a clean reference) voting
// rule. With exactly one vote out of three available discriminants, the
// result is observational only (smoke_only), never an escalation.
func consensus(votes map[Discriminant]bool, havePartition bool) (escalate, smokeOnly bool) {
	count := 0
	for _, v := range votes {
		if v {
			count++
		}
	}

	if havePartition {
		if count >= 2 {
			return true, false
		}
		if count == 1 {
			return false, true
		}
		return false, false
	}
	// No clean reference: two discriminants, >= 1 vote escalates.
	return count >= 1, false
}

func reasonFor(votes map[Discriminant]bool, havePartition bool) string {
	if havePartition {
		return "3-discriminant consensus (avg_lambda, star_lambda, partition_ratio)"
	}
	return "2-discriminant consensus (avg_lambda, star_lambda); no clean reference"
}

// routeFor assigns the observability routing label using a ±10% hysteresis
// band around T_λ·(log2 n)^2, to avoid label chatter at the boundary.
// Routing never affects the consensus rule above.
func (g *Gate) routeFor(avgLambda float32, n uint64) model.GateRoute {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n < 2 {
		g.lastRoute = model.RouteL3Gate
		g.haveRouted = true
		return g.lastRoute
	}

	threshold := TAvgLambda * math.Pow(math.Log2(float64(n)), 2)
	low := threshold * (1 - hysteresisBand)
	high := threshold * (1 + hysteresisBand)
	v := float64(avgLambda)

	switch {
	case v > high:
		g.lastRoute = model.RouteMinCutGate
	case v < low:
		g.lastRoute = model.RouteL3Gate
	case g.haveRouted:
		// inside the band: stick with the previous label
	default:
		g.lastRoute = model.RouteL3Gate
	}
	g.haveRouted = true
	return g.lastRoute
}

func distancesOf(results []vectorindex.SearchResult) []float32 {
	d := make([]float32, len(results))
	for i, r := range results {
		d[i] = r.Distance
	}
	return d
}

func avgLambdaOf(distances []float32) float32 {
	var sum float32
	for _, d := range distances {
		sum += d
	}
	if sum == 0 {
		return 0
	}
	return float32(len(distances)) / sum
}

func starLambdaOf(distances []float32) float32 {
	max := distances[0]
	for _, d := range distances[1:] {
		if d > max {
			max = d
		}
	}
	return 1 - max
}

func meanOf(distances []float32) float32 {
	if len(distances) == 0 {
		return 0
	}
	var sum float32
	for _, d := range distances {
		sum += d
	}
	return sum / float32(len(distances))
}
