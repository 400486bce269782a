// Package model holds the core data types shared across the defense
// gateway: messages in flight, per-layer verdicts, the aggregate defense
// result, and the provenance/audit records produced once a message clears
// the pipeline.
package model

import "time"

// Role is one of the fixed set of agent roles a Message can flow between.
type Role string

// The fixed set of roles messages are exchanged between.
const (
	RoleArchitect Role = "architect"
	RoleWorker    Role = "worker"
	RoleReviewer  Role = "reviewer"
)

// Message is an immutable record created by the caller and consumed once by
// Orchestrator.Dispatch.
type Message struct {
	ID            string
	FromRole      Role
	ToRole        Role
	Content       string
	TimestampMs   int64
	Metadata      map[string]any
	PrevMessageID string // empty if this is the first message in a thread
}

// Verdict is the coarse outcome of running a message through the defense
// pipeline.
type Verdict string

const (
	VerdictSafe    Verdict = "SAFE"
	VerdictFlagged Verdict = "FLAGGED"
	VerdictBlocked Verdict = "BLOCKED"
)

// LayerTag identifies which pipeline layer produced a LayerVerdict.
type LayerTag string

// The layer tags appended to DefenceResult.Verdicts, in pipeline order.
const (
	LayerL1            LayerTag = "L1"
	LayerL2            LayerTag = "L2"
	LayerCoherenceGate LayerTag = "CoherenceGate"
	LayerL3            LayerTag = "L3"
	LayerL4PII         LayerTag = "L4_PII"
	LayerL5Learn       LayerTag = "L5"
	LayerL6Stats       LayerTag = "L6"
)

// LayerVerdict is the result of running one pipeline layer. One is appended
// to DefenceResult.Verdicts per layer execution, in the order layers ran.
type LayerVerdict struct {
	LayerTag  LayerTag
	Passed    bool
	Score     float32 // in [0, 1]
	LatencyMs float32
	Details   map[string]any
	Error     string // empty unless the layer hit an internal error
}

// DefenceResult is the outcome of running Message.Content through the
// Defence Coordinator's fast path.
//
// Invariants (enforced by the coordinator, never by callers):
//   - IsBlocked == (Verdict == VerdictBlocked)
//   - IsBlocked implies SafeInput == ""
//   - Verdicts contains at least {L1, L2, CoherenceGate, L3}
//   - Verdicts contains L4_PII iff !IsBlocked
type DefenceResult struct {
	Verdict         Verdict
	IsBlocked       bool
	SafeInput       string
	TotalLatencyMs  float32
	PerLayerTimings map[LayerTag]float32
	Verdicts        []LayerVerdict
	BlockReason     string
}

// HandoffRecord is produced for every Message that clears the fast path. Its
// ContentHash is the identity used by the decision ledger and the
// provenance chain.
type HandoffRecord struct {
	MessageID        string
	From             Role
	To               Role
	DefenceResult    DefenceResult
	DeliveredContent string
	TimestampMs      int64
	ContentHash      string // hex-encoded sha256 of DeliveredContent
	WitnessRecorded  bool
}

// GateRoute is the observability label the Coherence Gate assigns to a scan.
// Routing is always observational; it never bypasses the consensus rule.
type GateRoute string

const (
	RouteL3Gate     GateRoute = "L3_Gate"
	RouteMinCutGate GateRoute = "MinCut_Gate"
)

// GateDecision is emitted once per Coherence Gate scan.
type GateDecision struct {
	Route     GateRoute
	Lambda    float32
	Threshold float32
	DBSize    uint64
	Reason    string
}

// PatternEntry is one row stored in an HNSW index: an attack pattern or a
// clean reference, keyed by ID, with its embedding vector and metadata.
type PatternEntry struct {
	ID       string
	Vector   []float32
	Category string
	Excerpt  string
	Severity string // optional
}

// WitnessType classifies an entry in the provenance chain.
type WitnessType int

// The kinds of events a WitnessEntry can record.
const (
	WitnessProvenance WitnessType = iota + 1
	WitnessComputation
	WitnessSearch
	WitnessDeletion
)

// WitnessEntry is one append-only record in a provenance chain. PrevHash
// links it to the entry that preceded it (SHAKE-256 of the prior entry's
// canonical serialization).
type WitnessEntry struct {
	WitnessType WitnessType
	ActionHash  string // hex-encoded sha256 of the witnessed action
	Metadata    map[string]any
	PrevHash    string // hex-encoded SHAKE-256-256 of the prior entry, empty for the first entry
	Sequence    uint64
	RecordedAt  time.Time
}

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentActive     AgentStatus = "active"
	AgentIdle       AgentStatus = "idle"
	AgentTerminated AgentStatus = "terminated"
)

// AgentEntry is a registry row for one spawned agent. Plain record, no
// back-pointer to the orchestrator that owns it.
type AgentEntry struct {
	ID        string
	Role      Role
	Status    AgentStatus
	SpawnedAt time.Time
}
