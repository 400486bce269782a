// Package collab defines the minimal external-collaborator contracts the
// core pipeline depends on — MCPClient for the inspection layers, MCPBridge
// for agent lifecycle and key-value memory, RVFBridge for the provenance
// chain — plus an HTTP-backed default implementation shaped after the
// teacher's REST client conventions (pooled request buffers, a tuned
// transport, header injection).
package collab

import (
	"context"

	"github.com/swarmguard/gateway/internal/model"
)

// MCPClient is the contract the Defence Coordinator's layers depend on.
// Implementations may be backed by a remote tool server or a local model.
type MCPClient interface {
	ScanInput(ctx context.Context, text string) (model.LayerVerdict, error)
	AnalyzeThreats(ctx context.Context, text string) (model.LayerVerdict, error)
	CheckSafety(ctx context.Context, text string, l1Score, l2Score float32) (model.LayerVerdict, error)
	DetectPII(ctx context.Context, text string) (model.LayerVerdict, error)
	Learn(ctx context.Context, text string, result model.DefenceResult) error
	RecordStats(ctx context.Context, result model.DefenceResult) error
}

// MCPBridge is the contract the orchestrator depends on for agent lifecycle
// and key-value memory. Namespaces are free-form strings; swarm_audit and
// decision_ledger are reserved by the audit package.
type MCPBridge interface {
	SpawnAgent(ctx context.Context, cfg AgentConfig) (string, error)
	TerminateAgent(ctx context.Context, id string) error
	StoreMemory(ctx context.Context, key string, value []byte, namespace string) error
}

// AgentConfig is the minimal configuration needed to spawn an agent via
// MCPBridge.SpawnAgent.
type AgentConfig struct {
	Role model.Role
}

// RVFBridge is a write-only provenance API.
type RVFBridge interface {
	RecordWitness(ctx context.Context, entry model.WitnessEntry) error
	GetStatus(ctx context.Context) (BridgeStatus, error)
}

// BridgeStatus reports the provenance backend's size.
type BridgeStatus struct {
	VectorCount  uint64
	SegmentCount uint64
}
