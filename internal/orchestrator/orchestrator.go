// Package orchestrator implements the Swarm Orchestrator / Kill Switch
// (§4.8): it drives a Message through the Defence Coordinator, raises
// *model.SecurityViolation on a blocked verdict, builds the resulting
// HandoffRecord, and fires the three audit emitters (memory, ledger,
// provenance) fire-and-forget. It also owns the agent registry.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/gateway/internal/audit"
	"github.com/swarmguard/gateway/internal/collab"
	"github.com/swarmguard/gateway/internal/coordinator"
	"github.com/swarmguard/gateway/internal/model"
	"github.com/swarmguard/gateway/internal/provenance"
)

// Orchestrator dispatches messages through the fast path and owns the
// agent registry. Safe for concurrent use.
type Orchestrator struct {
	coord  *coordinator.Coordinator
	bridge collab.MCPBridge
	rvf    collab.RVFBridge
	store  *audit.Store
	chain  *provenance.Chain
	logger *slog.Logger

	maxAgents int

	mu               sync.RWMutex
	agents           map[string]*model.AgentEntry
	lastMessageByRole map[model.Role]string
}

// New constructs an Orchestrator. store and chain may be nil to disable
// local durable persistence (the remote bridge/rvf calls still fire).
func New(coord *coordinator.Coordinator, bridge collab.MCPBridge, rvf collab.RVFBridge, store *audit.Store, chain *provenance.Chain, maxAgents int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAgents <= 0 {
		maxAgents = 10
	}
	return &Orchestrator{
		coord:             coord,
		bridge:            bridge,
		rvf:               rvf,
		store:             store,
		chain:             chain,
		logger:            logger,
		maxAgents:         maxAgents,
		agents:            make(map[string]*model.AgentEntry),
		lastMessageByRole: make(map[model.Role]string),
	}
}

// Dispatch runs message.Content through the fast path. It returns a
// *model.SecurityViolation (via err) when the result is blocked; callers
// must propagate it, never swallow it.
func (o *Orchestrator) Dispatch(ctx context.Context, message model.Message) (model.HandoffRecord, error) {
	result := o.coord.Process(ctx, message.Content)

	if result.IsBlocked {
		return model.HandoffRecord{}, &model.SecurityViolation{
			Reason: result.BlockReason,
			Result: result,
		}
	}

	contentHash := sha256Hex(result.SafeInput)
	record := model.HandoffRecord{
		MessageID:        message.ID,
		From:             message.FromRole,
		To:               message.ToRole,
		DefenceResult:    result,
		DeliveredContent: result.SafeInput,
		TimestampMs:      message.TimestampMs,
		ContentHash:      contentHash,
	}

	o.mu.Lock()
	o.lastMessageByRole[message.FromRole] = message.ID
	o.mu.Unlock()

	o.fireAuditEmitters(ctx, message, record, contentHash)

	return record, nil
}

// fireAuditEmitters starts the three audit writes independently; none of
// them is awaited by Dispatch and their failures are logged, never fatal.
func (o *Orchestrator) fireAuditEmitters(ctx context.Context, message model.Message, record model.HandoffRecord, contentHash string) {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		o.logger.Warn("failed to marshal handoff record for audit", "error", err, "message_id", message.ID)
		return
	}

	go o.storeMemory(ctx, "handoff:"+message.ID, recordJSON, "swarm_audit")
	go o.storeLedger(ctx, "ledger:"+contentHash, recordJSON)
	go o.recordProvenance(ctx, message, record, contentHash)
}

func (o *Orchestrator) storeMemory(ctx context.Context, key string, value []byte, namespace string) {
	if o.store != nil {
		if err := o.store.PutAudit(key, value); err != nil {
			o.logger.Warn("local swarm_audit write failed", "error", err, "key", key)
		}
	}
	if o.bridge == nil {
		return
	}
	if err := o.bridge.StoreMemory(ctx, key, value, namespace); err != nil {
		o.logger.Warn("remote swarm_audit write failed", "error", err, "key", key)
	}
}

func (o *Orchestrator) storeLedger(ctx context.Context, key string, value []byte) {
	if o.store != nil {
		if _, err := o.store.PutLedger(key, value); err != nil {
			o.logger.Warn("local decision_ledger write failed", "error", err, "key", key)
		}
	}
	if o.bridge == nil {
		return
	}
	if err := o.bridge.StoreMemory(ctx, key, value, "decision_ledger"); err != nil {
		o.logger.Warn("remote decision_ledger write failed", "error", err, "key", key)
	}
}

func (o *Orchestrator) recordProvenance(ctx context.Context, message model.Message, record model.HandoffRecord, contentHash string) {
	entry := model.WitnessEntry{
		WitnessType: model.WitnessProvenance,
		ActionHash:  contentHash,
		Metadata: map[string]any{
			"message_id": message.ID,
			"from":       message.FromRole,
			"to":         message.ToRole,
			"verdict":    record.DefenceResult.Verdict,
			"timestamp":  message.TimestampMs,
		},
		RecordedAt: time.Now(),
	}

	if o.chain != nil {
		if err := o.chain.Append(ctx, entry); err != nil {
			o.logger.Warn("local provenance append failed", "error", err, "message_id", message.ID)
		}
	}
	if o.rvf == nil {
		return
	}
	if err := o.rvf.RecordWitness(ctx, entry); err != nil {
		o.logger.Warn("remote record_witness failed", "error", err, "message_id", message.ID)
	}
}

// Register adds an idle agent to the registry. It errors if id is already
// registered or the registry is at max_agents capacity.
func (o *Orchestrator) Register(id string, role model.Role) (model.AgentEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.agents[id]; exists {
		return model.AgentEntry{}, fmt.Errorf("orchestrator: agent %q already registered", id)
	}
	if len(o.agents) >= o.maxAgents {
		return model.AgentEntry{}, fmt.Errorf("orchestrator: agent registry at capacity (%d)", o.maxAgents)
	}

	entry := &model.AgentEntry{
		ID:        id,
		Role:      role,
		Status:    model.AgentIdle,
		SpawnedAt: time.Now(),
	}
	o.agents[id] = entry
	return *entry, nil
}

// NewAgentID generates a fresh agent identifier for callers that don't
// supply their own.
func NewAgentID() string {
	return uuid.NewString()
}

// Shutdown terminates every active agent concurrently, absorbing
// per-agent errors (logged, not returned), then clears the registry.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.agents))
	for id := range o.agents {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if o.bridge == nil {
				return
			}
			if err := o.bridge.TerminateAgent(ctx, id); err != nil {
				o.logger.Warn("agent termination failed", "error", err, "agent_id", id)
			}
		}(id)
	}
	wg.Wait()

	o.mu.Lock()
	o.agents = make(map[string]*model.AgentEntry)
	o.mu.Unlock()
}

// AgentCount returns the number of currently registered agents.
func (o *Orchestrator) AgentCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.agents)
}

// LastMessageID returns the last dispatched message ID attributed to role,
// and whether any has been recorded yet.
func (o *Orchestrator) LastMessageID(role model.Role) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.lastMessageByRole[role]
	return id, ok
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
