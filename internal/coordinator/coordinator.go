// Package coordinator implements the Defence Coordinator: it sequences the
// inspection layers (L1 scan, L2 analyze, Coherence Gate, L3 safety, L4
// PII, then the asynchronous L5 learn and L6 stats) against soft per-layer
// latency budgets, and applies each layer's fail policy so a backend
// failure never silently passes an unvetted message.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/swarmguard/gateway/internal/breaker"
	"github.com/swarmguard/gateway/internal/coherence"
	"github.com/swarmguard/gateway/internal/collab"
	"github.com/swarmguard/gateway/internal/metrics"
	"github.com/swarmguard/gateway/internal/model"
	"github.com/swarmguard/gateway/internal/normalizer"
	"github.com/swarmguard/gateway/internal/pii"
)

// Soft per-layer latency budgets, logged as warnings when exceeded but
// never enforced as deadlines.
const (
	BudgetL1Ms       = 2.0
	BudgetL2Ms       = 8.0
	BudgetL3Ms       = 1.0
	BudgetL4Ms       = 5.0
	BudgetFastPathMs = 20.0
)

// Thresholds configures the L3 aggregation cutoffs.
type Thresholds struct {
	BlockScore float32
	FlagScore  float32
}

// Config wires the Coordinator's dependencies and policy.
type Config struct {
	Thresholds        Thresholds
	FailOpenDetection bool // L4 fail policy: true = fail-open (default), false = fail-closed
	L4Breaker         *breaker.Breaker
}

// Coordinator sequences L1-L6 for a single message.
type Coordinator struct {
	client  collab.MCPClient
	gate    *coherence.Gate
	redactor *pii.Redactor
	cfg     Config
	metrics *metrics.Collectors
	logger  *slog.Logger
}

// New constructs a Coordinator.
func New(client collab.MCPClient, gate *coherence.Gate, redactor *pii.Redactor, cfg Config, m *metrics.Collectors, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{client: client, gate: gate, redactor: redactor, cfg: cfg, metrics: m, logger: logger}
}

// Process runs content through the fast path and, independently, fires the
// asynchronous L5/L6 tasks without awaiting them.
func (c *Coordinator) Process(ctx context.Context, content string) model.DefenceResult {
	start := time.Now()
	normalized := normalizer.Normalize(content)

	verdicts := make([]model.LayerVerdict, 0, 5)

	l1 := c.runL1(ctx, normalized)
	verdicts = append(verdicts, l1)

	l2 := c.runL2(ctx, normalized)
	verdicts = append(verdicts, l2)

	gateVerdict := c.runCoherenceGate(normalized)
	verdicts = append(verdicts, gateVerdict)

	l3 := c.runL3(ctx, normalized, l1.Score, l2.Score)
	verdicts = append(verdicts, l3)

	isBlocked := l3.Score >= c.cfg.Thresholds.BlockScore
	verdict := verdictFor(l3.Score, c.cfg.Thresholds)

	result := model.DefenceResult{
		Verdict:         verdict,
		IsBlocked:       isBlocked,
		PerLayerTimings: map[model.LayerTag]float32{},
	}

	if !isBlocked {
		l4 := c.runL4(ctx, normalized)
		verdicts = append(verdicts, l4)
		result.SafeInput = l4.Details["redacted_text"].(string)
	} else {
		result.BlockReason = l3.Details["reason"].(string)
	}

	for _, v := range verdicts {
		result.PerLayerTimings[v.LayerTag] = v.LatencyMs
		if c.metrics != nil {
			c.metrics.ObserveLayer(v)
		}
	}
	result.Verdicts = verdicts
	result.TotalLatencyMs = float32(time.Since(start).Milliseconds())

	if result.TotalLatencyMs > BudgetFastPathMs {
		c.logger.Warn("fast path exceeded soft budget", "latency_ms", result.TotalLatencyMs, "budget_ms", BudgetFastPathMs)
	}
	if c.metrics != nil {
		c.metrics.ObserveDispatch(result.Verdict)
	}

	c.fireAsync(ctx, normalized, result)

	return result
}

func (c *Coordinator) runL1(ctx context.Context, text string) model.LayerVerdict {
	start := time.Now()
	v, err := c.client.ScanInput(ctx, text)
	v.LatencyMs = elapsedMs(start)
	v.LayerTag = model.LayerL1
	if err != nil {
		// fail-open: passed=true, score=0
		v.Passed = true
		v.Score = 0
		v.Error = err.Error()
	}
	c.warnIfOverBudget(model.LayerL1, v.LatencyMs, BudgetL1Ms)
	return v
}

func (c *Coordinator) runL2(ctx context.Context, text string) model.LayerVerdict {
	start := time.Now()
	v, err := c.client.AnalyzeThreats(ctx, text)
	v.LatencyMs = elapsedMs(start)
	v.LayerTag = model.LayerL2
	if err != nil {
		v.Passed = true
		v.Score = 0
		v.Error = err.Error()
	}
	c.warnIfOverBudget(model.LayerL2, v.LatencyMs, BudgetL2Ms)
	return v
}

func (c *Coordinator) runCoherenceGate(text string) model.LayerVerdict {
	start := time.Now()
	result := c.gate.Scan(text)
	latency := elapsedMs(start)

	if c.metrics != nil {
		c.metrics.ObserveGate(result.Lambda, result.Escalate, result.SmokeOnly)
	}

	score := float32(0)
	if result.Escalate {
		score = 1
	}
	return model.LayerVerdict{
		LayerTag:  model.LayerCoherenceGate,
		Passed:    !result.Escalate,
		Score:     score,
		LatencyMs: latency,
		Details: map[string]any{
			"route":      string(result.Route),
			"lambda":     result.Lambda,
			"smoke_only": result.SmokeOnly,
			"reason":     result.Reason,
		},
	}
}

func (c *Coordinator) runL3(ctx context.Context, text string, l1Score, l2Score float32) model.LayerVerdict {
	start := time.Now()
	finalScore := l1Score
	if l2Score > finalScore {
		finalScore = l2Score
	}

	v, err := c.client.CheckSafety(ctx, text, l1Score, l2Score)
	v.LatencyMs = elapsedMs(start)
	v.LayerTag = model.LayerL3
	if err != nil {
		// fail-closed: verdict=BLOCKED
		v.Passed = false
		v.Score = 1.0
		v.Error = err.Error()
		v.Details = map[string]any{"reason": "Safety gate internal error"}
	} else {
		v.Score = finalScore
		v.Passed = finalScore < c.cfg.Thresholds.BlockScore
		v.Details = map[string]any{"reason": reasonForScore(finalScore, c.cfg.Thresholds)}
	}
	c.warnIfOverBudget(model.LayerL3, v.LatencyMs, BudgetL3Ms)
	return v
}

func (c *Coordinator) runL4(ctx context.Context, text string) model.LayerVerdict {
	start := time.Now()

	if c.cfg.L4Breaker != nil {
		if err := c.cfg.L4Breaker.Allow(); err != nil {
			return c.l4FailResult(text, err, elapsedMs(start))
		}
	}

	result := c.redactor.Redact(text)
	if c.cfg.L4Breaker != nil {
		c.cfg.L4Breaker.RecordSuccess()
	}

	v := model.LayerVerdict{
		LayerTag:  model.LayerL4PII,
		Passed:    true,
		Score:     0,
		LatencyMs: elapsedMs(start),
		Details: map[string]any{
			"has_pii":        result.HasPII,
			"entities_found": result.EntitiesFound,
			"redacted_text":  result.RedactedText,
		},
	}
	c.warnIfOverBudget(model.LayerL4PII, v.LatencyMs, BudgetL4Ms)
	return v
}

func (c *Coordinator) l4FailResult(text string, err error, latency float32) model.LayerVerdict {
	if c.cfg.L4Breaker != nil {
		c.cfg.L4Breaker.RecordFailure()
	}
	if c.cfg.FailOpenDetection {
		return model.LayerVerdict{
			LayerTag:  model.LayerL4PII,
			Passed:    true,
			Score:     0,
			LatencyMs: latency,
			Error:     err.Error(),
			Details:   map[string]any{"redacted_text": text, "has_pii": false, "entities_found": []pii.Kind{}},
		}
	}
	return model.LayerVerdict{
		LayerTag:  model.LayerL4PII,
		Passed:    false,
		Score:     1,
		LatencyMs: latency,
		Error:     err.Error(),
		Details:   map[string]any{"redacted_text": "", "has_pii": false, "entities_found": []pii.Kind{}},
	}
}

// fireAsync starts L5 and L6 without awaiting them. Errors are logged only
// and never affect the fast-path outcome already returned to the caller.
func (c *Coordinator) fireAsync(ctx context.Context, text string, result model.DefenceResult) {
	go func() {
		if err := c.client.Learn(ctx, text, result); err != nil {
			c.logger.Warn("L5 learn failed", "error", err)
		}
	}()
	go func() {
		if err := c.client.RecordStats(ctx, result); err != nil {
			c.logger.Warn("L6 record_stats failed", "error", err)
		}
	}()
}

func (c *Coordinator) warnIfOverBudget(layer model.LayerTag, latencyMs, budgetMs float32) {
	if latencyMs > budgetMs {
		c.logger.Warn("layer exceeded soft budget", "layer", layer, "latency_ms", latencyMs, "budget_ms", budgetMs)
	}
}

func verdictFor(score float32, t Thresholds) model.Verdict {
	switch {
	case score >= t.BlockScore:
		return model.VerdictBlocked
	case score >= t.FlagScore:
		return model.VerdictFlagged
	default:
		return model.VerdictSafe
	}
}

func reasonForScore(score float32, t Thresholds) string {
	switch {
	case score >= t.BlockScore:
		return "final score exceeded block threshold"
	case score >= t.FlagScore:
		return "final score exceeded flag threshold"
	default:
		return ""
	}
}

func elapsedMs(start time.Time) float32 {
	return float32(time.Since(start).Microseconds()) / 1000
}
