package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/swarmguard/gateway/internal/coherence"
	"github.com/swarmguard/gateway/internal/embedding"
	"github.com/swarmguard/gateway/internal/model"
	"github.com/swarmguard/gateway/internal/pii"
	"github.com/swarmguard/gateway/internal/vectorindex"
)

type fakeClient struct {
	scanScore, analyzeScore, safetyScore float32
	scanErr, analyzeErr, safetyErr       error
	learnCalled, statsCalled             chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		learnCalled: make(chan struct{}, 1),
		statsCalled: make(chan struct{}, 1),
	}
}

func (f *fakeClient) ScanInput(ctx context.Context, text string) (model.LayerVerdict, error) {
	if f.scanErr != nil {
		return model.LayerVerdict{}, f.scanErr
	}
	return model.LayerVerdict{Score: f.scanScore, Passed: f.scanScore < 0.9}, nil
}

func (f *fakeClient) AnalyzeThreats(ctx context.Context, text string) (model.LayerVerdict, error) {
	if f.analyzeErr != nil {
		return model.LayerVerdict{}, f.analyzeErr
	}
	return model.LayerVerdict{Score: f.analyzeScore, Passed: f.analyzeScore < 0.9}, nil
}

func (f *fakeClient) CheckSafety(ctx context.Context, text string, l1Score, l2Score float32) (model.LayerVerdict, error) {
	if f.safetyErr != nil {
		return model.LayerVerdict{}, f.safetyErr
	}
	return model.LayerVerdict{}, nil
}

func (f *fakeClient) DetectPII(ctx context.Context, text string) (model.LayerVerdict, error) {
	return model.LayerVerdict{}, nil
}

func (f *fakeClient) Learn(ctx context.Context, text string, result model.DefenceResult) error {
	select {
	case f.learnCalled <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeClient) RecordStats(ctx context.Context, result model.DefenceResult) error {
	select {
	case f.statsCalled <- struct{}{}:
	default:
	}
	return nil
}

func buildCoordinator(t *testing.T, client *fakeClient, cfg Config) *Coordinator {
	t.Helper()
	embedder := embedding.NewFastEmbedder(32)
	idx, err := vectorindex.New(t.TempDir()+"/attack.idx", vectorindex.Config{Dimension: 32})
	if err != nil {
		t.Fatalf("vectorindex.New: %v", err)
	}
	gate := coherence.New(idx, nil, embedder)
	redactor := pii.New()
	if cfg.Thresholds.BlockScore == 0 {
		cfg.Thresholds = Thresholds{BlockScore: 0.9, FlagScore: 0.7}
	}
	return New(client, gate, redactor, cfg, nil, nil)
}

func TestProcess_L3AggregationSafeBoundary(t *testing.T) {
	client := newFakeClient()
	client.scanScore = 0.69
	client.analyzeScore = 0.5
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	if result.Verdict != model.VerdictSafe {
		t.Errorf("expected SAFE at 0.69, got %v", result.Verdict)
	}
	if result.IsBlocked {
		t.Error("expected not blocked")
	}
}

func TestProcess_L3AggregationFlaggedAtExactThreshold(t *testing.T) {
	client := newFakeClient()
	client.scanScore = 0.7
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	if result.Verdict != model.VerdictFlagged {
		t.Errorf("expected FLAGGED at exactly 0.7, got %v", result.Verdict)
	}
}

func TestProcess_L3AggregationJustBelowFlagThreshold(t *testing.T) {
	client := newFakeClient()
	client.scanScore = 0.69
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	if result.Verdict != model.VerdictSafe {
		t.Errorf("expected SAFE at 0.69, got %v", result.Verdict)
	}
}

func TestProcess_L3AggregationBlockedAtExactThreshold(t *testing.T) {
	client := newFakeClient()
	client.scanScore = 0.9
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	if result.Verdict != model.VerdictBlocked {
		t.Errorf("expected BLOCKED at exactly 0.9, got %v", result.Verdict)
	}
	if !result.IsBlocked {
		t.Error("expected IsBlocked true")
	}
	if result.SafeInput != "" {
		t.Errorf("expected empty SafeInput when blocked, got %q", result.SafeInput)
	}
}

func TestProcess_L3AggregationJustBelowBlockThreshold(t *testing.T) {
	client := newFakeClient()
	client.scanScore = 0.89
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	if result.Verdict != model.VerdictFlagged {
		t.Errorf("expected FLAGGED at 0.89, got %v", result.Verdict)
	}
	if result.IsBlocked {
		t.Error("expected not blocked at 0.89")
	}
}

func TestProcess_UsesMaxOfL1AndL2(t *testing.T) {
	client := newFakeClient()
	client.scanScore = 0.2
	client.analyzeScore = 0.95
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	if result.Verdict != model.VerdictBlocked {
		t.Errorf("expected BLOCKED since max(0.2,0.95)=0.95, got %v", result.Verdict)
	}
}

func TestProcess_L1FailOpen(t *testing.T) {
	client := newFakeClient()
	client.scanErr = errors.New("backend down")
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	if result.IsBlocked {
		t.Error("L1 failure must fail open, not block")
	}
}

func TestProcess_L3FailClosed(t *testing.T) {
	client := newFakeClient()
	client.safetyErr = errors.New("safety backend down")
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	if !result.IsBlocked {
		t.Error("L3 failure must fail closed and block")
	}
	if result.Verdict != model.VerdictBlocked {
		t.Errorf("expected BLOCKED on L3 failure, got %v", result.Verdict)
	}
	if result.BlockReason != "Safety gate internal error" {
		t.Errorf("expected safety gate error reason, got %q", result.BlockReason)
	}
}

func TestProcess_L4SkippedWhenBlocked(t *testing.T) {
	client := newFakeClient()
	client.scanScore = 0.95
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	for _, v := range result.Verdicts {
		if v.LayerTag == model.LayerL4PII {
			t.Error("L4_PII verdict must not appear when blocked")
		}
	}
	if result.SafeInput != "" {
		t.Errorf("expected empty SafeInput when blocked, got %q", result.SafeInput)
	}
}

func TestProcess_L4RunsWhenNotBlocked(t *testing.T) {
	client := newFakeClient()
	client.scanScore = 0.1
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "contact me at test@example.com")
	found := false
	for _, v := range result.Verdicts {
		if v.LayerTag == model.LayerL4PII {
			found = true
		}
	}
	if !found {
		t.Error("expected L4_PII verdict when not blocked")
	}
	if result.SafeInput == "" {
		t.Error("expected non-empty SafeInput when not blocked")
	}
}

func TestProcess_VerdictsAlwaysContainCoreLayers(t *testing.T) {
	client := newFakeClient()
	c := buildCoordinator(t, client, Config{})

	result := c.Process(context.Background(), "hello there")
	seen := map[model.LayerTag]bool{}
	for _, v := range result.Verdicts {
		seen[v.LayerTag] = true
	}
	for _, tag := range []model.LayerTag{model.LayerL1, model.LayerL2, model.LayerCoherenceGate, model.LayerL3} {
		if !seen[tag] {
			t.Errorf("expected verdicts to contain %v", tag)
		}
	}
}

func TestProcess_AsyncLayersFireWithoutBlockingResult(t *testing.T) {
	client := newFakeClient()
	c := buildCoordinator(t, client, Config{})

	c.Process(context.Background(), "hello there")

	select {
	case <-client.learnCalled:
	default:
		t.Log("learn not yet observed synchronously, which is expected for async dispatch")
	}
}
