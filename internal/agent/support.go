package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starcrew-ai/starcrew/internal/consensus"
	"github.com/starcrew-ai/starcrew/internal/validation"
	"github.com/starcrew-ai/starcrew/internal/workerpool"
	"github.com/starcrew-ai/starcrew/pkg/game"
	"github.com/starcrew-ai/starcrew/pkg/memory"
)

// Support job payloads and results. The phase-facing callers go through
// the queue-backed adapters below, so semantic checks, corruption
// rendering, and stance extraction compete for the same workers as the
// rest of the turn's LLM load.

// SemanticPayload asks whether pattern findings hold up in context.
type SemanticPayload struct {
	ActionText string               `json:"action_text"`
	Findings   []validation.Finding `json:"findings"`
}

// SemanticResult carries the confirmed findings.
type SemanticResult struct {
	Findings []validation.Finding `json:"findings"`
}

// CorruptionPayload asks for the degraded rendering of one fact.
type CorruptionPayload struct {
	Fact string                `json:"fact"`
	Type memory.CorruptionType `json:"type"`
}

// CorruptionResult carries the degraded text.
type CorruptionResult struct {
	Text string `json:"text"`
}

// StancePayload asks for one agent's stance over the OOC log.
type StancePayload struct {
	AgentID  string            `json:"agent_id"`
	Messages []game.OOCMessage `json:"messages"`
}

func (c *Crew) handleSemantic(ctx context.Context, job workerpool.Job) (json.RawMessage, error) {
	payload, err := decodePayload[SemanticPayload](job)
	if err != nil {
		return nil, err
	}
	confirmed, err := c.checker.Confirm(ctx, payload.ActionText, payload.Findings)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SemanticResult{Findings: confirmed})
}

func (c *Crew) handleCorruption(ctx context.Context, job workerpool.Job) (json.RawMessage, error) {
	payload, err := decodePayload[CorruptionPayload](job)
	if err != nil {
		return nil, err
	}
	text, err := c.renderer.RenderCorruption(ctx, payload.Fact, payload.Type)
	if err != nil {
		return nil, err
	}
	return json.Marshal(CorruptionResult{Text: text})
}

func (c *Crew) handleStance(ctx context.Context, job workerpool.Job) (json.RawMessage, error) {
	payload, err := decodePayload[StancePayload](job)
	if err != nil {
		return nil, err
	}
	stance, err := c.classifier.Classify(ctx, payload.AgentID, payload.Messages)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stance)
}

// Queue is the pool surface the adapters dispatch through. Satisfied by
// *workerpool.Pool.
type Queue interface {
	Enqueue(ctx context.Context, sessionID, agentID string, kind workerpool.Kind, payload any) (string, error)
	Await(ctx context.Context, jobID string, timeout time.Duration) (json.RawMessage, error)
}

// QueueChecker implements [validation.Checker] by dispatching a
// validation_semantic job.
type QueueChecker struct {
	Pool      Queue
	SessionID string
}

var _ validation.Checker = (*QueueChecker)(nil)

// Confirm implements [validation.Checker].
func (q *QueueChecker) Confirm(ctx context.Context, actionText string, findings []validation.Finding) ([]validation.Finding, error) {
	var res SemanticResult
	if err := dispatch(ctx, q.Pool, q.SessionID, "", workerpool.KindValidationSemantic,
		SemanticPayload{ActionText: actionText, Findings: findings}, &res); err != nil {
		return nil, err
	}
	return res.Findings, nil
}

// QueueRenderer implements [memory.Renderer] by dispatching a
// memory_corruption_render job.
type QueueRenderer struct {
	Pool      Queue
	SessionID string
}

var _ memory.Renderer = (*QueueRenderer)(nil)

// RenderCorruption implements [memory.Renderer].
func (q *QueueRenderer) RenderCorruption(ctx context.Context, fact string, ctype memory.CorruptionType) (string, error) {
	var res CorruptionResult
	if err := dispatch(ctx, q.Pool, q.SessionID, "", workerpool.KindMemoryCorruptionRender,
		CorruptionPayload{Fact: fact, Type: ctype}, &res); err != nil {
		return "", err
	}
	return res.Text, nil
}

// QueueClassifier implements [consensus.Classifier] by dispatching a
// stance_extraction job.
type QueueClassifier struct {
	Pool      Queue
	SessionID string
}

var _ consensus.Classifier = (*QueueClassifier)(nil)

// Classify implements [consensus.Classifier].
func (q *QueueClassifier) Classify(ctx context.Context, agentID string, messages []game.OOCMessage) (consensus.AgentStance, error) {
	var stance consensus.AgentStance
	if err := dispatch(ctx, q.Pool, q.SessionID, agentID, workerpool.KindStanceExtraction,
		StancePayload{AgentID: agentID, Messages: messages}, &stance); err != nil {
		return consensus.AgentStance{}, err
	}
	return stance, nil
}

// dispatch runs one queued job synchronously and decodes its result.
func dispatch(ctx context.Context, pool Queue, sessionID, agentID string, kind workerpool.Kind, payload, out any) error {
	jobID, err := pool.Enqueue(ctx, sessionID, agentID, kind, payload)
	if err != nil {
		return err
	}
	raw, err := pool.Await(ctx, jobID, workerpool.DefaultJobTimeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("agent: decode %s result: %w", kind, err)
	}
	return nil
}
