// Package orchestrator drives the sequential model-call loop: one call per
// chunk, each gated by the governor, folding responses into one document with
// a bounded recap carried between calls.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/scribeworks/scribe/internal/chunker"
	"github.com/scribeworks/scribe/internal/gemini"
	"github.com/scribeworks/scribe/internal/governor"
)

// Status is the terminal state of a generation run.
type Status string

const (
	StatusComplete       Status = "complete"
	StatusPartialFailure Status = "partial_failure"
)

// maxOutputTokens is the per-call output budget requested from the model.
const maxOutputTokens = 8192

// Model is the generative backend boundary.
type Model interface {
	Generate(ctx context.Context, model, prompt string, maxOutputTokens int) (gemini.Result, error)
}

// Gate is the rate/quota governor boundary.
type Gate interface {
	Before(ctx context.Context, owner string, projected int64) error
	After(ctx context.Context, owner string, projected, actual int64) error
	Release(ctx context.Context, owner string, projected int64) error
}

type Orchestrator struct {
	model   Model
	gate    Gate
	logger  *slog.Logger
	backoff time.Duration // wait before the single retry
}

func New(model Model, gate Gate, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		model:   model,
		gate:    gate,
		logger:  logger,
		backoff: 2 * time.Second,
	}
}

// Request is one generation run over ordered chunks.
type Request struct {
	Owner       string
	ModelID     string
	Requirement string // may be empty; a default instruction applies
	Tree        string
	Chunks      []chunker.Chunk
}

// Outcome is the merged result of a run. When Status is PartialFailure the
// document still contains everything the successful calls produced.
type Outcome struct {
	Document    string
	Status      Status
	TokensUsed  int64 // model-reported, summed over successful calls
	ChunksDone  int
	ChunksTotal int
	QuotaDenied bool // run was cut short by the daily ledger, not the backend
}

// Run folds over the chunks in order. Each iteration carries the accumulated
// document and recap; chunk N+1's prompt depends on chunk N's output, so
// calls are strictly sequential. On a chunk failure after one retry the
// remaining chunks are abandoned and the best-effort document is returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	doc := newDocument()
	out := Outcome{ChunksTotal: len(req.Chunks), Status: StatusComplete}

	for _, chunk := range req.Chunks {
		// Cancellation is honored between calls only.
		if err := ctx.Err(); err != nil {
			out.Document = doc.render()
			out.Status = StatusPartialFailure
			return out, err
		}

		prompt := buildPrompt(req.Requirement, req.Tree, doc.recap(), chunk, len(req.Chunks))
		projected := int64(chunker.EstimateTokens(prompt) + maxOutputTokens)

		if err := o.gate.Before(ctx, req.Owner, projected); err != nil {
			if errors.Is(err, governor.ErrQuotaExhausted) {
				o.logger.Warn("quota exhausted mid-run, returning partial result",
					"owner", req.Owner,
					"chunk", chunk.Index,
					"done", out.ChunksDone,
				)
				out.QuotaDenied = true
				out.Status = StatusPartialFailure
				out.Document = doc.render()
				return out, nil
			}
			out.Status = StatusPartialFailure
			out.Document = doc.render()
			return out, err
		}

		res, err := o.generateWithRetry(ctx, req.ModelID, prompt)
		if err != nil {
			// The reservation was never consumed by the backend.
			if relErr := o.gate.Release(context.WithoutCancel(ctx), req.Owner, projected); relErr != nil {
				o.logger.Error("failed to release reservation", "owner", req.Owner, "error", relErr)
			}
			o.logger.Error("chunk failed after retry, abandoning remaining chunks",
				"chunk", chunk.Index,
				"done", out.ChunksDone,
				"total", out.ChunksTotal,
				"error", err,
			)
			out.Status = StatusPartialFailure
			out.Document = doc.render()
			return out, nil
		}

		// Settle the ledger to the model-reported count, even if the caller
		// has since gone away.
		if err := o.gate.After(context.WithoutCancel(ctx), req.Owner, projected, int64(res.TokensUsed)); err != nil {
			o.logger.Error("failed to settle ledger", "owner", req.Owner, "error", err)
		}
		out.TokensUsed += int64(res.TokensUsed)

		// A cancellation that arrived mid-call discards the result.
		if err := ctx.Err(); err != nil {
			out.Document = doc.render()
			out.Status = StatusPartialFailure
			return out, err
		}

		doc.merge(res.Text)
		out.ChunksDone++
	}

	out.Document = doc.render()
	if out.ChunksDone < out.ChunksTotal {
		out.Status = StatusPartialFailure
	}
	return out, nil
}

// generateWithRetry issues the model call, retrying once with backoff on a
// retryable failure. The in-flight call runs on a detached context so a
// caller cancellation cannot orphan a charge the ledger already saw.
func (o *Orchestrator) generateWithRetry(ctx context.Context, modelID, prompt string) (gemini.Result, error) {
	callCtx := context.WithoutCancel(ctx)

	res, err := o.model.Generate(callCtx, modelID, prompt, maxOutputTokens)
	if err == nil {
		return res, nil
	}
	if !gemini.Retryable(err) {
		return gemini.Result{}, err
	}

	o.logger.Warn("model call failed, retrying once", "model", modelID, "backoff", o.backoff, "error", err)

	select {
	case <-time.After(o.backoff):
	case <-ctx.Done():
		return gemini.Result{}, ctx.Err()
	}

	return o.model.Generate(callCtx, modelID, prompt, maxOutputTokens)
}
