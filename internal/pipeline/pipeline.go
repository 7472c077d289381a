// Package pipeline runs one upload end to end: extract, select, chunk,
// orchestrate the model calls, persist the result and emit lifecycle events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/scribeworks/scribe/internal/archive"
	"github.com/scribeworks/scribe/internal/chunker"
	"github.com/scribeworks/scribe/internal/config"
	"github.com/scribeworks/scribe/internal/events"
	"github.com/scribeworks/scribe/internal/gemini"
	"github.com/scribeworks/scribe/internal/governor"
	"github.com/scribeworks/scribe/internal/orchestrator"
	"github.com/scribeworks/scribe/internal/selector"
	"github.com/scribeworks/scribe/internal/store"
)

// ErrNoUsableOutput means every model call failed and there is nothing to
// return or persist.
var ErrNoUsableOutput = errors.New("no usable output produced")

// Store is the persistence surface the pipeline needs.
type Store interface {
	SaveReadme(ctx context.Context, rec store.ReadmeRecord) (uuid.UUID, error)
	AppendUsage(ctx context.Context, owner string, e store.UsageEntry) error
	GetAPIKey(ctx context.Context, owner string) (string, error)
}

// budgetCalls bounds selection: ten full chunks of content is plenty for one
// document, and selection past that adds chunks the recap cannot carry.
const budgetCalls = 10

type Pipeline struct {
	cfg    config.Config
	model  *gemini.Client
	gate   orchestrator.Gate
	store  Store
	events *events.Publisher // nil when NATS is not configured
	logger *slog.Logger
}

func New(cfg config.Config, model *gemini.Client, gate orchestrator.Gate, st Store, pub *events.Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		model:  model,
		gate:   gate,
		store:  st,
		events: pub,
		logger: logger,
	}
}

// Request is one upload to process.
type Request struct {
	Owner       string
	Filename    string
	Archive     []byte
	Requirement string
	Model       string
	APIKey      string // per-request override; falls back to the stored key, then the service key
}

// Outcome is what the API returns to the caller.
type Outcome struct {
	ReadmeID         uuid.UUID
	Document         string
	Partial          bool
	QuotaDenied      bool
	Saved            bool
	TokensUsed       int64
	ChunksDone       int
	ChunksTotal      int
	FilesUsed        int
	FilesSkipped     int
	DroppedForBudget int
}

// Run processes one archive. Failures before the first model call surface as
// errors; once any chunk has succeeded the result is returned with Partial
// set instead.
func (p *Pipeline) Run(ctx context.Context, req Request) (Outcome, error) {
	var out Outcome

	files, err := archive.Extract(req.Archive, archive.Limits{
		MaxArchiveBytes: p.cfg.MaxArchiveBytes,
		MaxFileBytes:    p.cfg.MaxFileBytes,
	})
	if err != nil {
		return out, err
	}

	// Roughly budgetCalls full chunks of content, in bytes.
	budget := int64(budgetCalls) * int64(p.cfg.MaxTokens) * 4
	sel := selector.New(p.cfg.IgnorePatterns, budget).Select(files)
	out.FilesUsed = len(sel.Entries)
	out.FilesSkipped = len(sel.Skipped)
	out.DroppedForBudget = sel.DroppedForBudget

	chunks, err := chunker.Build(sel.Entries, p.cfg.MaxTokens)
	if err != nil {
		return out, err
	}

	model := p.model
	if key, err := p.resolveKey(ctx, req); err == nil && key != "" {
		model = p.model.WithKey(key)
	}

	p.logger.Info("starting generation",
		"owner", req.Owner,
		"filename", req.Filename,
		"files", len(sel.Entries),
		"skipped", len(sel.Skipped),
		"chunks", len(chunks),
	)

	orch := orchestrator.New(model, p.gate, p.logger)
	run, err := orch.Run(ctx, orchestrator.Request{
		Owner:       req.Owner,
		ModelID:     req.Model,
		Requirement: req.Requirement,
		Tree:        sel.Tree,
		Chunks:      chunks,
	})
	if err != nil {
		return out, err
	}

	out.TokensUsed = run.TokensUsed
	out.ChunksDone = run.ChunksDone
	out.ChunksTotal = run.ChunksTotal
	out.QuotaDenied = run.QuotaDenied
	out.Partial = run.Status == orchestrator.StatusPartialFailure

	if run.ChunksDone == 0 {
		if run.QuotaDenied {
			return out, fmt.Errorf("before first call: %w", governor.ErrQuotaExhausted)
		}
		return out, ErrNoUsableOutput
	}
	out.Document = run.Document

	p.persist(ctx, req, &out)
	p.publish(req, out)
	return out, nil
}

// resolveKey picks the API key for this run: request override first, then the
// owner's stored key, then the service default (empty means default).
func (p *Pipeline) resolveKey(ctx context.Context, req Request) (string, error) {
	if req.APIKey != "" {
		return req.APIKey, nil
	}
	key, err := p.store.GetAPIKey(ctx, req.Owner)
	if err != nil {
		p.logger.Warn("stored key lookup failed, using service key", "owner", req.Owner, "error", err)
		return "", err
	}
	return key, nil
}

// persist saves the record and appends the usage row. A storage failure does
// not fail the request; the caller still gets the document, with Saved false.
func (p *Pipeline) persist(ctx context.Context, req Request, out *Outcome) {
	id, err := p.store.SaveReadme(ctx, store.ReadmeRecord{
		Owner:       req.Owner,
		Filename:    req.Filename,
		Requirement: req.Requirement,
		Model:       req.Model,
		TotalTokens: out.TokensUsed,
		Partial:     out.Partial,
		Content:     out.Document,
	})
	if err != nil {
		p.logger.Error("failed to persist readme, returning unsaved document", "owner", req.Owner, "error", err)
	} else {
		out.ReadmeID = id
		out.Saved = true
	}

	usage := store.UsageEntry{
		Filename: req.Filename,
		Model:    req.Model,
		Tokens:   out.TokensUsed,
		Partial:  out.Partial,
	}
	if out.Saved {
		usage.ReadmeID = uuid.NullUUID{UUID: out.ReadmeID, Valid: true}
	}
	if err := p.store.AppendUsage(ctx, req.Owner, usage); err != nil {
		p.logger.Error("failed to append usage entry", "owner", req.Owner, "error", err)
	}
}

func (p *Pipeline) publish(req Request, out Outcome) {
	ev := events.GenerationEvent{
		Owner:       req.Owner,
		Filename:    req.Filename,
		Model:       req.Model,
		TokensUsed:  out.TokensUsed,
		ChunksDone:  out.ChunksDone,
		ChunksTotal: out.ChunksTotal,
	}
	if out.Saved {
		ev.ReadmeID = out.ReadmeID.String()
	}
	switch {
	case out.QuotaDenied:
		p.events.Publish(events.SubjectQuotaDenied, ev)
	case out.Partial:
		p.events.Publish(events.SubjectPartial, ev)
	default:
		p.events.Publish(events.SubjectGenerated, ev)
	}
}
