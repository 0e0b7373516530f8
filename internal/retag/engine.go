// Package retag replaces one tag with another across the findings of a project.
//
// A run validates both tags, lists every finding carrying the old tag and then
// rewrites each finding's tags one at a time. Listing failures abort the run;
// a failed update is recorded against that finding and the run moves on.
package retag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dyluth/retag/internal/endor"
	"github.com/dyluth/retag/internal/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrFindingsFailed is wrapped by RunResult.Err when any update failed.
var ErrFindingsFailed = errors.New("one or more findings failed to update")

// FindingsService is the remote API the engine drives.
type FindingsService interface {
	ListFindings(ctx context.Context, projectUUID, withTag, branch string) ([]endor.Finding, error)
	UpdateFindingTags(ctx context.Context, f endor.Finding, tags []string) error
}

// Request describes one replacement run. It is not modified by the engine.
type Request struct {
	OldTag      string
	NewTag      string
	ProjectUUID string
	Branch      string // empty means the project's main context
	DryRun      bool
}

// Status is the outcome of a single finding.
type Status string

const (
	StatusUpdated Status = "updated"
	StatusFailed  Status = "failed"
	StatusPlanned Status = "planned"
)

// FindingResult is what happened to one finding.
type FindingResult struct {
	ID         string   `json:"id" yaml:"id"`
	OldTags    []string `json:"old_tags" yaml:"old_tags"`
	Tags       []string `json:"tags" yaml:"tags"`
	RemovedOld bool     `json:"removed_old" yaml:"removed_old"`
	AddedNew   bool     `json:"added_new" yaml:"added_new"`
	Status     Status   `json:"status" yaml:"status"`
	Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// NoOp reports whether the finding's tags were left unchanged.
func (r FindingResult) NoOp() bool {
	return !r.RemovedOld && !r.AddedNew
}

// RunResult aggregates a run.
type RunResult struct {
	OldTag      string          `json:"old_tag" yaml:"old_tag"`
	NewTag      string          `json:"new_tag" yaml:"new_tag"`
	ProjectUUID string          `json:"project_uuid" yaml:"project_uuid"`
	Branch      string          `json:"branch,omitempty" yaml:"branch,omitempty"`
	DryRun      bool            `json:"dry_run" yaml:"dry_run"`
	Total       int             `json:"total" yaml:"total"`
	Succeeded   int             `json:"succeeded" yaml:"succeeded"`
	Failed      int             `json:"failed" yaml:"failed"`
	Findings    []FindingResult `json:"findings" yaml:"findings"`
}

// Err returns ErrFindingsFailed when any finding failed, nil otherwise.
func (r *RunResult) Err() error {
	if r.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrFindingsFailed, r.Failed, r.Total)
	}
	return nil
}

// Observer is notified as the run progresses.
type Observer interface {
	Listed(count int)
	FindingDone(result FindingResult)
}

// Engine runs tag replacements against a FindingsService.
type Engine struct {
	service  FindingsService
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
}

// NewEngine creates an engine. logger and tracer may be nil; a nil tracer uses
// the global provider.
func NewEngine(service FindingsService, logger *slog.Logger, tracer trace.Tracer) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer("github.com/dyluth/retag/internal/retag")
	}
	return &Engine{
		service: service,
		logger:  logger.With("component", "retag"),
		tracer:  tracer,
	}
}

// SetObserver registers o to receive progress callbacks.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Run performs the replacement described by req.
//
// Both tags are validated before any remote call; a *tag.ValidationError is
// returned if either is malformed. A listing failure is returned as is. Update
// failures never abort the run: they are recorded in the result, and the
// caller decides what to do with RunResult.Failed.
func (e *Engine) Run(ctx context.Context, req Request) (*RunResult, error) {
	if err := tag.Validate("old tag", req.OldTag); err != nil {
		return nil, err
	}
	if err := tag.Validate("new tag", req.NewTag); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "retag.Run",
		trace.WithAttributes(
			attribute.String("project_uuid", req.ProjectUUID),
			attribute.String("old_tag", req.OldTag),
			attribute.String("new_tag", req.NewTag),
			attribute.String("branch", req.Branch),
			attribute.Bool("dry_run", req.DryRun),
		))
	defer span.End()

	result := &RunResult{
		OldTag:      req.OldTag,
		NewTag:      req.NewTag,
		ProjectUUID: req.ProjectUUID,
		Branch:      req.Branch,
		DryRun:      req.DryRun,
		Findings:    []FindingResult{},
	}

	findings, err := e.service.ListFindings(ctx, req.ProjectUUID, req.OldTag, req.Branch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list findings tagged %q: %w", req.OldTag, err)
	}

	e.logger.Info("findings listed", "project_uuid", req.ProjectUUID, "tag", req.OldTag, "count", len(findings))
	if e.observer != nil {
		e.observer.Listed(len(findings))
	}

	for _, f := range findings {
		fr := e.process(ctx, f, req)
		result.Findings = append(result.Findings, fr)
		result.Total++
		if fr.Status == StatusFailed {
			result.Failed++
		} else {
			result.Succeeded++
		}
		if e.observer != nil {
			e.observer.FindingDone(fr)
		}
	}

	if result.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d findings failed", result.Failed, result.Total))
	}
	span.SetAttributes(
		attribute.Int("total", result.Total),
		attribute.Int("succeeded", result.Succeeded),
		attribute.Int("failed", result.Failed),
	)
	e.logger.Info("run complete", "total", result.Total, "succeeded", result.Succeeded, "failed", result.Failed)

	return result, nil
}

func (e *Engine) process(ctx context.Context, f endor.Finding, req Request) FindingResult {
	newTags, change := tag.Replace(f.Meta.Tags, req.OldTag, req.NewTag)

	fr := FindingResult{
		ID:         f.UUID,
		OldTags:    append([]string{}, f.Meta.Tags...),
		Tags:       newTags,
		RemovedOld: change.RemovedOld,
		AddedNew:   change.AddedNew,
	}

	if req.DryRun {
		fr.Status = StatusPlanned
		return fr
	}

	if err := e.service.UpdateFindingTags(ctx, f, newTags); err != nil {
		e.logger.Warn("finding update failed", "finding", f.UUID, "error", err)
		fr.Status = StatusFailed
		fr.Error = err.Error()
		return fr
	}

	fr.Status = StatusUpdated
	return fr
}
