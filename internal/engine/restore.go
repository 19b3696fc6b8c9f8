package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/viewsync/internal/observability"
	"github.com/roach88/viewsync/internal/render"
)

// RestoreReport summarizes one restoration pass.
type RestoreReport struct {
	// Sources and Layers count records recreated on the view.
	Sources int `json:"sources"`
	Layers  int `json:"layers"`
	// Skipped lists persisted layers whose kind the profile does not
	// restore natively.
	Skipped []string `json:"skipped,omitempty"`
	// Failures lists records the backend refused. Restoration continues
	// past each one.
	Failures []*RestoreError `json:"failures,omitempty"`
}

// OK reports whether every eligible record was restored.
func (r RestoreReport) OK() bool {
	return len(r.Failures) == 0
}

// restore recreates persisted sources and layers on view: sources first in
// id order, then foundation layers, then overlay layers, each partition in
// stored order. Controls are never restored here; they come back through
// command replay.
func (e *Engine) restore(ctx context.Context, view render.View) RestoreReport {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "engine.restore",
		trace.WithAttributes(attribute.String("view_id", view.ID())),
	)
	defer span.End()
	start := time.Now()

	report := RestoreReport{}
	for _, src := range e.state.Sources() {
		if err := view.AddSource(ctx, src); err != nil {
			e.restoreFailed(span, &report, newRestoreError("source", src.ID, err))
			continue
		}
		report.Sources++
		e.restored("source", src.ID, OutcomeOK)
	}

	foundation, overlay := e.profile.Partition(e.state.Layers())
	for _, layer := range append(foundation, overlay...) {
		if !e.profile.IsNative(layer.Kind) {
			report.Skipped = append(report.Skipped, layer.ID)
			e.restored("layer", layer.ID, OutcomeSkipped)
			continue
		}
		if err := view.AddLayer(ctx, layer, ""); err != nil {
			e.restoreFailed(span, &report, newRestoreError("layer", layer.ID, err))
			continue
		}
		report.Layers++
		e.restored("layer", layer.ID, OutcomeOK)
	}

	span.SetAttributes(
		attribute.Int("restored_sources", report.Sources),
		attribute.Int("restored_layers", report.Layers),
		attribute.Int("failures", len(report.Failures)),
	)
	if report.OK() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "restore incomplete")
	}
	observability.RecordRestoreDuration(time.Since(start))
	return report
}

func (e *Engine) restored(entity, id, outcome string) {
	observability.RecordRestoreEntity(entity, outcome)
	e.trace(TraceEvent{Phase: PhaseRestore, Entity: entity, EntityID: id, Outcome: outcome})
}

func (e *Engine) restoreFailed(span trace.Span, report *RestoreReport, rerr *RestoreError) {
	report.Failures = append(report.Failures, rerr)
	span.RecordError(rerr)
	e.logger.Warn("restore failed; continuing",
		"entity", rerr.Entity,
		"id", rerr.ID,
		"code", rerr.Code,
		"error", rerr.Err,
	)
	e.restored(rerr.Entity, rerr.ID, OutcomeFailed)
}
