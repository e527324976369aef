// Package telemetry records sync engine metrics through OpenTelemetry.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"outreach-sync-engine/internal/syncjob/domain"
)

// MetricsNotifier counts job lifecycle events and synced record volumes. It
// plugs into the job tracker as a notifier, so the sync path stays unaware of
// instrumentation.
type MetricsNotifier struct {
	jobsStarted  metric.Int64Counter
	jobsFinished metric.Int64Counter
	usersSynced  metric.Int64Counter
	eventsSynced metric.Int64Counter
	deduped      metric.Int64Counter
}

// NewMetricsNotifier registers the sync engine's instruments on the meter.
func NewMetricsNotifier(meter metric.Meter) (*MetricsNotifier, error) {
	m := &MetricsNotifier{}
	var err error
	if m.jobsStarted, err = meter.Int64Counter("sync.jobs.started",
		metric.WithDescription("Sync jobs that began running")); err != nil {
		return nil, err
	}
	if m.jobsFinished, err = meter.Int64Counter("sync.jobs.finished",
		metric.WithDescription("Sync jobs that reached a terminal state, by status")); err != nil {
		return nil, err
	}
	if m.usersSynced, err = meter.Int64Counter("sync.users.synced",
		metric.WithDescription("User records merged, by platform")); err != nil {
		return nil, err
	}
	if m.eventsSynced, err = meter.Int64Counter("sync.events.synced",
		metric.WithDescription("Engagement events stored, by platform")); err != nil {
		return nil, err
	}
	if m.deduped, err = meter.Int64Counter("sync.events.deduped",
		metric.WithDescription("Engagement events dropped as duplicates, by platform")); err != nil {
		return nil, err
	}
	return m, nil
}

// JobEvent records counters for the lifecycle event. Always returns nil.
func (m *MetricsNotifier) JobEvent(ctx context.Context, job *domain.Job, event string) error {
	if m == nil || job == nil {
		return nil
	}
	mode := attribute.String("mode", string(job.Mode))
	switch {
	case event == "running":
		m.jobsStarted.Add(ctx, 1, metric.WithAttributes(mode))
	case job.Status.IsTerminal():
		m.jobsFinished.Add(ctx, 1, metric.WithAttributes(mode,
			attribute.String("status", string(job.Status))))
		if job.Summary != nil {
			for p, ps := range job.Summary.Platforms {
				attrs := metric.WithAttributes(attribute.String("platform", p))
				m.usersSynced.Add(ctx, int64(ps.UsersSynced), attrs)
				m.eventsSynced.Add(ctx, int64(ps.EventsSynced), attrs)
				m.deduped.Add(ctx, int64(ps.Deduped), attrs)
			}
		}
	}
	return nil
}
