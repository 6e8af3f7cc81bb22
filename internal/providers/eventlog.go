package providers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pasarela/internal/infra"
	"pasarela/internal/models/db_models"
)

// secret-ish keys stripped from logged bodies
var sanitizedKeys = map[string]struct{}{
	"api_key":            {},
	"client_secret":      {},
	"authorization":      {},
	"tbk_api_key_secret": {},
}

// CallEvent describes one outbound PSP call for the event log.
type CallEvent struct {
	Provider     db_models.ProviderName
	Operation    string
	Token        string
	RequestURL   string
	RequestBody  map[string]any
	ResponseBody map[string]any
	Status       *int
	Err          error
	Latency      time.Duration
}

// EventStore is the persistence slice the sink needs. Failures here must
// never fail the business operation.
type EventStore interface {
	RecordProviderEvent(ctx context.Context, event *db_models.ProviderEventLog, token string) error
}

// EventSink receives a CallEvent for every adapter call that touched the
// network, success or failure.
type EventSink interface {
	Record(ctx context.Context, ev CallEvent)
}

type eventSink struct {
	store   EventStore
	metrics *infra.Metrics
	logger  *zap.Logger
	persist bool
}

// NewEventSink builds the sink shared by all adapters. Latency metrics are
// always observed; row persistence follows the event-log flag.
func NewEventSink(store EventStore, metrics *infra.Metrics, logger *zap.Logger, persist bool) EventSink {
	return &eventSink{store: store, metrics: metrics, logger: logger, persist: persist}
}

func (s *eventSink) Record(ctx context.Context, ev CallEvent) {
	outcome := "ok"
	if ev.Err != nil {
		outcome = "error"
	}
	s.metrics.ProviderRequestDuration.
		WithLabelValues(string(ev.Provider), ev.Operation, outcome).
		Observe(ev.Latency.Seconds())

	if !s.persist {
		return
	}

	row := &db_models.ProviderEventLog{
		Provider:       ev.Provider,
		Operation:      ev.Operation,
		Direction:      "outbound",
		RequestURL:     ev.RequestURL,
		RequestBody:    toJSON(sanitize(ev.RequestBody)),
		ResponseBody:   toJSON(sanitize(ev.ResponseBody)),
		ResponseStatus: ev.Status,
		LatencyMs:      ev.Latency.Milliseconds(),
	}
	if ev.Err != nil {
		row.ErrorMessage = ev.Err.Error()
	}
	if err := s.store.RecordProviderEvent(ctx, row, ev.Token); err != nil {
		s.logger.Warn("provider event log write failed",
			zap.String("provider", string(ev.Provider)),
			zap.String("operation", ev.Operation),
			zap.Error(err),
		)
	}
}

func sanitize(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		if _, hidden := sanitizedKeys[k]; hidden {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}

func toJSON(v map[string]any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON([]byte("{}"))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}
