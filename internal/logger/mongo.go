package logger

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/event"
)

// Commands that change the schema are logged at info; everything else the
// provisioner sends is debug noise unless it fails or runs slow.
var schemaCommands = map[string]bool{
	"create":        true,
	"createIndexes": true,
}

// Connection housekeeping is never logged.
var ignoredCommands = map[string]bool{
	"hello":        true,
	"isMaster":     true,
	"ping":         true,
	"endSessions":  true,
	"saslStart":    true,
	"saslContinue": true,
}

// MongoMonitor logs driver commands with the namespace they target. The
// finished events carry no command body, so the namespace seen at start is
// kept per request id until the command completes.
type MongoMonitor struct {
	SlowThreshold time.Duration
	MaxDetail     int

	mu       sync.Mutex
	inflight map[int64]string
}

func NewMongoMonitor() *event.CommandMonitor {
	m := &MongoMonitor{SlowThreshold: 2 * time.Second, MaxDetail: 1000}
	return m.CommandMonitor()
}

func (m *MongoMonitor) CommandMonitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started:   m.started,
		Succeeded: m.succeeded,
		Failed:    m.failed,
	}
}

func (m *MongoMonitor) started(ctx context.Context, evt *event.CommandStartedEvent) {
	if ignoredCommands[evt.CommandName] {
		return
	}
	ns := evt.DatabaseName
	if coll, ok := evt.Command.Lookup(evt.CommandName).StringValueOK(); ok {
		ns += "." + coll
	}

	m.mu.Lock()
	if m.inflight == nil {
		m.inflight = map[int64]string{}
	}
	m.inflight[evt.RequestID] = ns
	m.mu.Unlock()

	detail := evt.Command.String()
	if m.MaxDetail > 0 && len(detail) > m.MaxDetail {
		detail = detail[:m.MaxDetail] + "...[truncated]"
	}
	log.DebugContext(ctx, "MongoDB Started",
		log.String("command", evt.CommandName),
		log.String("namespace", ns),
		log.Int64("request_id", evt.RequestID),
		log.String("cmd_detail", detail),
	)
}

func (m *MongoMonitor) finish(requestID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.inflight[requestID]
	delete(m.inflight, requestID)
	return ns, ok
}

func (m *MongoMonitor) succeeded(ctx context.Context, evt *event.CommandSucceededEvent) {
	ns, ok := m.finish(evt.RequestID)
	if !ok {
		return
	}
	fields := []any{
		log.String("command", evt.CommandName),
		log.String("namespace", ns),
		log.Duration("latency", evt.Duration),
	}

	switch {
	case evt.Duration > m.SlowThreshold:
		log.WarnContext(ctx, "MongoDB Slow", fields...)
	case schemaCommands[evt.CommandName]:
		log.InfoContext(ctx, "MongoDB Schema Change", fields...)
	default:
		log.DebugContext(ctx, "MongoDB Success", fields...)
	}
}

func (m *MongoMonitor) failed(ctx context.Context, evt *event.CommandFailedEvent) {
	ns, ok := m.finish(evt.RequestID)
	if !ok && ignoredCommands[evt.CommandName] {
		return
	}
	if !ok {
		ns = evt.DatabaseName
	}
	log.ErrorContext(ctx, "MongoDB Error",
		log.String("command", evt.CommandName),
		log.String("namespace", ns),
		log.Duration("latency", evt.Duration),
		log.Any("err", evt.Failure),
	)
}
