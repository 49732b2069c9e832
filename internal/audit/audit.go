// Package audit is an async, buffered writer for convergence audit
// records. It implements convergence.AuditLogger and deliberately never
// accepts a policy or webhook id: the original's _do_convergence_audit_log
// explicitly redacts both from the audit record even though the
// triggering request context carries them, and this package enforces
// that redaction at the type level rather than by convention.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one convergence audit record. It never carries a policy or
// webhook id, per §4.H step 5's redaction requirement.
type Event struct {
	TenantID string
	GroupID  string
	Kind     string // "convergence.scale_up" | "convergence.scale_down" | "convergence.no_change"
	Delta    int
	Capacity int
	At       time.Time
}

// Writer is an async, buffered audit log writer: entries are enqueued and
// flushed by a background goroutine, matching the host's own audit.Writer
// shape (channel + periodic batch flush).
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Event
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing events.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Event, bufferSize),
	}
}

// Start launches the background flush loop in a goroutine and returns
// immediately. The loop exits once ctx is cancelled or Close is called;
// Close waits for it.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// LogConvergence implements convergence.AuditLogger. The signature
// deliberately has no policy/webhook id parameter at all.
func (w *Writer) LogConvergence(tenantID, groupID string, delta, capacity int) {
	kind := "convergence.no_change"
	switch {
	case delta > 0:
		kind = "convergence.scale_up"
	case delta < 0:
		kind = "convergence.scale_down"
	}

	event := Event{
		TenantID: tenantID,
		GroupID:  groupID,
		Kind:     kind,
		Delta:    delta,
		Capacity: capacity,
		At:       time.Now().UTC(),
	}

	select {
	case w.entries <- event:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"tenant_id", tenantID, "group_id", groupID, "kind", kind)
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case event, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(events []Event) {
	if w.pool == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range events {
		query := `INSERT INTO convergence_audit_log (tenant_id, group_id, kind, delta, capacity, at)
			VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err := w.pool.Exec(ctx, query, e.TenantID, e.GroupID, e.Kind, e.Delta, e.Capacity, e.At); err != nil {
			w.logger.Error("writing convergence audit entry", "error", err,
				"tenant_id", e.TenantID, "group_id", e.GroupID, "kind", e.Kind)
		}
	}
}
