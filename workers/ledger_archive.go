package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"

	"nextbb-automation/metrics"
	"nextbb-automation/services"
	"nextbb-automation/utils"
)

// LedgerArchiver exports each finished UTC day of ledger entries as JSON lines to object storage.
type LedgerArchiver struct {
	Ledger   *services.Ledger
	Uploader utils.ObjectUploader
	Interval time.Duration
	Prefix   string
	Clock    clockwork.Clock
}

func NewLedgerArchiver(ledger *services.Ledger, uploader utils.ObjectUploader, interval time.Duration, clock clockwork.Clock) *LedgerArchiver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &LedgerArchiver{
		Ledger:   ledger,
		Uploader: uploader,
		Interval: interval,
		Prefix:   defaultArchivePrefix,
		Clock:    clock,
	}
}

func (a *LedgerArchiver) Start(ctx context.Context) {
	log.Printf("🔁 Starting ledger archiver (every %s)…", a.Interval)
	go a.run(ctx)
}

func (a *LedgerArchiver) run(ctx context.Context) {
	a.archiveYesterday(ctx)

	ticker := a.Clock.NewTicker(a.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Archive] stopped")
			return
		case <-ticker.Chan():
			a.archiveYesterday(ctx)
		}
	}
}

func (a *LedgerArchiver) archiveYesterday(ctx context.Context) {
	day := a.Clock.Now().UTC().AddDate(0, 0, -1)
	key, n, err := a.ArchiveDay(ctx, day)
	if err != nil {
		metrics.ArchiveRuns.WithLabelValues("error").Inc()
		log.Printf("[Archive] ⚠️ %s: %v", key, err)
		return
	}
	metrics.ArchiveRuns.WithLabelValues("ok").Inc()
	log.Printf("[Archive] ✅ %s (%d entries)", key, n)
}

const defaultArchivePrefix = "credit-ledger"

// ObjectKey is the storage key of one UTC day, e.g. "credit-ledger/2025/03/01.jsonl".
// The prefix is slugged so an operator-supplied name is always a safe key segment.
func (a *LedgerArchiver) ObjectKey(day time.Time) string {
	day = day.UTC()
	prefix := slug.Make(a.Prefix)
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d.jsonl", prefix, day.Year(), day.Month(), day.Day())
}

// ArchiveDay uploads every entry created on day (UTC). Re-running a day overwrites the object.
// Days without entries are not uploaded.
func (a *LedgerArchiver) ArchiveDay(ctx context.Context, day time.Time) (string, int, error) {
	day = day.UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	key := a.ObjectKey(from)

	entries, err := a.Ledger.EntriesBetween(ctx, from, to)
	if err != nil {
		return key, 0, fmt.Errorf("load entries: %w", err)
	}
	if len(entries) == 0 {
		return key, 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return key, 0, fmt.Errorf("encode entry %d: %w", e.ID, err)
		}
	}
	if err := a.Uploader.Upload(ctx, key, "application/x-ndjson", buf.Bytes()); err != nil {
		return key, 0, err
	}
	return key, len(entries), nil
}
