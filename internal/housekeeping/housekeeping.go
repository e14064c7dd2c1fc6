// Package housekeeping runs the background maintenance jobs of the
// projection-worker role, the only role that starts it: pruning the
// projection dedupe ledger and flagging decoders that have gone quiet. It owns the same singleton-scheduler shape the
// donor's taskManager package uses.
package housekeeping

import (
	"time"

	"github.com/bmxtiming/p3server/internal/config"
	"github.com/bmxtiming/p3server/pkg/plog"
	"github.com/go-co-op/gocron/v2"
	"github.com/jmoiron/sqlx"
)

var s gocron.Scheduler

// Start creates the scheduler and registers the dedupe-prune and
// stale-decoder jobs against db, then starts running them. Call Shutdown to
// stop it.
func Start(db *sqlx.DB) {
	var err error
	s, err = gocron.NewScheduler()
	if err != nil {
		plog.Fatalf("housekeeping: could not create gocron scheduler: %v", err)
	}

	registerDedupePruneJob(db)
	registerStaleDecoderSweepJob(db)

	s.Start()
}

// Shutdown stops the scheduler, waiting for any in-flight job to finish.
func Shutdown() {
	if s == nil {
		return
	}
	if err := s.Shutdown(); err != nil {
		plog.Warnf("housekeeping: scheduler shutdown: %v", err)
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		plog.Warnf("housekeeping: could not parse duration %q, using default %s: %v", raw, fallback, err)
		return fallback
	}
	return d
}

// registerDedupePruneJob deletes projection_dedupe rows older than
// config.Keys.DedupeRetention once a day. The ledger only exists to catch
// JetStream redeliveries within the stream's own dedupe window, so rows
// older than that window serve no purpose.
func registerDedupePruneJob(db *sqlx.DB) {
	retention := parseDuration(config.Keys.DedupeRetention, 30*24*time.Hour)

	if _, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 30, 0))),
		gocron.NewTask(func() {
			pruneDedupeLedger(db, retention)
		}),
	); err != nil {
		plog.Errorf("housekeeping: could not register dedupe prune job: %v", err)
	}
}

func pruneDedupeLedger(db *sqlx.DB, retention time.Duration) {
	cutoff := time.Now().UTC().Add(-retention).Format("2006-01-02 15:04:05")
	result, err := db.Exec("DELETE FROM projection_dedupe WHERE applied_at < ?", cutoff)
	if err != nil {
		plog.Errorf("housekeeping: prune projection_dedupe: %v", err)
		return
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		plog.Infof("housekeeping: pruned %d stale projection_dedupe rows", rows)
	}
}

// registerStaleDecoderSweepJob periodically logs a warning for every decoder
// that has not reported a STATUS message within
// config.Keys.StaleDecoderInterval, so a track operator's logs surface a
// dead decoder even without the dashboard open.
func registerStaleDecoderSweepJob(db *sqlx.DB) {
	interval := parseDuration(config.Keys.StaleDecoderInterval, 5*time.Minute)

	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			sweepStaleDecoders(db, interval)
		}),
	); err != nil {
		plog.Errorf("housekeeping: could not register stale decoder sweep job: %v", err)
	}
}

func sweepStaleDecoders(db *sqlx.DB, staleAfter time.Duration) {
	cutoff := time.Now().UTC().Add(-staleAfter).Format("2006-01-02 15:04:05")

	var staleIDs []string
	if err := db.Select(&staleIDs, "SELECT decoder_id FROM decoder_status WHERE last_seen < ?", cutoff); err != nil {
		plog.Errorf("housekeeping: sweep stale decoders: %v", err)
		return
	}

	for _, id := range staleIDs {
		plog.Warnf("housekeeping: decoder %s has not reported status in over %s", id, staleAfter)
	}
}
