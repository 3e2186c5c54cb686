// Package maintenance implements the scheduled sweep that ages memory and
// association strengths, prunes expired and duplicate records, and archives
// idle sessions.
//
// Every sweep is idempotent and bounded: work proceeds owner by owner in
// pages, a single record's failure is logged and skipped, and re-running a
// sweep after a no-op interval changes nothing.
package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/synaptek/memoria/pkg/memory"
	"github.com/synaptek/memoria/pkg/similarity"
	"github.com/synaptek/memoria/pkg/storage"
)

// Config tunes decay rates and retention windows.
type Config struct {
	// AssociationDecayRate is the strength lost per day without
	// reinforcement. Default: 0.01.
	AssociationDecayRate float64

	// LongTermDecayRate is the long-term strength lost per day. Decays
	// independently of association decay. Default: 0.005.
	LongTermDecayRate float64

	// StrengthFloor is the long-term strength below which entries are
	// flagged weak. Flagged entries are never deleted by the sweep itself;
	// RemoveWeak is the explicit bulk removal. Default: 0.2.
	StrengthFloor float64

	// SessionRetention is how long a session may stay untouched before it
	// is archived. Default: 30 days.
	SessionRetention time.Duration

	// PageSize bounds every sweep query. Default: 200.
	PageSize int

	// Interval is the schedule for Run. Default: 24h.
	Interval time.Duration
}

func (c *Config) applyDefaults() {
	if c.AssociationDecayRate == 0 {
		c.AssociationDecayRate = 0.01
	}
	if c.LongTermDecayRate == 0 {
		c.LongTermDecayRate = 0.005
	}
	if c.StrengthFloor == 0 {
		c.StrengthFloor = 0.2
	}
	if c.SessionRetention == 0 {
		c.SessionRetention = 30 * 24 * time.Hour
	}
	if c.PageSize == 0 {
		c.PageSize = 200
	}
	if c.Interval == 0 {
		c.Interval = 24 * time.Hour
	}
}

// SweepResult reports what one sweep changed.
type SweepResult struct {
	AssociationsDecayed int
	AssociationsRemoved int
	OrphansRemoved      int
	MemoriesDecayed     int
	MemoriesFlagged     int
	DuplicatesRemoved   int
	ExpiredRemoved      int
	SessionsArchived    int
}

// Engine runs the decay and maintenance sweeps.
type Engine struct {
	shortTerm    storage.ShortTermStore
	longTerm     storage.LongTermStore
	associations storage.AssociationStore
	sessions     storage.SessionStore
	cfg          Config
	now          func() time.Time
	logger       *zap.Logger
}

// NewEngine creates a maintenance engine. The clock defaults to time.Now
// and the logger to a no-op logger when nil.
func NewEngine(shortTerm storage.ShortTermStore, longTerm storage.LongTermStore,
	associations storage.AssociationStore, sessions storage.SessionStore,
	cfg Config, now func() time.Time, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		shortTerm:    shortTerm,
		longTerm:     longTerm,
		associations: associations,
		sessions:     sessions,
		cfg:          cfg,
		now:          now,
		logger:       logger,
	}
}

// Run executes the full maintenance cycle on the configured interval until
// ctx is cancelled. One cycle is: expired cleanup, decay sweep, idle-session
// archival.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := e.Cycle(ctx)
			e.logger.Info("maintenance cycle complete",
				zap.Int("expired_removed", result.ExpiredRemoved),
				zap.Int("associations_removed", result.AssociationsRemoved),
				zap.Int("memories_flagged", result.MemoriesFlagged),
				zap.Int("duplicates_removed", result.DuplicatesRemoved),
				zap.Int("sessions_archived", result.SessionsArchived))
		}
	}
}

// Cycle runs one full maintenance pass. Errors are logged per step; a
// failing step never stops the rest of the cycle.
func (e *Engine) Cycle(ctx context.Context) *SweepResult {
	expired, err := e.shortTerm.DeleteExpiredShortTerm(ctx, e.now().UTC())
	if err != nil {
		e.logger.Warn("expired cleanup failed", zap.Error(err))
	}

	result, err := e.DecaySweep(ctx)
	if err != nil {
		e.logger.Warn("decay sweep failed", zap.Error(err))
	}
	result.ExpiredRemoved = expired

	archived, err := e.ArchiveIdleSessions(ctx)
	if err != nil {
		e.logger.Warn("session archival failed", zap.Error(err))
	}
	result.SessionsArchived = archived

	return result
}

// DecaySweep ages association and long-term strengths for every owner,
// removes associations below the minimum, flags weak long-term entries,
// deletes duplicate short-term records, and prunes orphaned edges.
func (e *Engine) DecaySweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	if err := e.forEachOwner(ctx, e.longTerm.ListLongTermOwners, func(owner string) {
		e.sweepOwner(ctx, owner, result)
	}); err != nil {
		return result, memory.NewEngineError("DecaySweep", err)
	}

	if err := e.forEachOwner(ctx, e.shortTerm.ListShortTermOwners, func(owner string) {
		removed, err := e.RemoveDuplicateShortTerm(ctx, owner)
		if err != nil {
			e.logger.Warn("duplicate removal failed",
				zap.String("owner", owner), zap.Error(err))
			return
		}
		result.DuplicatesRemoved += removed
	}); err != nil {
		return result, memory.NewEngineError("DecaySweep", err)
	}

	return result, nil
}

// sweepOwner ages one owner's associations and long-term entries.
func (e *Engine) sweepOwner(ctx context.Context, owner string, result *SweepResult) {
	now := e.now().UTC()

	orphans, err := e.associations.DeleteOrphanAssociations(ctx, owner)
	if err != nil {
		e.logger.Warn("orphan cleanup failed", zap.String("owner", owner), zap.Error(err))
	}
	result.OrphansRemoved += orphans

	for offset := 0; ; offset += e.cfg.PageSize {
		assocs, err := e.associations.ListAssociations(ctx, owner, e.cfg.PageSize, offset)
		if err != nil {
			e.logger.Warn("association page failed", zap.String("owner", owner), zap.Error(err))
			break
		}
		for _, assoc := range assocs {
			e.decayAssociation(ctx, assoc, now, result)
		}
		if len(assocs) < e.cfg.PageSize {
			break
		}
	}

	for offset := 0; ; offset += e.cfg.PageSize {
		entries, err := e.longTerm.ListLongTerm(ctx, &storage.LongTermQuery{
			OwnerID: owner,
			Limit:   e.cfg.PageSize,
			Offset:  offset,
		})
		if err != nil {
			e.logger.Warn("long-term page failed", zap.String("owner", owner), zap.Error(err))
			break
		}
		for _, entry := range entries {
			e.decayLongTerm(ctx, entry, now, result)
		}
		if len(entries) < e.cfg.PageSize {
			break
		}
	}
}

// decayAssociation applies strength' = max(0, strength - rate*days), where
// days is measured from the decay watermark. Zero elapsed time means zero
// change, which makes immediate re-runs no-ops.
func (e *Engine) decayAssociation(ctx context.Context, assoc *memory.MemoryAssociation, now time.Time, result *SweepResult) {
	since := assoc.LastDecayedAt
	if assoc.LastReinforcedAt.After(since) {
		since = assoc.LastReinforcedAt
	}
	days := now.Sub(since).Hours() / 24.0
	if days <= 0 {
		return
	}

	strength := assoc.Strength - e.cfg.AssociationDecayRate*days
	if strength < 0 {
		strength = 0
	}

	if strength < memory.MinAssociationStrength {
		if err := e.associations.DeleteAssociation(ctx, assoc.ID); err != nil {
			e.logger.Warn("association delete failed", zap.Int64("id", assoc.ID), zap.Error(err))
			return
		}
		result.AssociationsRemoved++
		return
	}

	if err := e.associations.UpdateAssociationDecay(ctx, assoc.ID, strength, now); err != nil {
		e.logger.Warn("association decay failed", zap.Int64("id", assoc.ID), zap.Error(err))
		return
	}
	result.AssociationsDecayed++
}

// decayLongTerm ages one long-term entry from its last update time. Entries
// falling below the floor are flagged weak, never deleted here.
func (e *Engine) decayLongTerm(ctx context.Context, entry *memory.LongTermMemory, now time.Time, result *SweepResult) {
	days := now.Sub(entry.UpdatedAt).Hours() / 24.0
	if days <= 0 {
		return
	}

	strength := entry.Strength - e.cfg.LongTermDecayRate*days
	if strength < 0 {
		strength = 0
	}
	weak := strength < e.cfg.StrengthFloor

	if err := e.longTerm.UpdateLongTermStrength(ctx, entry.ID, strength, weak); err != nil {
		e.logger.Warn("long-term decay failed", zap.Int64("id", entry.ID), zap.Error(err))
		return
	}
	result.MemoriesDecayed++
	if weak && !entry.Weak {
		result.MemoriesFlagged++
	}
}

// RemoveDuplicateShortTerm deletes duplicate short-term records for one
// owner: entries sharing (type, content hash) keep only the newest. The
// hash is the cheap non-cryptographic pre-filter; a collision merely
// deletes an extra near-duplicate, which the store can tolerate.
func (e *Engine) RemoveDuplicateShortTerm(ctx context.Context, owner string) (int, error) {
	entries, err := e.shortTerm.ListShortTerm(ctx, &storage.ShortTermQuery{
		OwnerID: owner,
		Limit:   e.cfg.PageSize,
	})
	if err != nil {
		return 0, err
	}

	type key struct {
		t memory.MemoryType
		h uint64
	}
	seen := make(map[key]struct{})
	var doomed []int64
	// ListShortTerm returns newest first, so the first entry per key wins.
	for _, entry := range entries {
		k := key{t: entry.Type, h: similarity.ContentHash(entry.Content)}
		if _, dup := seen[k]; dup {
			doomed = append(doomed, entry.ID)
			continue
		}
		seen[k] = struct{}{}
	}

	if len(doomed) == 0 {
		return 0, nil
	}
	if err := e.shortTerm.DeleteShortTerm(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// ArchiveIdleSessions transitions sessions untouched past the retention
// window into the terminal archived state. Idempotent: archived sessions do
// not reappear in the idle listing.
func (e *Engine) ArchiveIdleSessions(ctx context.Context) (int, error) {
	cutoff := e.now().UTC().Add(-e.cfg.SessionRetention)
	idle, err := e.sessions.ListIdleSessions(ctx, cutoff, e.cfg.PageSize)
	if err != nil {
		return 0, memory.NewEngineError("ArchiveIdleSessions", err)
	}

	archived := 0
	for _, sess := range idle {
		if err := e.sessions.ArchiveSession(ctx, sess.OwnerID, sess.SessionID); err != nil {
			e.logger.Warn("archive failed",
				zap.String("owner", sess.OwnerID),
				zap.String("session", sess.SessionID),
				zap.Error(err))
			continue
		}
		archived++
	}
	return archived, nil
}

// RemoveWeak bulk-removes the owner's weak-flagged long-term entries. This
// is the only deletion path for decayed knowledge.
func (e *Engine) RemoveWeak(ctx context.Context, owner string) (int, error) {
	n, err := e.longTerm.DeleteWeakLongTerm(ctx, owner)
	if err != nil {
		return 0, memory.NewEngineError("RemoveWeakMemories", err)
	}
	return n, nil
}

func (e *Engine) forEachOwner(ctx context.Context, list func(context.Context, int, int) ([]string, error), fn func(string)) error {
	for offset := 0; ; offset += e.cfg.PageSize {
		owners, err := list(ctx, e.cfg.PageSize, offset)
		if err != nil {
			return err
		}
		for _, owner := range owners {
			fn(owner)
		}
		if len(owners) < e.cfg.PageSize {
			return nil
		}
	}
}
