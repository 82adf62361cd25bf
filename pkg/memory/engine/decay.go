package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/synaptiq/engram/pkg/memory/model"
)

// SweepReport summarizes one decay sweep.
type SweepReport struct {
	Scanned int `json:"scanned"`
	Evicted int `json:"evicted"`
	Demoted int `json:"demoted"`
}

// effectiveStrength is the stored strength decayed by the time elapsed since
// the record was last touched, halving once per half-life. Decay is computed
// on read; the sweep never writes decayed values back.
func effectiveStrength(rec model.MemoryRecord, now time.Time, halfLife time.Duration) float64 {
	if rec.Strength <= 0 {
		return 0
	}
	ref := rec.LastAccessedAt
	if ref.IsZero() {
		ref = rec.CreatedAt
	}
	if ref.IsZero() || halfLife <= 0 {
		return rec.Strength
	}
	age := now.Sub(ref)
	if age <= 0 {
		return rec.Strength
	}
	return rec.Strength * math.Pow(0.5, age.Seconds()/halfLife.Seconds())
}

// EffectiveStrength reports a record's current decayed strength under its
// tier's half-life.
func (m *Manager) EffectiveStrength(rec model.MemoryRecord) float64 {
	return effectiveStrength(rec, m.clock().UTC(), m.opts.tierPolicy(rec.Tier).HalfLife)
}

// Sweep scans every tier and applies the per-tier strength floors: faded
// short-term, working and long-term records are evicted, faded emotional
// records are demoted into the long-term tier. Records above their floor are
// left untouched.
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	if m.store == nil {
		return SweepReport{}, ErrNoStore
	}
	now := m.clock().UTC()

	var report SweepReport
	var evict []string
	var demote []model.MemoryRecord
	err := m.store.Iterate(ctx, func(rec model.MemoryRecord) bool {
		report.Scanned++
		policy := m.opts.tierPolicy(rec.Tier)
		if effectiveStrength(rec, now, policy.HalfLife) >= policy.StrengthFloor {
			return true
		}
		if rec.Tier == model.Emotional {
			demote = append(demote, rec)
		} else {
			evict = append(evict, rec.ID)
		}
		return true
	})
	if err != nil {
		return report, fmt.Errorf("sweep scan: %w", err)
	}

	if len(evict) > 0 {
		if err := m.store.Delete(ctx, evict...); err != nil {
			return report, fmt.Errorf("sweep evict: %w", err)
		}
		if m.index != nil {
			_ = m.index.Unlink(ctx, evict...)
		}
		report.Evicted = len(evict)
		m.metrics.IncEvicted(len(evict))
	}

	for _, rec := range demote {
		full, err := m.store.Get(ctx, rec.ID)
		if err != nil {
			continue
		}
		eff := effectiveStrength(full, now, m.opts.tierPolicy(model.Emotional).HalfLife)
		full.Tier = model.LongTerm
		// Re-seed the demoted record just above the long-term floor so one
		// more recall can still save it.
		full.Strength = clamp01(eff + m.opts.AccessBoost)
		full.LastAccessedAt = now
		if err := m.store.Upsert(ctx, full); err != nil {
			m.logf("demote %s: %v", rec.ID, err)
			continue
		}
		if m.index != nil {
			_ = m.index.Link(ctx, full)
		}
		report.Demoted++
	}
	if report.Demoted > 0 {
		m.metrics.IncDemoted(report.Demoted)
	}
	return report, nil
}

// StartSweeper runs the decay sweep and the boost flusher on their configured
// intervals until StopSweeper or the context ends. Starting twice is a no-op.
func (m *Manager) StartSweeper(ctx context.Context) {
	m.mu.Lock()
	if m.sweepStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.sweepStop = stop
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sweep := time.NewTicker(m.opts.SweepInterval)
		defer sweep.Stop()
		flush := time.NewTicker(m.opts.BoostFlushInterval)
		defer flush.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-sweep.C:
				if _, err := m.Sweep(ctx); err != nil {
					m.logf("sweep: %v", err)
				}
			case <-flush.C:
				m.FlushBoosts(ctx)
			}
		}
	}()
}

// StopSweeper signals the background loop to exit. Safe to call repeatedly.
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	if m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepStop = nil
	}
	m.mu.Unlock()
}
