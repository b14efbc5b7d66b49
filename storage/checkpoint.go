package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/telemetry"
)

// Status is the outcome recorded on an artifact.
type Status string

const (
	StatusOK           Status = "ok"
	StatusFallbackUsed Status = "fallback_used"
	StatusError        Status = "error"
)

// Artifact is one append-only record: a stage's output, or a
// progress/error record filed under the same stage name.
type Artifact struct {
	Stage          string          `json:"stage"`
	Category       string          `json:"category"`
	SessionID      string          `json:"session_id"`
	SequenceNumber int64           `json:"sequence"`
	Timestamp      time.Time       `json:"timestamp"`
	Status         Status          `json:"status"`
	Payload        json.RawMessage `json:"payload"`
}

// ArtifactDescriptor is the lightweight listing form of an Artifact.
type ArtifactDescriptor struct {
	Stage          string
	Category       string
	SequenceNumber int64
	Timestamp      time.Time
	Status         Status
}

// SessionSummary describes one session for ListSessions.
type SessionSummary struct {
	SessionID     string
	ArtifactCount int
	LastWrite     time.Time
}

// CheckpointStore is the append-only artifact log, adapted from this
// codebase's orchestration/execution_store.go ExecutionStore: the same
// storage-agnostic Provider abstraction, the same
// sorted-index-by-timestamp pattern for listing, generalized from a
// single debug-record-per-request shape to many artifacts per session.
type CheckpointStore struct {
	backend Provider

	mu  sync.Mutex
	seq map[string]int64 // sessionID -> last sequence number assigned, cached
}

// NewCheckpointStore wraps a storage Provider (filesystem by default,
// Redis as the alternate backend).
func NewCheckpointStore(backend Provider) *CheckpointStore {
	return &CheckpointStore{backend: backend, seq: make(map[string]int64)}
}

func artifactKey(sessionID, category string, seq int64, stage string) string {
	return fmt.Sprintf("%s/%s/%06d_%s.json", category, sessionID, seq, stage)
}

func stageIndexName(sessionID string) string {
	return "stage:" + sessionID
}

// Append durably writes an artifact and returns only once the write is
// visible to subsequent reads. Never silently drops data: any I/O
// failure is wrapped as a KindStorage error, which the scheduler treats
// as fatal for the session.
func (c *CheckpointStore) Append(ctx context.Context, sessionID, stage, category string, status Status, payload interface{}) (*Artifact, error) {
	start := time.Now()
	defer func() {
		telemetry.Histogram("checkpoint.append.duration_ms", float64(time.Since(start).Milliseconds()), "category", category)
	}()

	raw, err := json.Marshal(payload)
	if err != nil {
		telemetry.Counter("checkpoint.appends", "category", category, "status", "error")
		return nil, errs.New("checkpoint.Append", errs.KindStorage, sessionID, fmt.Errorf("marshal payload: %w", err))
	}

	c.mu.Lock()
	last, cached := c.seq[sessionID]
	if !cached {
		// First append for this session in this process: continue after
		// the highest sequence number already persisted.
		if keys, err := c.backend.ListByScoreDesc(ctx, stageIndexName(sessionID), 1); err == nil && len(keys) == 1 {
			if doc, ok, err := c.backend.Get(ctx, keys[0]); err == nil && ok {
				var prev Artifact
				if json.Unmarshal([]byte(doc), &prev) == nil {
					last = prev.SequenceNumber
				}
			}
		}
	}
	seq := last + 1
	c.seq[sessionID] = seq
	c.mu.Unlock()

	art := &Artifact{
		Stage:          stage,
		Category:       category,
		SessionID:      sessionID,
		SequenceNumber: seq,
		Timestamp:      time.Now(),
		Status:         status,
		Payload:        raw,
	}

	doc, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return nil, errs.New("checkpoint.Append", errs.KindStorage, sessionID, fmt.Errorf("marshal artifact: %w", err))
	}

	key := artifactKey(sessionID, category, seq, stage)
	if err := c.backend.Set(ctx, key, string(doc)); err != nil {
		return nil, errs.New("checkpoint.Append", errs.KindStorage, sessionID, err)
	}

	// latest-write-wins pointer per stage name
	latestKey := fmt.Sprintf("_latest/%s/%s.json", sessionID, stage)
	if err := c.backend.Set(ctx, latestKey, key); err != nil {
		return nil, errs.New("checkpoint.Append", errs.KindStorage, sessionID, err)
	}

	if err := c.backend.AddToIndex(ctx, stageIndexName(sessionID), key, float64(seq)); err != nil {
		return nil, errs.New("checkpoint.Append", errs.KindStorage, sessionID, err)
	}
	if err := c.backend.AddToIndex(ctx, "sessions", sessionID, float64(art.Timestamp.Unix())); err != nil {
		return nil, errs.New("checkpoint.Append", errs.KindStorage, sessionID, err)
	}

	telemetry.Counter("checkpoint.appends", "category", category, "status", "ok")
	return art, nil
}

// ListArtifacts returns every artifact for a session, ordered by
// sequence_number.
func (c *CheckpointStore) ListArtifacts(ctx context.Context, sessionID string) ([]ArtifactDescriptor, error) {
	keys, err := c.backend.ListByScoreDesc(ctx, stageIndexName(sessionID), 0)
	if err != nil {
		return nil, errs.New("checkpoint.ListArtifacts", errs.KindStorage, sessionID, err)
	}

	descs := make([]ArtifactDescriptor, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := c.backend.Get(ctx, key)
		if err != nil {
			return nil, errs.New("checkpoint.ListArtifacts", errs.KindStorage, sessionID, err)
		}
		if !ok {
			continue
		}
		var art Artifact
		if err := json.Unmarshal([]byte(raw), &art); err != nil {
			return nil, errs.New("checkpoint.ListArtifacts", errs.KindStorage, sessionID, fmt.Errorf("unmarshal %q: %w", key, err))
		}
		descs = append(descs, ArtifactDescriptor{
			Stage:          art.Stage,
			Category:       art.Category,
			SequenceNumber: art.SequenceNumber,
			Timestamp:      art.Timestamp,
			Status:         art.Status,
		})
	}

	sort.Slice(descs, func(i, j int) bool { return descs[i].SequenceNumber < descs[j].SequenceNumber })
	return descs, nil
}

// LoadArtifact returns the most recent payload for a stage, or nil if
// the stage has never been written.
func (c *CheckpointStore) LoadArtifact(ctx context.Context, sessionID, stage string) (*Artifact, error) {
	latestKey := fmt.Sprintf("_latest/%s/%s.json", sessionID, stage)
	key, ok, err := c.backend.Get(ctx, latestKey)
	if err != nil {
		return nil, errs.New("checkpoint.LoadArtifact", errs.KindStorage, sessionID, err)
	}
	if !ok {
		return nil, nil
	}

	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, errs.New("checkpoint.LoadArtifact", errs.KindStorage, sessionID, err)
	}
	if !ok {
		return nil, nil
	}

	var art Artifact
	if err := json.Unmarshal([]byte(raw), &art); err != nil {
		return nil, errs.New("checkpoint.LoadArtifact", errs.KindStorage, sessionID, fmt.Errorf("unmarshal %q: %w", key, err))
	}
	return &art, nil
}

// ListSessions returns every session that has at least one artifact.
func (c *CheckpointStore) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	ids, err := c.backend.ListByScoreDesc(ctx, "sessions", 0)
	if err != nil {
		return nil, errs.New("checkpoint.ListSessions", errs.KindStorage, "", err)
	}

	out := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		descs, err := c.ListArtifacts(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(descs) == 0 {
			continue
		}
		out = append(out, SessionSummary{
			SessionID:     id,
			ArtifactCount: len(descs),
			LastWrite:     descs[len(descs)-1].Timestamp,
		})
	}
	return out, nil
}

// Delete removes a session and every one of its artifacts.
func (c *CheckpointStore) Delete(ctx context.Context, sessionID string) error {
	descs, err := c.ListArtifacts(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, d := range descs {
		key := artifactKey(sessionID, d.Category, d.SequenceNumber, d.Stage)
		if err := c.backend.Del(ctx, key); err != nil {
			return errs.New("checkpoint.Delete", errs.KindStorage, sessionID, err)
		}
		if err := c.backend.RemoveFromIndex(ctx, stageIndexName(sessionID), key); err != nil {
			return errs.New("checkpoint.Delete", errs.KindStorage, sessionID, err)
		}
	}
	if err := c.backend.RemoveFromIndex(ctx, "sessions", sessionID); err != nil {
		return errs.New("checkpoint.Delete", errs.KindStorage, sessionID, err)
	}

	c.mu.Lock()
	delete(c.seq, sessionID)
	c.mu.Unlock()
	return nil
}

// DeleteOlderThan removes every session whose last write precedes
// time.Now().Add(-d).
func (c *CheckpointStore) DeleteOlderThan(ctx context.Context, d time.Duration) error {
	summaries, err := c.ListSessions(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-d)
	for _, s := range summaries {
		if s.LastWrite.Before(cutoff) {
			if err := c.Delete(ctx, s.SessionID); err != nil {
				return err
			}
		}
	}
	return nil
}
