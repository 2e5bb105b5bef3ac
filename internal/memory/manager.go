// Package memory implements the tiered conversation memory manager: a
// TTL-bounded hot buffer and scratch record in Redis, a durable archive in
// Postgres, a sliding-window eviction policy between the two, and a
// count-triggered compaction job that folds archived turns into a rolling
// session summary.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vieroc/vieroc-backend/internal/agents"
	"github.com/vieroc/vieroc-backend/internal/models"
	"github.com/vieroc/vieroc-backend/internal/repository"
)

// TurnBuffer is the hot append-only turn log for one conversation.
// Implemented by hotstore.Buffer.
type TurnBuffer interface {
	Append(ctx context.Context, turn models.Turn) error
	Range(ctx context.Context, start, stop int64) ([]models.Turn, error)
	Len(ctx context.Context) (int, error)
	TruncateToLast(ctx context.Context, n int) error
	RefreshTTL(ctx context.Context) error
}

// ScratchStore is the mutable per-conversation scratch record.
// Implemented by hotstore.Scratch.
type ScratchStore interface {
	Init(ctx context.Context) error
	SetField(ctx context.Context, field string, value interface{}) error
	IncrTokens(ctx context.Context, delta int) (int, error)
	GetAll(ctx context.Context) (models.ScratchContext, error)
	RefreshTTL(ctx context.Context) error
}

// Compactor runs the two compaction sub-steps over a batch of archived
// turns. Implemented by agents.CompactionSteps.
type Compactor interface {
	ExtractIdentity(ctx context.Context, turns []repository.Turn) agents.Result[agents.IdentityOutput]
	Summarize(ctx context.Context, turns []repository.Turn, oldSummary string) agents.Result[agents.SummaryOutput]
}

// Options tune the eviction and compaction thresholds.
type Options struct {
	// MaxBufferMessages is the soft bound on the hot buffer. Eviction is
	// checked once per ReceiveInput call, so the buffer may transiently
	// exceed it between calls.
	MaxBufferMessages int
	// CompactionWatermark is the durable turn count multiple at which
	// summarization fires; it is also the size of the durable tail kept
	// after compaction trims.
	CompactionWatermark int
}

// Manager owns the memory tiers for a single conversation. It is not safe
// for concurrent use; ManagerCache serializes access per conversation id.
type Manager struct {
	conversationID string
	userRef        uuid.UUID

	buffer    TurnBuffer
	scratch   ScratchStore
	turns     repository.TurnRepository
	sessions  repository.SessionRepository
	customers repository.CustomerRepository
	compactor Compactor

	opts   Options
	logger *logrus.Logger

	initOnce sync.Once
	// lastCompacted is the durable turn count at which compaction last
	// fired, reset to the watermark after a successful tail trim. It keeps
	// compaction idempotent while the count is unchanged.
	lastCompacted int
	// pendingEvicted counts the oldest buffer turns that are already
	// durably archived but whose truncation failed. The retry drops
	// exactly these turns instead of re-archiving them as duplicates.
	pendingEvicted int
}

// NewManager wires the memory tiers for one conversation. The store handles
// are explicit: the caller owns their lifecycle.
func NewManager(
	conversationID string,
	userRef uuid.UUID,
	buffer TurnBuffer,
	scratch ScratchStore,
	turns repository.TurnRepository,
	sessions repository.SessionRepository,
	customers repository.CustomerRepository,
	compactor Compactor,
	opts Options,
	logger *logrus.Logger,
) *Manager {
	if opts.MaxBufferMessages <= 0 {
		opts.MaxBufferMessages = 50
	}
	if opts.CompactionWatermark <= 0 {
		opts.CompactionWatermark = 50
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		conversationID: conversationID,
		userRef:        userRef,
		buffer:         buffer,
		scratch:        scratch,
		turns:          turns,
		sessions:       sessions,
		customers:      customers,
		compactor:      compactor,
		opts:           opts,
		logger:         logger,
	}
}

// ConversationID returns the conversation this manager serves
func (m *Manager) ConversationID() string {
	return m.conversationID
}

// UserRef returns the durable user reference for this conversation
func (m *Manager) UserRef() uuid.UUID {
	return m.userRef
}

// ReceiveInput records one turn. In order: append to the hot buffer
// (refreshing its TTL), refresh the scratch record, then run two independent
// checks — sliding-window eviction when the buffer exceeds its bound, and
// compaction when the durable turn count sits on a watermark multiple. Both
// may fire on the same call. No input is rejected: a missing intent or
// malformed tool payload is stored as-is, never treated as an error.
//
// The returned error reports an eviction durable-write failure; the turn
// itself has still been recorded in the hot buffer, and the eviction is
// retried on the next call.
func (m *Manager) ReceiveInput(ctx context.Context, turn models.Turn) error {
	if turn.Timestamp == 0 {
		turn.Timestamp = time.Now().Unix()
	}

	var initErr error
	m.initOnce.Do(func() {
		initErr = m.scratch.Init(ctx)
	})
	if initErr != nil {
		// Non-fatal: the turn can still be buffered; counters start cold.
		m.logger.WithError(initErr).WithField("conversation_id", m.conversationID).
			Warn("failed to initialize scratch context")
	}

	if err := m.buffer.Append(ctx, turn); err != nil {
		return fmt.Errorf("failed to buffer turn: %w", err)
	}

	if _, err := m.scratch.IncrTokens(ctx, turn.Metadata.Tokens); err != nil {
		m.logger.WithError(err).WithField("conversation_id", m.conversationID).
			Warn("failed to update token counter")
	}

	var evictErr error
	length, err := m.buffer.Len(ctx)
	if err != nil {
		evictErr = fmt.Errorf("failed to read buffer length: %w", err)
	} else if length > m.opts.MaxBufferMessages {
		evictErr = m.evict(ctx)
	}

	// Independent of the eviction outcome: compaction triggers purely on
	// the durable turn count.
	count, err := m.turns.Count(ctx, m.conversationID)
	if err != nil {
		m.logger.WithError(err).WithField("conversation_id", m.conversationID).
			Warn("failed to read durable turn count")
	} else if count > 0 && count%m.opts.CompactionWatermark == 0 && count != m.lastCompacted {
		m.lastCompacted = count
		if trimErr := m.compact(ctx); trimErr != nil {
			m.logger.WithError(trimErr).WithField("conversation_id", m.conversationID).
				Warn("failed to trim durable tail after compaction")
		} else {
			// The tail now holds exactly watermark turns; remember that so
			// the post-trim count does not re-trigger.
			m.lastCompacted = m.opts.CompactionWatermark
		}
	}

	return evictErr
}

// evict moves the oldest half of the hot buffer into the durable archive and
// truncates the buffer to the newest half. If the durable write fails the
// truncation does not run: the buffer is allowed to exceed its soft bound
// while the archive is unavailable, and the eviction retries on the next
// ReceiveInput call. If the durable write succeeds but the truncation fails,
// only the truncation is retried — the archived prefix is never written twice.
func (m *Manager) evict(ctx context.Context) error {
	all, err := m.buffer.Range(ctx, 0, -1)
	if err != nil {
		return fmt.Errorf("failed to read buffer for eviction: %w", err)
	}

	// Finish a half-done eviction first: its turns are already durable,
	// only the trim is outstanding.
	if m.pendingEvicted > 0 {
		pending := m.pendingEvicted
		if pending > len(all) {
			pending = len(all)
		}
		if err := m.buffer.TruncateToLast(ctx, len(all)-pending); err != nil {
			return fmt.Errorf("failed to truncate buffer after archiving: %w", err)
		}
		m.pendingEvicted = 0
		all = all[pending:]
	}

	keep := m.opts.MaxBufferMessages / 2
	if len(all) <= m.opts.MaxBufferMessages {
		return nil
	}
	evicted := all[:len(all)-keep]

	if err := m.ensureSession(ctx); err != nil {
		return fmt.Errorf("failed to ensure session before archiving: %w", err)
	}

	rows := make([]repository.Turn, 0, len(evicted))
	for _, turn := range evicted {
		rows = append(rows, archiveRow(turn))
	}
	if err := m.turns.Append(ctx, m.conversationID, rows); err != nil {
		return fmt.Errorf("failed to archive evicted turns: %w", err)
	}

	if err := m.buffer.TruncateToLast(ctx, keep); err != nil {
		// The eviction set is durably archived. Remember how many head
		// turns it covered so the retry drops them without a second write.
		m.pendingEvicted = len(evicted)
		return fmt.Errorf("failed to truncate buffer after archiving: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"conversation_id": m.conversationID,
		"archived":        len(evicted),
		"retained":        keep,
	}).Debug("evicted hot buffer window")

	return nil
}

// compact runs identity extraction and summarization concurrently over the
// newest watermark archived turns, merges their results into the customer
// and session records (best-effort), and trims the durable tail. Sub-step
// failures are isolated: one failing does not block the other, and neither
// undoes the eviction that raised the count. Only the tail-trim error is
// returned, so a failed trim can retry.
func (m *Manager) compact(ctx context.Context) error {
	batch, err := m.turns.ListLastN(ctx, m.conversationID, m.opts.CompactionWatermark)
	if err != nil {
		return fmt.Errorf("failed to load turns for compaction: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	if err := m.ensureSession(ctx); err != nil {
		return fmt.Errorf("failed to ensure session before compaction: %w", err)
	}

	oldSummary, err := m.Summary(ctx)
	if err != nil {
		m.logger.WithError(err).WithField("conversation_id", m.conversationID).
			Warn("failed to load existing summary, compacting without it")
		oldSummary = ""
	}

	var (
		wg         sync.WaitGroup
		identity   agents.Result[agents.IdentityOutput]
		summarized agents.Result[agents.SummaryOutput]
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		identity = m.compactor.ExtractIdentity(ctx, batch)
	}()
	go func() {
		defer wg.Done()
		summarized = m.compactor.Summarize(ctx, batch, oldSummary)
	}()
	wg.Wait()

	if !identity.Degraded && !identity.Output.Empty() {
		fields := repository.CustomerIdentity{
			Name:        identity.Output.Name,
			Phone:       identity.Output.Phone,
			Email:       identity.Output.Email,
			Preferences: identity.Output.Preferences,
		}
		if err := m.customers.UpsertIdentity(ctx, m.userRef, fields); err != nil {
			m.logger.WithError(err).WithField("conversation_id", m.conversationID).
				Warn("failed to merge extracted customer identity")
		}
	}

	// A degraded summary is a placeholder; merging it would clobber a real
	// summary from an earlier compaction.
	if summarized.Degraded {
		m.logger.WithFields(logrus.Fields{
			"conversation_id": m.conversationID,
			"reason":          summarized.Reason,
		}).Warn("summarization degraded, keeping previous summary")
	} else {
		merge := map[string]interface{}{
			"summary":    summarized.Output.Summary,
			"tags":       summarized.Output.Tags,
			"key_topics": summarized.Output.KeyTopics,
		}
		if err := m.sessions.UpdateMetadata(ctx, m.conversationID, merge); err != nil {
			m.logger.WithError(err).WithField("conversation_id", m.conversationID).
				Warn("failed to merge summary into session metadata")
		}
	}

	if err := m.turns.DeleteKeepingLastN(ctx, m.conversationID, m.opts.CompactionWatermark); err != nil {
		return fmt.Errorf("failed to trim archived turns: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"conversation_id": m.conversationID,
		"batch":           len(batch),
	}).Info("compacted conversation history")

	return nil
}

// RecentTurns returns up to n of the newest hot-buffer turns in
// chronological order.
func (m *Manager) RecentTurns(ctx context.Context, n int) ([]models.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	return m.buffer.Range(ctx, int64(-n), -1)
}

// ScratchSnapshot reads the whole scratch record
func (m *Manager) ScratchSnapshot(ctx context.Context) (models.ScratchContext, error) {
	return m.scratch.GetAll(ctx)
}

// SetScratchField writes a single scratch field, refreshing the TTL
func (m *Manager) SetScratchField(ctx context.Context, field string, value interface{}) error {
	return m.scratch.SetField(ctx, field, value)
}

// Summary returns the session's rolling summary, or "" when the session has
// no durable record yet.
func (m *Manager) Summary(ctx context.Context) (string, error) {
	session, err := m.sessions.Get(ctx, m.conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return "", nil
	}
	meta := decodeMetadata(session.Metadata)
	summary, _ := meta["summary"].(string)
	return summary, nil
}

// RecordHandoff persists the escalation reason and a structured trace onto
// the durable session record.
func (m *Manager) RecordHandoff(ctx context.Context, reason string, trace map[string]interface{}) error {
	if err := m.ensureSession(ctx); err != nil {
		return fmt.Errorf("failed to ensure session for handoff: %w", err)
	}
	if err := m.sessions.UpdateHandoff(ctx, m.conversationID, reason, trace); err != nil {
		return fmt.Errorf("failed to record handoff: %w", err)
	}
	return nil
}

// ensureSession lazily creates the durable session row before the first
// durable write for this conversation.
func (m *Manager) ensureSession(ctx context.Context) error {
	_, err := m.sessions.GetOrCreate(ctx, m.conversationID, m.userRef)
	return err
}

func archiveRow(turn models.Turn) repository.Turn {
	row := repository.Turn{
		Role:       turn.Role,
		Content:    turn.Content,
		TokenCount: turn.Metadata.Tokens,
		CreatedAt:  time.Unix(turn.Timestamp, 0),
	}
	if len(turn.Metadata.ToolCalls) > 0 {
		row.ToolCalls = sql.NullString{String: string(turn.Metadata.ToolCalls), Valid: true}
	}
	return row
}

func decodeMetadata(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return map[string]interface{}{}
	}
	return meta
}
