package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vieroc/vieroc-backend/internal/agents"
	"github.com/vieroc/vieroc-backend/internal/models"
	"github.com/vieroc/vieroc-backend/internal/repository"
)

type fakeBuffer struct {
	turns    []models.Turn
	truncErr error
}

func (b *fakeBuffer) Append(_ context.Context, turn models.Turn) error {
	b.turns = append(b.turns, turn)
	return nil
}

func (b *fakeBuffer) Range(_ context.Context, start, stop int64) ([]models.Turn, error) {
	n := int64(len(b.turns))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	out := make([]models.Turn, stop-start+1)
	copy(out, b.turns[start:stop+1])
	return out, nil
}

func (b *fakeBuffer) Len(_ context.Context) (int, error) {
	return len(b.turns), nil
}

func (b *fakeBuffer) TruncateToLast(_ context.Context, n int) error {
	if b.truncErr != nil {
		return b.truncErr
	}
	if len(b.turns) > n {
		b.turns = append([]models.Turn(nil), b.turns[len(b.turns)-n:]...)
	}
	return nil
}

func (b *fakeBuffer) RefreshTTL(_ context.Context) error { return nil }

type fakeScratch struct {
	fields map[string]interface{}
	tokens int
}

func (s *fakeScratch) Init(_ context.Context) error {
	if s.fields == nil {
		s.fields = map[string]interface{}{}
	}
	return nil
}

func (s *fakeScratch) SetField(_ context.Context, field string, value interface{}) error {
	if s.fields == nil {
		s.fields = map[string]interface{}{}
	}
	s.fields[field] = value
	return nil
}

func (s *fakeScratch) IncrTokens(_ context.Context, delta int) (int, error) {
	s.tokens += delta
	return s.tokens, nil
}

func (s *fakeScratch) GetAll(_ context.Context) (models.ScratchContext, error) {
	return models.ScratchContext{TotalTokens: s.tokens}, nil
}

func (s *fakeScratch) RefreshTTL(_ context.Context) error { return nil }

type fakeTurnRepo struct {
	rows      []repository.Turn
	appendErr error
	trimErr   error
}

func (r *fakeTurnRepo) Append(_ context.Context, sessionID string, turns []repository.Turn) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	for _, t := range turns {
		t.SessionID = sessionID
		r.rows = append(r.rows, t)
	}
	return nil
}

func (r *fakeTurnRepo) Count(_ context.Context, _ string) (int, error) {
	return len(r.rows), nil
}

func (r *fakeTurnRepo) ListLastN(_ context.Context, _ string, n int) ([]repository.Turn, error) {
	if len(r.rows) <= n {
		return append([]repository.Turn(nil), r.rows...), nil
	}
	return append([]repository.Turn(nil), r.rows[len(r.rows)-n:]...), nil
}

func (r *fakeTurnRepo) DeleteKeepingLastN(_ context.Context, _ string, n int) error {
	if r.trimErr != nil {
		return r.trimErr
	}
	if len(r.rows) > n {
		r.rows = append([]repository.Turn(nil), r.rows[len(r.rows)-n:]...)
	}
	return nil
}

type fakeSessionRepo struct {
	sessions map[string]*repository.Session
	handoffs map[string]string
}

func (r *fakeSessionRepo) Get(_ context.Context, id string) (*repository.Session, error) {
	if r.sessions == nil {
		return nil, nil
	}
	return r.sessions[id], nil
}

func (r *fakeSessionRepo) GetOrCreate(_ context.Context, id string, userRef uuid.UUID) (*repository.Session, error) {
	if r.sessions == nil {
		r.sessions = map[string]*repository.Session{}
	}
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	s := &repository.Session{ID: id, UserID: userRef, Metadata: []byte(`{}`)}
	r.sessions[id] = s
	return s, nil
}

func (r *fakeSessionRepo) UpdateMetadata(_ context.Context, id string, merge map[string]interface{}) error {
	s, ok := r.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	meta := map[string]interface{}{}
	_ = json.Unmarshal(s.Metadata, &meta)
	for k, v := range merge {
		meta[k] = v
	}
	raw, _ := json.Marshal(meta)
	s.Metadata = raw
	return nil
}

func (r *fakeSessionRepo) UpdateHandoff(_ context.Context, id string, reason string, merge map[string]interface{}) error {
	if r.handoffs == nil {
		r.handoffs = map[string]string{}
	}
	r.handoffs[id] = reason
	if merge != nil {
		return r.UpdateMetadata(context.Background(), id, merge)
	}
	return nil
}

func (r *fakeSessionRepo) summary(id string) string {
	s, ok := r.sessions[id]
	if !ok {
		return ""
	}
	meta := map[string]interface{}{}
	_ = json.Unmarshal(s.Metadata, &meta)
	summary, _ := meta["summary"].(string)
	return summary
}

type fakeCustomerRepo struct {
	upserts []repository.CustomerIdentity
}

func (r *fakeCustomerRepo) UpsertIdentity(_ context.Context, _ uuid.UUID, fields repository.CustomerIdentity) error {
	r.upserts = append(r.upserts, fields)
	return nil
}

type fakeCompactor struct {
	identity agents.Result[agents.IdentityOutput]
	summary  agents.Result[agents.SummaryOutput]
	calls    int
}

func (c *fakeCompactor) ExtractIdentity(_ context.Context, _ []repository.Turn) agents.Result[agents.IdentityOutput] {
	c.calls++
	return c.identity
}

func (c *fakeCompactor) Summarize(_ context.Context, _ []repository.Turn, _ string) agents.Result[agents.SummaryOutput] {
	return c.summary
}

type managerFixture struct {
	manager   *Manager
	buffer    *fakeBuffer
	scratch   *fakeScratch
	turns     *fakeTurnRepo
	sessions  *fakeSessionRepo
	customers *fakeCustomerRepo
	compactor *fakeCompactor
}

func newFixture(opts Options) *managerFixture {
	f := &managerFixture{
		buffer:    &fakeBuffer{},
		scratch:   &fakeScratch{},
		turns:     &fakeTurnRepo{},
		sessions:  &fakeSessionRepo{},
		customers: &fakeCustomerRepo{},
		compactor: &fakeCompactor{
			summary: agents.Result[agents.SummaryOutput]{
				Output: agents.SummaryOutput{Summary: "customer wants a hoodie", Tags: []string{"sales"}},
			},
		},
	}
	f.manager = NewManager(
		"conv-1", uuid.New(),
		f.buffer, f.scratch, f.turns, f.sessions, f.customers, f.compactor,
		opts, nil,
	)
	return f
}

func userTurn(i int) models.Turn {
	return models.Turn{
		Role:      models.RoleUser,
		Content:   fmt.Sprintf("message %d", i),
		Timestamp: int64(1700000000 + i),
		Metadata:  models.TurnMetadata{Tokens: 3},
	}
}

func TestSlidingWindowEvictionPartitionsBuffer(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 6, CompactionWatermark: 100})
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(i)))
	}

	// 7th append exceeded the bound of 6: oldest 4 archived, newest 3 kept.
	assert.Len(t, f.buffer.turns, 3)
	assert.Len(t, f.turns.rows, 4)

	for i := 0; i < 4; i++ {
		assert.Equal(t, fmt.Sprintf("message %d", i+1), f.turns.rows[i].Content)
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, fmt.Sprintf("message %d", i+5), f.buffer.turns[i].Content)
	}
}

func TestBufferStaysBoundedAcrossManyCalls(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 6, CompactionWatermark: 1000})
	ctx := context.Background()

	for i := 1; i <= 40; i++ {
		require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(i)))
		n, err := f.buffer.Len(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 6)
	}

	// Nothing was lost: everything is either hot or archived.
	assert.Equal(t, 40, len(f.buffer.turns)+len(f.turns.rows))
}

func TestEvictionFailureBlocksTruncationAndRetries(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 6, CompactionWatermark: 100})
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(i)))
	}

	f.turns.appendErr = errors.New("archive unavailable")
	err := f.manager.ReceiveInput(ctx, userTurn(7))
	require.Error(t, err)

	// Durability over bound: nothing truncated, nothing archived, the
	// buffer holds all 7 turns.
	assert.Len(t, f.buffer.turns, 7)
	assert.Empty(t, f.turns.rows)

	// Archive recovers: the next call retries the whole eviction.
	f.turns.appendErr = nil
	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(8)))
	assert.Len(t, f.buffer.turns, 3)
	assert.Len(t, f.turns.rows, 5)
	assert.Equal(t, "message 1", f.turns.rows[0].Content)
}

func TestEvictionTruncateFailureDoesNotReArchive(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 6, CompactionWatermark: 100})
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(i)))
	}

	// Archive write lands, the buffer trim does not.
	f.buffer.truncErr = errors.New("connection reset")
	err := f.manager.ReceiveInput(ctx, userTurn(7))
	require.Error(t, err)
	assert.Len(t, f.buffer.turns, 7)
	assert.Len(t, f.turns.rows, 4)

	// Hot store recovers: the retry only drops the already-archived prefix,
	// it must not write the same turns to the archive a second time.
	f.buffer.truncErr = nil
	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(8)))

	require.Len(t, f.turns.rows, 4)
	seen := map[string]int{}
	for _, row := range f.turns.rows {
		seen[row.Content]++
	}
	for i := 1; i <= 4; i++ {
		assert.Equal(t, 1, seen[fmt.Sprintf("message %d", i)])
	}
	require.Len(t, f.buffer.turns, 4)
	assert.Equal(t, "message 5", f.buffer.turns[0].Content)
	assert.Equal(t, "message 8", f.buffer.turns[3].Content)

	// Normal eviction resumes once the buffer overflows again.
	for i := 9; i <= 11; i++ {
		require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(i)))
	}
	assert.Len(t, f.buffer.turns, 3)
	assert.Len(t, f.turns.rows, 8)
	assert.Equal(t, 11, len(f.buffer.turns)+len(f.turns.rows))
}

func seedArchive(f *managerFixture, n int) {
	for i := 1; i <= n; i++ {
		f.turns.rows = append(f.turns.rows, repository.Turn{
			SessionID: "conv-1",
			Role:      models.RoleUser,
			Content:   fmt.Sprintf("archived %d", i),
		})
	}
}

func TestCompactionFiresOnWatermarkOnce(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 100, CompactionWatermark: 4})
	ctx := context.Background()
	seedArchive(f, 4)

	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(1)))

	assert.Equal(t, 1, f.compactor.calls)
	assert.Len(t, f.turns.rows, 4)
	assert.Equal(t, "customer wants a hoodie", f.sessions.summary("conv-1"))

	// Count unchanged: re-checking must not re-fire.
	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(2)))
	assert.Equal(t, 1, f.compactor.calls)
}

func TestCompactionDoesNotFireOffWatermark(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 100, CompactionWatermark: 4})
	ctx := context.Background()
	seedArchive(f, 3)

	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(1)))
	assert.Equal(t, 0, f.compactor.calls)
}

func TestCompactionRefiresWhenCountAdvances(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 100, CompactionWatermark: 4})
	ctx := context.Background()

	seedArchive(f, 4)
	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(1)))
	assert.Equal(t, 1, f.compactor.calls)

	// Archive grows to the next multiple: fires again and trims back down.
	seedArchive(f, 4)
	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(2)))
	assert.Equal(t, 2, f.compactor.calls)
	assert.Len(t, f.turns.rows, 4)

	// Post-trim count equals the watermark; that alone must not re-fire.
	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(3)))
	assert.Equal(t, 2, f.compactor.calls)
}

func TestCompactionMergesExtractedIdentity(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 100, CompactionWatermark: 4})
	f.compactor.identity = agents.Result[agents.IdentityOutput]{
		Output: agents.IdentityOutput{Name: "Anh Minh", Phone: "0901234567"},
	}
	ctx := context.Background()
	seedArchive(f, 4)

	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(1)))

	require.Len(t, f.customers.upserts, 1)
	assert.Equal(t, "Anh Minh", f.customers.upserts[0].Name)
	assert.Equal(t, "0901234567", f.customers.upserts[0].Phone)
}

func TestCompactionSkipsEmptyAndDegradedResults(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 100, CompactionWatermark: 4})
	f.compactor.summary = agents.Result[agents.SummaryOutput]{
		Output:   agents.SummaryOutput{Summary: "No summary available"},
		Degraded: true,
		Reason:   "llm call failed",
	}
	ctx := context.Background()
	seedArchive(f, 4)

	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(1)))

	// Identity extraction found nothing, summarization degraded: neither
	// record is touched, but the tail trim still runs.
	assert.Empty(t, f.customers.upserts)
	assert.Equal(t, "", f.sessions.summary("conv-1"))
	assert.Len(t, f.turns.rows, 4)
}

func TestCompactionTrimFailureDoesNotRefireAtSameCount(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 100, CompactionWatermark: 4})
	ctx := context.Background()
	seedArchive(f, 8)

	f.turns.trimErr = errors.New("deadlock detected")
	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(1)))
	assert.Equal(t, 1, f.compactor.calls)
	assert.Len(t, f.turns.rows, 8)

	// Same count, trim still pending: must not hammer the summarizer again
	// until the count moves.
	require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(2)))
	assert.Equal(t, 1, f.compactor.calls)
}

func TestRecordHandoffCreatesSessionLazily(t *testing.T) {
	f := newFixture(Options{})
	ctx := context.Background()

	err := f.manager.RecordHandoff(ctx, "khách yêu cầu gặp nhân viên", map[string]interface{}{
		"intent": "complaint",
	})
	require.NoError(t, err)

	assert.Equal(t, "khách yêu cầu gặp nhân viên", f.sessions.handoffs["conv-1"])
	require.NotNil(t, f.sessions.sessions["conv-1"])
}

func TestRecentTurnsReturnsNewestInOrder(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 100, CompactionWatermark: 100})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(i)))
	}

	recent, err := f.manager.RecentTurns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "message 3", recent[0].Content)
	assert.Equal(t, "message 5", recent[2].Content)
}

func TestTokenCounterAccumulates(t *testing.T) {
	f := newFixture(Options{MaxBufferMessages: 100, CompactionWatermark: 100})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		require.NoError(t, f.manager.ReceiveInput(ctx, userTurn(i)))
	}

	sc, err := f.manager.ScratchSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, sc.TotalTokens)
}
