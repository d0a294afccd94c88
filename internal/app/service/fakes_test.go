package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tle_zone_contest/internal/common"
	"tle_zone_contest/internal/domain/model"
)

// memStore is an in-memory implementation of every repository the services
// use. Conditional writes are checked and applied under one mutex, which
// gives them the same compare-and-set behavior as the SQL versions.
type memStore struct {
	mu sync.Mutex

	submissions    map[string]*model.Submission
	results        map[string]map[string]*model.TestCaseResult
	problems       map[string]*model.Problem
	testCases      map[string]*model.TestCase
	tcOrder        []string
	contests       map[string]*model.Contest
	participations map[string]*model.Participation
	userNames      map[string]string

	finalized   map[string]int
	finalizeErr error

	// afterBestScores runs after each best-score read, outside the lock.
	afterBestScores func()
}

func newMemStore() *memStore {
	return &memStore{
		submissions:    make(map[string]*model.Submission),
		results:        make(map[string]map[string]*model.TestCaseResult),
		problems:       make(map[string]*model.Problem),
		testCases:      make(map[string]*model.TestCase),
		contests:       make(map[string]*model.Contest),
		participations: make(map[string]*model.Participation),
		userNames:      make(map[string]string),
		finalized:      make(map[string]int),
	}
}

func (m *memStore) addTestCase(tc model.TestCase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testCases[tc.ID] = &tc
	m.tcOrder = append(m.tcOrder, tc.ID)
}

func (m *memStore) submission(id string) model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.submissions[id]
}

func (m *memStore) result(submissionID, testCaseID string) model.TestCaseResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.results[submissionID][testCaseID]
}

func (m *memStore) participation(userID, contestID string) model.Participation {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participations {
		if p.UserID == userID && p.ContestID == contestID {
			return *p
		}
	}
	return model.Participation{}
}

func (m *memStore) finalizeCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalized[id]
}

func (m *memStore) setFinalizeErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeErr = err
}

// TxRunner

func (m *memStore) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// SubmissionRepository

func (m *memStore) CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.submissions[sub.ID] = &cp
	return nil
}

func (m *memStore) GetSubmissionByID(ctx context.Context, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) StartJudging(ctx context.Context, submissionID string, testCaseIDs []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok || s.Status != model.StatusInQueue {
		return false, nil
	}
	s.Status = model.StatusProcessing
	if m.results[submissionID] == nil {
		m.results[submissionID] = make(map[string]*model.TestCaseResult)
	}
	now := time.Now()
	for _, id := range testCaseIDs {
		if _, exists := m.results[submissionID][id]; exists {
			continue
		}
		m.results[submissionID][id] = &model.TestCaseResult{
			SubmissionID: submissionID,
			TestCaseID:   id,
			Status:       model.StatusProcessing,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	return true, nil
}

func (m *memStore) CompleteTestCaseResult(ctx context.Context, submissionID, testCaseID string, res model.ExecutionResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[submissionID][testCaseID]
	if !ok || r.Status != model.StatusProcessing {
		return false, nil
	}
	r.Status = res.Status
	r.Passed = res.Passed
	r.Stdout = res.Stdout
	r.Stderr = res.Stderr
	r.CompileOutput = res.CompileOutput
	r.Message = res.Message
	r.ExecutionTimeMs = res.ExecutionTimeMs
	r.MemoryUsedKb = res.MemoryUsedKb
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) CountTestCaseResults(ctx context.Context, submissionID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, terminal := 0, 0
	for _, r := range m.results[submissionID] {
		total++
		if r.Status.IsTerminal() {
			terminal++
		}
	}
	return total, terminal, nil
}

func (m *memStore) ListTestCaseResults(ctx context.Context, submissionID string) ([]model.TestCaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TestCaseResult
	for _, id := range m.tcOrder {
		r, ok := m.results[submissionID][id]
		if !ok {
			continue
		}
		cp := *r
		cp.Points = m.testCases[id].Points
		cp.IsHidden = m.testCases[id].IsHidden
		out = append(out, cp)
	}
	return out, nil
}

func (m *memStore) FinalizeSubmission(ctx context.Context, submissionID string, from model.SubmissionStatus, o model.JudgeOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return false, m.finalizeErr
	}
	s, ok := m.submissions[submissionID]
	if !ok || s.Status != from {
		return false, nil
	}
	score, execTime, mem, judgedAt := o.Score, o.ExecutionTimeMs, o.MemoryUsedKb, o.JudgedAt
	s.Status = o.Status
	s.Score = &score
	s.ExecutionTimeMs = &execTime
	s.MemoryUsedKb = &mem
	s.CompileOutput = o.CompileOutput
	s.JudgedAt = &judgedAt
	m.finalized[submissionID]++
	return true, nil
}

func (m *memStore) BestScoresByContest(ctx context.Context, contestID string, from, to time.Time) (map[string]float64, error) {
	out := m.bestScores(contestID, from, to)
	m.mu.Lock()
	hook := m.afterBestScores
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *memStore) bestScores(contestID string, from, to time.Time) map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := make(map[string]map[string]float64)
	for _, s := range m.submissions {
		p := m.problems[s.ProblemID]
		if p == nil || p.ContestID == nil || *p.ContestID != contestID || s.Score == nil {
			continue
		}
		if s.SubmittedAt.Before(from) || s.SubmittedAt.After(to) {
			continue
		}
		if best[s.UserID] == nil {
			best[s.UserID] = make(map[string]float64)
		}
		if *s.Score > best[s.UserID][s.ProblemID] {
			best[s.UserID][s.ProblemID] = *s.Score
		}
	}
	out := make(map[string]float64, len(best))
	for user, perProblem := range best {
		for _, v := range perProblem {
			out[user] += v
		}
	}
	return out
}

func (m *memStore) ListStaleResults(ctx context.Context, before time.Time, limit int) ([]model.TestCaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TestCaseResult
	for _, set := range m.results {
		for _, r := range set {
			if r.Status == model.StatusProcessing && r.CreatedAt.Before(before) && len(out) < limit {
				out = append(out, *r)
			}
		}
	}
	return out, nil
}

func (m *memStore) ListStalledSubmissions(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, s := range m.submissions {
		if s.Status != model.StatusProcessing || len(m.results[id]) == 0 {
			continue
		}
		done := true
		for _, r := range m.results[id] {
			if !r.Status.IsTerminal() {
				done = false
			}
		}
		if done && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) ListQueuedSubmissions(ctx context.Context, before time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, s := range m.submissions {
		if s.Status == model.StatusInQueue && s.SubmittedAt.Before(before) && len(out) < limit {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ProblemRepository

func (m *memStore) FindProblemByID(ctx context.Context, id string) (*model.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.problems[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetTestCaseByID(ctx context.Context, id string) (*model.TestCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.testCases[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *tc
	return &cp, nil
}

func (m *memStore) GetTestCasesByProblemID(ctx context.Context, problemID string, hiddenOnly bool) ([]model.TestCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TestCase
	for _, id := range m.tcOrder {
		tc := m.testCases[id]
		if tc.ProblemID == problemID && (tc.IsHidden || !hiddenOnly) {
			out = append(out, *tc)
		}
	}
	return out, nil
}

func (m *memStore) AddTestCasesToProblem(ctx context.Context, tx *sql.Tx, problemID string, testCases []model.TestCase) error {
	for _, tc := range testCases {
		tc.ProblemID = problemID
		m.addTestCase(tc)
	}
	return nil
}

func (m *memStore) UpdateTestCasePoints(ctx context.Context, tx *sql.Tx, testCases []model.TestCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tc := range testCases {
		stored, ok := m.testCases[tc.ID]
		if !ok {
			return fmt.Errorf("test case %s: %w", tc.ID, common.ErrNotFound)
		}
		stored.Points = tc.Points
	}
	return nil
}

// ContestRepository

func (m *memStore) FindContestByID(ctx context.Context, id string) (*model.Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ParticipationRepository

func (m *memStore) CreateParticipation(ctx context.Context, p *model.Participation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.participations {
		if existing.UserID == p.UserID && existing.ContestID == p.ContestID {
			return fmt.Errorf("already participating in this contest: %w", common.ErrConflict)
		}
	}
	cp := *p
	m.participations[p.ID] = &cp
	return nil
}

func (m *memStore) ListParticipations(ctx context.Context, contestID string) ([]model.Participation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Participation
	for _, p := range m.participations {
		if p.ContestID == contestID {
			cp := *p
			cp.DisplayName = m.userNames[p.UserID]
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateScore(ctx context.Context, participationID string, oldScore, newScore float64, scoreUpdatedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participations[participationID]
	if !ok || math.Abs(p.TotalScore-oldScore) >= 0.005 {
		return false, nil
	}
	p.TotalScore = newScore
	p.ScoreUpdatedAt = scoreUpdatedAt
	return true, nil
}

func (m *memStore) UpdateRanks(ctx context.Context, ranks map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rank := range ranks {
		if p, ok := m.participations[id]; ok {
			r := rank
			p.Rank = &r
		}
	}
	return nil
}

// fakeClient records execution requests and fails the ones listed in failFor.
type fakeClient struct {
	mu       sync.Mutex
	requests []model.ExecutionRequest
	failAll  error
	failFor  map[string]error
	delay    time.Duration
	// afterSubmit runs after each accepted request.
	afterSubmit func()

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (c *fakeClient) Submit(ctx context.Context, req model.ExecutionRequest) (string, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		prev := c.maxInFlight.Load()
		if n <= prev || c.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.failAll != nil {
		c.mu.Unlock()
		return "", c.failAll
	}
	if err := c.failFor[req.Callback.TestCaseID]; err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.requests = append(c.requests, req)
	hook := c.afterSubmit
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return "token-" + req.Callback.TestCaseID, nil
}

func (c *fakeClient) sent() []model.ExecutionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ExecutionRequest(nil), c.requests...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []pushed
}

type pushed struct {
	userID string
	n      model.Notification
}

func (r *recordingNotifier) Push(ctx context.Context, userID string, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, pushed{userID: userID, n: n})
	return nil
}

func (r *recordingNotifier) ofType(kind string) []pushed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pushed
	for _, p := range r.sent {
		if p.n.Type == kind {
			out = append(out, p)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.VerdictEvent
}

func (p *recordingPublisher) PublishVerdict(ctx context.Context, ev model.VerdictEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type countingLeaderboard struct {
	inner LeaderboardUpdater
	calls atomic.Int32
}

func (c *countingLeaderboard) Recompute(ctx context.Context, contestID string) error {
	c.calls.Add(1)
	if c.inner == nil {
		return nil
	}
	return c.inner.Recompute(ctx, contestID)
}

type memCache struct {
	mu          sync.Mutex
	entries     map[string][]model.LeaderboardEntry
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]model.LeaderboardEntry)}
}

func (c *memCache) Get(ctx context.Context, contestID string) ([]model.LeaderboardEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[contestID]
	return e, ok, nil
}

func (c *memCache) Set(ctx context.Context, contestID string, entries []model.LeaderboardEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[contestID] = entries
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, contestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, contestID)
	c.invalidated = append(c.invalidated, contestID)
	return nil
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *fakeQueue) Enqueue(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type staticLimits struct{}

func (staticLimits) LimitsFor(languageID, timeLimitMs, memoryLimitKb int) (float64, int) {
	return float64(timeLimitMs) / 1000, memoryLimitKb
}

var errSandboxDown = errors.New("dial tcp: connection refused")

// fixture is a live contest c1 with problem p1 (100 points) carrying three
// hidden test cases EASY/EASY/HARD (20/20/60) and one sample. User u1
// ("alice") participates; u2 ("bob") exists.
type fixture struct {
	store       *memStore
	client      *fakeClient
	notifier    *recordingNotifier
	publisher   *recordingPublisher
	cache       *memCache
	board       *LeaderboardService
	counting    *countingLeaderboard
	reconciler  *Reconciler
	dispatcher  *Dispatcher
	contest     *model.Contest
	hiddenTCIDs []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	now := time.Now()

	contest := &model.Contest{ID: "c1", Title: "Round 1", StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), IsVisible: true}
	store.contests[contest.ID] = contest
	contestID := contest.ID
	store.problems["p1"] = &model.Problem{
		ID: "p1", ContestID: &contestID, Title: "Sum", Points: 100,
		TimeLimitMs: 2000, MemoryLimitKb: 65536, IsVisible: true,
	}
	store.addTestCase(model.TestCase{ID: "tc-sample", ProblemID: "p1", Input: "1 1", ExpectedOutput: "2", Difficulty: model.DifficultyEasy})
	difficulties := []model.Difficulty{model.DifficultyEasy, model.DifficultyEasy, model.DifficultyHard}
	points := []float64{20, 20, 60}
	var hidden []string
	for i, d := range difficulties {
		id := fmt.Sprintf("tc-%d", i+1)
		store.addTestCase(model.TestCase{
			ID: id, ProblemID: "p1", Input: fmt.Sprintf("%d %d", i, i), ExpectedOutput: fmt.Sprint(2 * i),
			IsHidden: true, Difficulty: d, Points: points[i],
		})
		hidden = append(hidden, id)
	}
	store.userNames["u1"] = "alice"
	store.userNames["u2"] = "bob"
	store.participations["part-u1"] = &model.Participation{
		ID: "part-u1", UserID: "u1", ContestID: "c1", ScoreUpdatedAt: now.Add(-30 * time.Minute), JoinedAt: now.Add(-30 * time.Minute),
	}

	f := &fixture{
		store:       store,
		client:      &fakeClient{},
		notifier:    &recordingNotifier{},
		publisher:   &recordingPublisher{},
		cache:       newMemCache(),
		contest:     contest,
		hiddenTCIDs: hidden,
	}
	f.board = NewLeaderboardService(store, store, store, f.cache)
	f.counting = &countingLeaderboard{inner: f.board}
	f.reconciler = NewReconciler(store, store, store, f.counting, f.notifier, f.publisher)
	f.dispatcher = NewDispatcher(store, store, f.client, f.reconciler, staticLimits{}, 4)
	return f
}

// queue stores an IN_QUEUE submission for u1 on p1.
func (f *fixture) queue(t *testing.T, id string) *model.Submission {
	t.Helper()
	sub := &model.Submission{
		ID: id, UserID: "u1", ProblemID: "p1", LanguageID: 71,
		SourceCode: "print(sum(map(int, input().split())))", Status: model.StatusInQueue, SubmittedAt: time.Now(),
	}
	if err := f.store.CreateSubmission(context.Background(), nil, sub); err != nil {
		t.Fatal(err)
	}
	return sub
}

func accepted(stdout string) model.ExecutionResult {
	ms, kb := 12, 3400
	return model.ExecutionResult{Status: model.StatusAccepted, Passed: true, Stdout: stdout, ExecutionTimeMs: &ms, MemoryUsedKb: &kb}
}

func verdict(status model.SubmissionStatus) model.ExecutionResult {
	return model.ExecutionResult{Status: status, Passed: status == model.StatusAccepted}
}
