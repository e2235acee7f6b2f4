package engine

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// fakeClock advances by one millisecond on every Now call so that each
// optimistic-lock claim stamps a distinct modified time, and counts Sleep
// calls instead of actually sleeping.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps++
	c.mu.Unlock()
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

// memStore is an in-memory implementation of the repository interfaces
// with the same optimistic-lock semantics as the SQL repositories: a lock
// claim compares the caller's modified snapshot and bumps the column on
// success, and every status change bumps it too.
type memStore struct {
	mu        sync.Mutex
	clock     *fakeClock
	workflows map[int64]*domain.Workflow
	steps     []domain.StepDefinition
	tasks     map[int64]*domain.Task
	actions   []domain.WorkflowAction
	nextID    int64

	// lockHook runs before each lock claim, outside the store mutex, so a
	// test can interleave a competing writer at the claim point.
	lockHook func(workflowID int64)
	// failLocks makes the next N lock claims fail unconditionally.
	failLocks int
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{
		clock:     clock,
		workflows: make(map[int64]*domain.Workflow),
		tasks:     make(map[int64]*domain.Task),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) Save(wf *domain.Workflow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf.ID = s.id()
	cp := *wf
	cp.Steps = nil
	s.workflows[wf.ID] = &cp
	return wf.ID, nil
}

func (s *memStore) FindByID(id int64) (*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *wf
	return &cp, nil
}

func (s *memStore) FindAll(limit int) ([]domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Workflow
	for _, wf := range s.workflows {
		out = append(out, *wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) LockByModified(id int64, modified time.Time) bool {
	if s.lockHook != nil {
		s.lockHook(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLocks > 0 {
		s.failLocks--
		return false
	}
	wf, ok := s.workflows[id]
	if !ok || !wf.Modified.Equal(modified) {
		return false
	}
	wf.Modified = s.clock.Now()
	return true
}

func (s *memStore) UpdateStatus(id int64, status domain.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return sql.ErrNoRows
	}
	wf.Status = status
	wf.Modified = s.clock.Now()
	return nil
}

func (s *memStore) SetCurrentStep(id int64, order int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return sql.ErrNoRows
	}
	if order == 0 {
		wf.CurrentStepOrder = sql.NullInt64{}
	} else {
		wf.CurrentStepOrder = sql.NullInt64{Int64: int64(order), Valid: true}
	}
	wf.Modified = s.clock.Now()
	return nil
}

func (s *memStore) UpdateStatusAndStep(id int64, status domain.WorkflowStatus, order int) error {
	if err := s.UpdateStatus(id, status); err != nil {
		return err
	}
	return s.SetCurrentStep(id, order)
}

func (s *memStore) SaveStep(step *domain.StepDefinition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.ID = s.id()
	s.steps = append(s.steps, *step)
	return step.ID, nil
}

func (s *memStore) FindByWorkflowID(workflowID int64) ([]domain.StepDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StepDefinition
	for _, step := range s.steps {
		if step.WorkflowID == workflowID {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (s *memStore) SaveTask(t *domain.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	cp := *t
	s.tasks[t.ID] = &cp
	return t.ID, nil
}

func (s *memStore) FindTaskByID(id int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) FindByAssignee(assignee string) ([]domain.Task, error) {
	return s.filterTasks(func(t *domain.Task) bool { return t.Assignee == assignee })
}

func (s *memStore) FindTasksByWorkflowID(workflowID int64) ([]domain.Task, error) {
	return s.filterTasks(func(t *domain.Task) bool { return t.WorkflowID == workflowID })
}

func (s *memStore) FindByWorkflowAndStep(workflowID int64, stepOrder int) ([]domain.Task, error) {
	return s.filterTasks(func(t *domain.Task) bool {
		return t.WorkflowID == workflowID && t.StepOrder == stepOrder
	})
}

func (s *memStore) filterTasks(keep func(*domain.Task) bool) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) CountCompleted(workflowID int64, stepOrder int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID && t.StepOrder == stepOrder && t.Status == domain.TaskStatusCompleted {
			count++
		}
	}
	return count, nil
}

func (s *memStore) UpdateStatusFrom(id int64, from, to domain.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.Modified = s.clock.Now()
	if to == domain.TaskStatusCompleted {
		t.CompletedAt = sql.NullTime{Time: t.Modified, Valid: true}
	}
	return true, nil
}

func (s *memStore) RejectOutstanding(workflowID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rejected int64
	for _, t := range s.tasks {
		if t.WorkflowID == workflowID &&
			(t.Status == domain.TaskStatusPending || t.Status == domain.TaskStatusInProgress) {
			t.Status = domain.TaskStatusRejected
			t.Modified = s.clock.Now()
			rejected++
		}
	}
	return rejected, nil
}

func (s *memStore) SaveAction(a *domain.WorkflowAction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	s.actions = append(s.actions, *a)
	return a.ID, nil
}

func (s *memStore) FindAllByWorkflowID(workflowID int64) (*[]domain.WorkflowAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WorkflowAction
	for i := len(s.actions) - 1; i >= 0; i-- {
		if s.actions[i].WorkflowID == workflowID {
			out = append(out, s.actions[i])
		}
	}
	return &out, nil
}

func (s *memStore) actionsOfType(workflowID int64, actionType string) []domain.WorkflowAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WorkflowAction
	for _, a := range s.actions {
		if a.WorkflowID == workflowID && a.Type == actionType {
			out = append(out, a)
		}
	}
	return out
}

// stepStore and taskStore and actionStore adapt memStore methods whose
// names collide across interfaces.
type stepStore struct{ *memStore }

func (s stepStore) Save(step *domain.StepDefinition) (int64, error) { return s.SaveStep(step) }

type taskStore struct{ *memStore }

func (s taskStore) Save(t *domain.Task) (int64, error)          { return s.SaveTask(t) }
func (s taskStore) FindByID(id int64) (*domain.Task, error)     { return s.FindTaskByID(id) }
func (s taskStore) FindByWorkflowID(id int64) ([]domain.Task, error) {
	return s.FindTasksByWorkflowID(id)
}

type actionStore struct{ *memStore }

func (s actionStore) Save(a *domain.WorkflowAction) (int64, error) { return s.SaveAction(a) }

func (s *memStore) repos() Repos {
	return Repos{
		Workflows: s,
		Steps:     stepStore{s},
		Tasks:     taskStore{s},
		Actions:   actionStore{s},
	}
}

// recordingNotifier captures notification calls for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	assigned  []int
	finalized []domain.WorkflowStatus
}

func (n *recordingNotifier) TasksAssigned(ctx context.Context, wf *domain.Workflow, stepOrder int, tasks []domain.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, stepOrder)
}

func (n *recordingNotifier) WorkflowFinalized(ctx context.Context, wf *domain.Workflow, status domain.WorkflowStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finalized = append(n.finalized, status)
}

type MockUserRepo struct {
	FindByUsernameFunc func(username string) (*domain.User, error)
}

func (m *MockUserRepo) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	return nil, nil
}
func (m *MockUserRepo) FindByApiKey(apiKey string) (*domain.User, error) { return nil, nil }
func (m *MockUserRepo) FindAll() (*[]domain.User, error)                 { return nil, nil }
func (m *MockUserRepo) Save(user *domain.User) (int64, error)            { return 1, nil }
func (m *MockUserRepo) FindById(id int64) (*domain.User, error)          { return nil, nil }
func (m *MockUserRepo) DeleteById(id int64) error                        { return nil }
func (m *MockUserRepo) FindByUsername(username string) (*domain.User, error) {
	if m.FindByUsernameFunc != nil {
		return m.FindByUsernameFunc(username)
	}
	return nil, nil
}
func (m *MockUserRepo) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	return nil
}
func (m *MockUserRepo) ClearSessionBySessionID(sessionID string) error { return nil }
func (m *MockUserRepo) UpdateUser(id int64, username string, apiKey sql.NullString, admin sql.NullBool, enabled sql.NullBool) error {
	return nil
}

func newTestManager() (*WorkflowManager, *memStore, *fakeClock, *recordingNotifier) {
	clock := newFakeClock()
	store := newMemStore(clock)
	notifier := &recordingNotifier{}
	wm := NewWorkflowManager(nil, store.repos(), nil, notifier, clock)
	return wm, store, clock, notifier
}

func twoStepTemplate() []domain.StepDefinition {
	return []domain.StepDefinition{
		{StepOrder: 1, Name: "Manager review", Assignee: "alice", RequiredApprovals: 2},
		{StepOrder: 2, Name: "Finance sign-off", Assignee: "bob", RequiredApprovals: 1},
	}
}
