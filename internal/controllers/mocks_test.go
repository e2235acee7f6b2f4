package controllers

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/neokatalyst/approvalflow/internal/engine"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// tickClock hands out strictly increasing times so every optimistic-lock
// claim stamps a distinct modified value.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *tickClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *tickClock) Sleep(d time.Duration) {}

// memBackend backs a real WorkflowManager with in-memory state so handler
// tests can drive the full request path.
type memBackend struct {
	mu        sync.Mutex
	clock     *tickClock
	workflows map[int64]*domain.Workflow
	steps     []domain.StepDefinition
	tasks     map[int64]*domain.Task
	actions   []domain.WorkflowAction
	nextID    int64
}

func newMemBackend(clock *tickClock) *memBackend {
	return &memBackend{
		clock:     clock,
		workflows: make(map[int64]*domain.Workflow),
		tasks:     make(map[int64]*domain.Task),
	}
}

func (s *memBackend) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memBackend) Save(wf *domain.Workflow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf.ID = s.id()
	cp := *wf
	cp.Steps = nil
	s.workflows[wf.ID] = &cp
	return wf.ID, nil
}

func (s *memBackend) FindByID(id int64) (*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *wf
	return &cp, nil
}

func (s *memBackend) FindAll(limit int) ([]domain.Workflow, error) {
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

func (s *memBackend) LockByModified(id int64, modified time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok || !wf.Modified.Equal(modified) {
		return false
	}
	wf.Modified = s.clock.Now()
	return true
}

func (s *memBackend) UpdateStatus(id int64, status domain.WorkflowStatus) error {
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

func (s *memBackend) SetCurrentStep(id int64, order int) error {
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

func (s *memBackend) UpdateStatusAndStep(id int64, status domain.WorkflowStatus, order int) error {
	if err := s.UpdateStatus(id, status); err != nil {
		return err
	}
	return s.SetCurrentStep(id, order)
}

func (s *memBackend) SaveStep(step *domain.StepDefinition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.ID = s.id()
	s.steps = append(s.steps, *step)
	return step.ID, nil
}

func (s *memBackend) FindByWorkflowID(workflowID int64) ([]domain.StepDefinition, error) {
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

func (s *memBackend) SaveTask(t *domain.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	cp := *t
	s.tasks[t.ID] = &cp
	return t.ID, nil
}

func (s *memBackend) FindTaskByID(id int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (s *memBackend) filterTasks(keep func(*domain.Task) bool) ([]domain.Task, error) {
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

func (s *memBackend) FindByAssignee(assignee string) ([]domain.Task, error) {
	return s.filterTasks(func(t *domain.Task) bool { return t.Assignee == assignee })
}

func (s *memBackend) FindTasksByWorkflowID(workflowID int64) ([]domain.Task, error) {
	return s.filterTasks(func(t *domain.Task) bool { return t.WorkflowID == workflowID })
}

func (s *memBackend) FindByWorkflowAndStep(workflowID int64, stepOrder int) ([]domain.Task, error) {
	return s.filterTasks(func(t *domain.Task) bool {
		return t.WorkflowID == workflowID && t.StepOrder == stepOrder
	})
}

func (s *memBackend) CountCompleted(workflowID int64, stepOrder int) (int, error) {
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

func (s *memBackend) UpdateStatusFrom(id int64, from, to domain.TaskStatus) (bool, error) {
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

func (s *memBackend) RejectOutstanding(workflowID int64) (int64, error) {
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

func (s *memBackend) SaveAction(a *domain.WorkflowAction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	s.actions = append(s.actions, *a)
	return a.ID, nil
}

func (s *memBackend) FindAllByWorkflowID(workflowID int64) (*[]domain.WorkflowAction, error) {
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

type stepBackend struct{ *memBackend }

func (s stepBackend) Save(step *domain.StepDefinition) (int64, error) { return s.SaveStep(step) }

type taskBackend struct{ *memBackend }

func (s taskBackend) Save(t *domain.Task) (int64, error)      { return s.SaveTask(t) }
func (s taskBackend) FindByID(id int64) (*domain.Task, error) { return s.FindTaskByID(id) }
func (s taskBackend) FindByWorkflowID(id int64) ([]domain.Task, error) {
	return s.FindTasksByWorkflowID(id)
}

type actionBackend struct{ *memBackend }

func (s actionBackend) Save(a *domain.WorkflowAction) (int64, error) { return s.SaveAction(a) }

func (s *memBackend) repos() engine.Repos {
	return engine.Repos{
		Workflows: s,
		Steps:     stepBackend{s},
		Tasks:     taskBackend{s},
		Actions:   actionBackend{s},
	}
}

type MockUserRepo struct {
	FindBySessionIDFunc func(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKeyFunc    func(apiKey string) (*domain.User, error)
	FindByUsernameFunc  func(username string) (*domain.User, error)
	FindAllFunc         func() (*[]domain.User, error)
	SaveFunc            func(user *domain.User) (int64, error)
	FindByIdFunc        func(id int64) (*domain.User, error)
	DeleteByIdFunc      func(id int64) error
	UpdateSessionFunc   func(userID int64, sessionID string, expiry time.Time) error
	ClearSessionFunc    func(sessionID string) error
}

func (m *MockUserRepo) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	if m.FindBySessionIDFunc != nil {
		return m.FindBySessionIDFunc(sessionID, now)
	}
	return nil, nil
}
func (m *MockUserRepo) FindByApiKey(apiKey string) (*domain.User, error) {
	if m.FindByApiKeyFunc != nil {
		return m.FindByApiKeyFunc(apiKey)
	}
	return nil, nil
}
func (m *MockUserRepo) FindByUsername(username string) (*domain.User, error) {
	if m.FindByUsernameFunc != nil {
		return m.FindByUsernameFunc(username)
	}
	return nil, nil
}
func (m *MockUserRepo) FindAll() (*[]domain.User, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return &[]domain.User{}, nil
}
func (m *MockUserRepo) Save(user *domain.User) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(user)
	}
	return 1, nil
}
func (m *MockUserRepo) FindById(id int64) (*domain.User, error) {
	if m.FindByIdFunc != nil {
		return m.FindByIdFunc(id)
	}
	return nil, nil
}
func (m *MockUserRepo) DeleteById(id int64) error {
	if m.DeleteByIdFunc != nil {
		return m.DeleteByIdFunc(id)
	}
	return nil
}
func (m *MockUserRepo) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	if m.UpdateSessionFunc != nil {
		return m.UpdateSessionFunc(userID, sessionID, expiry)
	}
	return nil
}
func (m *MockUserRepo) ClearSessionBySessionID(sessionID string) error {
	if m.ClearSessionFunc != nil {
		return m.ClearSessionFunc(sessionID)
	}
	return nil
}
func (m *MockUserRepo) UpdateUser(id int64, username string, apiKey sql.NullString, admin sql.NullBool, enabled sql.NullBool) error {
	return nil
}

type testFixture struct {
	store     *memBackend
	users     *MockUserRepo
	wfManager *engine.WorkflowManager
	workflows *WorkflowsController
	tasks     *TasksController
	actions   *ActionsController
}

func newTestFixture() *testFixture {
	clock := newTickClock()
	store := newMemBackend(clock)
	users := &MockUserRepo{}
	wm := engine.NewWorkflowManager(nil, store.repos(), nil, nil, clock)
	tm := engine.NewTaskManager(wm, users)
	return &testFixture{
		store:     store,
		users:     users,
		wfManager: wm,
		workflows: NewWorkflowsController(wm, users),
		tasks:     NewTasksController(tm, users),
		actions:   NewActionsController(actionBackend{store}, users),
	}
}
