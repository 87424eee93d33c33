package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erpcore/approval-engine/internal/application/dispatcher"
	"github.com/erpcore/approval-engine/internal/application/port"
	"github.com/erpcore/approval-engine/internal/domain/entity"
	"github.com/erpcore/approval-engine/internal/domain/event"
)

// memStore backs the in-memory repository fakes used across the service
// tests. Reads hand out copies so a test only sees state the code under test
// actually persisted.
type memStore struct {
	mu          sync.Mutex
	templates   map[int64]*entity.WorkflowTemplate
	stageTpls   map[int64]*entity.StageTemplate
	instances   map[int64]*entity.WorkflowInstance
	stageInsts  map[int64]*entity.StageInstance
	assignments map[int64]*entity.Assignment
	actions     []*entity.Action
	nextID      int64
}

func newMemStore() *memStore {
	return &memStore{
		templates:   make(map[int64]*entity.WorkflowTemplate),
		stageTpls:   make(map[int64]*entity.StageTemplate),
		instances:   make(map[int64]*entity.WorkflowInstance),
		stageInsts:  make(map[int64]*entity.StageInstance),
		assignments: make(map[int64]*entity.Assignment),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

// seedTemplate stores a template with its stages, bypassing the service
// layer, the way a migration or fixture would.
func (s *memStore) seedTemplate(code, targetType string, stages ...entity.StageTemplate) *entity.WorkflowTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl := &entity.WorkflowTemplate{
		ID:         s.id(),
		Code:       code,
		Name:       code,
		TargetType: targetType,
		Version:    1,
		IsActive:   true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	s.templates[tpl.ID] = tpl
	for i := range stages {
		st := stages[i]
		st.ID = s.id()
		st.TemplateID = tpl.ID
		s.stageTpls[st.ID] = &st
	}
	return tpl
}

func (s *memStore) stagesOf(templateID int64) []entity.StageTemplate {
	var out []entity.StageTemplate
	for _, st := range s.stageTpls {
		if st.TemplateID == templateID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

// memTemplateRepo implements port.TemplateRepository.
type memTemplateRepo struct{ s *memStore }

func (r *memTemplateRepo) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tpl.ID = r.s.id()
	cp := *tpl
	cp.Stages = nil
	r.s.templates[tpl.ID] = &cp
	return nil
}

func (r *memTemplateRepo) GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tpl, ok := r.s.templates[id]
	if !ok {
		return nil, nil
	}
	cp := *tpl
	cp.Stages = r.s.stagesOf(id)
	return &cp, nil
}

func (r *memTemplateRepo) GetActiveByTargetType(ctx context.Context, targetType string) (*entity.WorkflowTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *entity.WorkflowTemplate
	for _, tpl := range r.s.templates {
		if tpl.TargetType != targetType || !tpl.IsActive {
			continue
		}
		if best == nil || tpl.Version > best.Version || (tpl.Version == best.Version && tpl.ID > best.ID) {
			best = tpl
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	cp.Stages = r.s.stagesOf(best.ID)
	return &cp, nil
}

func (r *memTemplateRepo) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.WorkflowTemplate
	for _, tpl := range r.s.templates {
		cp := *tpl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTemplateRepo) Update(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *tpl
	cp.Stages = nil
	r.s.templates[tpl.ID] = &cp
	return nil
}

func (r *memTemplateRepo) SetActive(ctx context.Context, id int64, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if tpl, ok := r.s.templates[id]; ok {
		tpl.IsActive = active
	}
	return nil
}

func (r *memTemplateRepo) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.templates, id)
	return nil
}

func (r *memTemplateRepo) HasInstances(ctx context.Context, id int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, in := range r.s.instances {
		if in.TemplateID == id {
			return true, nil
		}
	}
	return false, nil
}

// memStageTemplateRepo implements port.StageTemplateRepository.
type memStageTemplateRepo struct{ s *memStore }

func (r *memStageTemplateRepo) Create(ctx context.Context, stage *entity.StageTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stage.ID = r.s.id()
	cp := *stage
	r.s.stageTpls[stage.ID] = &cp
	return nil
}

func (r *memStageTemplateRepo) GetByID(ctx context.Context, id int64) (*entity.StageTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.stageTpls[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (r *memStageTemplateRepo) GetByTemplateID(ctx context.Context, templateID int64) ([]*entity.StageTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.StageTemplate
	for _, st := range r.s.stagesOf(templateID) {
		cp := st
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memStageTemplateRepo) GetByOrderIndex(ctx context.Context, templateID int64, orderIndex int) (*entity.StageTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.stageTpls {
		if st.TemplateID == templateID && st.OrderIndex == orderIndex {
			cp := *st
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memStageTemplateRepo) GetNextByOrderIndex(ctx context.Context, templateID int64, afterIndex int) (*entity.StageTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var next *entity.StageTemplate
	for _, st := range r.s.stageTpls {
		if st.TemplateID != templateID || st.OrderIndex <= afterIndex {
			continue
		}
		if next == nil || st.OrderIndex < next.OrderIndex {
			next = st
		}
	}
	if next == nil {
		return nil, nil
	}
	cp := *next
	return &cp, nil
}

func (r *memStageTemplateRepo) DeleteByTemplateID(ctx context.Context, templateID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, st := range r.s.stageTpls {
		if st.TemplateID == templateID {
			delete(r.s.stageTpls, id)
		}
	}
	return nil
}

// memInstanceRepo implements port.InstanceRepository.
type memInstanceRepo struct{ s *memStore }

func (r *memInstanceRepo) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	instance.ID = r.s.id()
	cp := *instance
	r.s.instances[instance.ID] = &cp
	return nil
}

func (r *memInstanceRepo) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	in, ok := r.s.instances[id]
	if !ok {
		return nil, nil
	}
	cp := *in
	return &cp, nil
}

func (r *memInstanceRepo) GetCurrentByTarget(ctx context.Context, targetType, targetID string) (*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, in := range r.s.instances {
		if in.TargetType == targetType && in.TargetID == targetID && !in.IsTerminal() {
			cp := *in
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memInstanceRepo) GetLatestByTarget(ctx context.Context, targetType, targetID string) (*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *entity.WorkflowInstance
	for _, in := range r.s.instances {
		if in.TargetType != targetType || in.TargetID != targetID {
			continue
		}
		if latest == nil || in.ID > latest.ID {
			latest = in
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memInstanceRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if in, ok := r.s.instances[id]; ok {
		in.Status = status
	}
	return nil
}

func (r *memInstanceRepo) UpdateCurrentStage(ctx context.Context, id int64, orderIndex int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if in, ok := r.s.instances[id]; ok {
		in.CurrentStageIndex = orderIndex
	}
	return nil
}

func (r *memInstanceRepo) SetCompletedAt(ctx context.Context, id int64, t time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if in, ok := r.s.instances[id]; ok {
		in.CompletedAt = &t
	}
	return nil
}

func (r *memInstanceRepo) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.WorkflowInstance
	for _, in := range r.s.instances {
		cp := *in
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memInstanceRepo) ListPendingForUser(ctx context.Context, userID string) ([]*entity.WorkflowInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[int64]bool)
	var out []*entity.WorkflowInstance
	for _, a := range r.sortedAssignments() {
		if a.UserID != userID || a.Status != entity.AssignmentStatusPending {
			continue
		}
		st := r.s.stageInsts[a.StageInstanceID]
		if st == nil || st.Status != entity.StageStatusActive {
			continue
		}
		in := r.s.instances[st.InstanceID]
		if in == nil || in.Status != entity.InstanceStatusInProgress || seen[in.ID] {
			continue
		}
		seen[in.ID] = true
		cp := *in
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memInstanceRepo) sortedAssignments() []*entity.Assignment {
	var out []*entity.Assignment
	for _, a := range r.s.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memStageInstanceRepo implements port.StageInstanceRepository.
type memStageInstanceRepo struct{ s *memStore }

func (r *memStageInstanceRepo) Create(ctx context.Context, stage *entity.StageInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stage.ID = r.s.id()
	cp := *stage
	r.s.stageInsts[stage.ID] = &cp
	return nil
}

func (r *memStageInstanceRepo) GetByID(ctx context.Context, id int64) (*entity.StageInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.stageInsts[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (r *memStageInstanceRepo) GetByInstanceAndIndex(ctx context.Context, instanceID int64, orderIndex int) (*entity.StageInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.stageInsts {
		if st.InstanceID == instanceID && st.OrderIndex == orderIndex {
			cp := *st
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memStageInstanceRepo) GetActiveByInstance(ctx context.Context, instanceID int64) (*entity.StageInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.stageInsts {
		if st.InstanceID == instanceID && st.Status == entity.StageStatusActive {
			cp := *st
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memStageInstanceRepo) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.StageInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.StageInstance
	for _, st := range r.s.stageInsts {
		if st.InstanceID == instanceID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (r *memStageInstanceRepo) Activate(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if st, ok := r.s.stageInsts[id]; ok {
		st.Status = entity.StageStatusActive
		st.ActivatedAt = &at
	}
	return nil
}

func (r *memStageInstanceRepo) Complete(ctx context.Context, id int64, status string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if st, ok := r.s.stageInsts[id]; ok {
		st.Status = status
		st.CompletedAt = &at
	}
	return nil
}

// memAssignmentRepo implements port.AssignmentRepository.
type memAssignmentRepo struct{ s *memStore }

func (r *memAssignmentRepo) Create(ctx context.Context, assignment *entity.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	assignment.ID = r.s.id()
	cp := *assignment
	r.s.assignments[assignment.ID] = &cp
	return nil
}

func (r *memAssignmentRepo) GetByID(ctx context.Context, id int64) (*entity.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.assignments[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *memAssignmentRepo) GetByStageInstanceID(ctx context.Context, stageInstanceID int64) ([]*entity.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Assignment
	for _, a := range r.s.assignments {
		if a.StageInstanceID == stageInstanceID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memAssignmentRepo) GetByStageAndUser(ctx context.Context, stageInstanceID int64, userID string) (*entity.Assignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assignments {
		if a.StageInstanceID == stageInstanceID && a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memAssignmentRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.assignments[id]; ok {
		a.Status = status
	}
	return nil
}

func (r *memAssignmentRepo) MarkPendingSkipped(ctx context.Context, stageInstanceID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assignments {
		if a.StageInstanceID == stageInstanceID && a.Status == entity.AssignmentStatusPending {
			a.Status = entity.AssignmentStatusSkipped
		}
	}
	return nil
}

func (r *memAssignmentRepo) GetPendingByUser(ctx context.Context, userID string) ([]*port.PendingApproval, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []int64
	for id := range r.s.assignments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*port.PendingApproval
	for _, id := range ids {
		a := r.s.assignments[id]
		if a.UserID != userID || a.Status != entity.AssignmentStatusPending {
			continue
		}
		st := r.s.stageInsts[a.StageInstanceID]
		if st == nil || st.Status != entity.StageStatusActive {
			continue
		}
		in := r.s.instances[st.InstanceID]
		if in == nil || in.Status != entity.InstanceStatusInProgress {
			continue
		}
		out = append(out, &port.PendingApproval{
			AssignmentID: a.ID,
			InstanceID:   in.ID,
			TargetType:   in.TargetType,
			TargetID:     in.TargetID,
			StageName:    st.Name,
			OrderIndex:   st.OrderIndex,
			RoleSnapshot: a.RoleSnapshot,
			AssignedAt:   a.CreatedAt,
		})
	}
	return out, nil
}

// memActionRepo implements port.ActionRepository.
type memActionRepo struct{ s *memStore }

func (r *memActionRepo) Create(ctx context.Context, action *entity.Action) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	action.ID = r.s.id()
	cp := *action
	r.s.actions = append(r.s.actions, &cp)
	return nil
}

func (r *memActionRepo) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Action
	for _, a := range r.s.actions {
		if a.InstanceID == instanceID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memTxManager runs the function directly; the fakes have no transactions.
type memTxManager struct{}

func (m *memTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memResolver resolves roles from a mutable map so tests can change
// membership between activations.
type memResolver struct {
	mu    sync.Mutex
	roles map[string][]string
}

func (r *memResolver) ResolveRole(ctx context.Context, role string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roles[role]...), nil
}

func (r *memResolver) set(role string, users ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role] = users
}

type nopLogger struct{}

func (l *nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (l *nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// recordingDispatcher captures events synchronously so tests can assert on
// the post-commit stream without goroutine coordination.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (d *recordingDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.record(evt)
	return nil
}

func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.record(evt)
}

func (d *recordingDispatcher) Close() error { return nil }

func (d *recordingDispatcher) record(evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *recordingDispatcher) types() []event.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []event.Type
	for _, evt := range d.events {
		out = append(out, evt.Type)
	}
	return out
}

func newTestManager(store *memStore, resolver *memResolver, opts ...ManagerOption) ApprovalManager {
	return NewApprovalManager(
		&memTemplateRepo{store},
		&memStageTemplateRepo{store},
		&memInstanceRepo{store},
		&memStageInstanceRepo{store},
		&memAssignmentRepo{store},
		&memActionRepo{store},
		&memTxManager{},
		resolver,
		&nopLogger{},
		opts...,
	)
}
