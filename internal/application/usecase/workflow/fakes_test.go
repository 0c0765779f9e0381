package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
	domain "github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// memorySessions stores encoded snapshots so tests can compare bytes
type memorySessions struct {
	mu       sync.Mutex
	data     map[string][]byte
	saves    int
	saveFunc func(s *domain.Session) error
}

func newMemorySessions() *memorySessions {
	return &memorySessions{data: make(map[string][]byte)}
}

func (m *memorySessions) Load(ctx context.Context, key string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return domain.DecodeSnapshot(raw)
}

func (m *memorySessions) Save(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveFunc != nil {
		if err := m.saveFunc(s); err != nil {
			return err
		}
	}
	if raw, ok := m.data[s.Key]; ok {
		stored, err := domain.DecodeSnapshot(raw)
		if err == nil && s.LastSavedAt.Before(stored.LastSavedAt) {
			return nil
		}
	}
	data, err := domain.EncodeSnapshot(s)
	if err != nil {
		return err
	}
	m.data[s.Key] = data
	m.saves++
	return nil
}

func (m *memorySessions) Clear(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memorySessions) raw(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data[key]...)
}

// failSaves makes every save of a session matching when fail with err.
// A nil when matches every session.
func (m *memorySessions) failSaves(err error, when func(s *domain.Session) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.saveFunc = nil
		return
	}
	m.saveFunc = func(s *domain.Session) error {
		if when == nil || when(s) {
			return err
		}
		return nil
	}
}

// memoryArtifacts is an append-only in-memory artifact history
type memoryArtifacts struct {
	mu       sync.Mutex
	data     map[domain.ArtifactKey][]domain.Artifact
	reverted int
}

func newMemoryArtifacts() *memoryArtifacts {
	return &memoryArtifacts{data: make(map[domain.ArtifactKey][]domain.Artifact)}
}

func (m *memoryArtifacts) Append(ctx context.Context, key domain.ArtifactKey, content string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	version := len(m.data[key]) + 1
	m.data[key] = append(m.data[key], domain.Artifact{
		Key:       key,
		Version:   version,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return version, nil
}

func (m *memoryArtifacts) Get(ctx context.Context, key domain.ArtifactKey, version int) (*domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.data[key]
	if version == 0 {
		version = len(history)
	}
	if version < 1 || version > len(history) {
		return nil, domain.ErrVersionNotFound
	}
	a := history[version-1]
	return &a, nil
}

func (m *memoryArtifacts) History(ctx context.Context, key domain.ArtifactKey) ([]domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Artifact(nil), m.data[key]...), nil
}

func (m *memoryArtifacts) LatestVersion(ctx context.Context, key domain.ArtifactKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[key]), nil
}

func (m *memoryArtifacts) Revert(ctx context.Context, key domain.ArtifactKey, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.data[key]
	if len(history) == version {
		m.data[key] = history[:version-1]
		m.reverted++
	}
	return nil
}

// appendOnlyArtifacts hides Revert from the engine
type appendOnlyArtifacts struct {
	inner *memoryArtifacts
}

func (a appendOnlyArtifacts) Append(ctx context.Context, key domain.ArtifactKey, content string) (int, error) {
	return a.inner.Append(ctx, key, content)
}

func (a appendOnlyArtifacts) Get(ctx context.Context, key domain.ArtifactKey, version int) (*domain.Artifact, error) {
	return a.inner.Get(ctx, key, version)
}

func (a appendOnlyArtifacts) History(ctx context.Context, key domain.ArtifactKey) ([]domain.Artifact, error) {
	return a.inner.History(ctx, key)
}

func (a appendOnlyArtifacts) LatestVersion(ctx context.Context, key domain.ArtifactKey) (int, error) {
	return a.inner.LatestVersion(ctx, key)
}

// passthroughTx runs the function without a real transaction
type passthroughTx struct{}

func (passthroughTx) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// fakeGateway counts calls and produces deterministic content. Func hooks
// override the default behaviour of single operations.
type fakeGateway struct {
	SpecFunc   func(ctx context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error)
	ReviseFunc func(ctx context.Context, req output.RevisionRequest) (*output.GeneratedContent, error)
	PollFunc   func(ctx context.Context, handle output.GenerationHandle, attempt int) (*output.GenerationStatusReport, error)
	TestFunc   func(ctx context.Context, req output.TestRequest) (*output.TestResults, error)

	mu       sync.Mutex
	calls    map[string]int
	requests []output.RequestContext
	modules  []output.ModuleRequest
	tests    []output.TestRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(map[string]int)}
}

func (g *fakeGateway) record(op string, rc output.RequestContext) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	g.requests = append(g.requests, rc)
	return g.calls[op]
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *fakeGateway) lastRequest() output.RequestContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func (g *fakeGateway) GenerateSpecification(ctx context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error) {
	n := g.record("GenerateSpecification", req.RequestContext)
	if g.SpecFunc != nil {
		return g.SpecFunc(ctx, req)
	}
	return &output.GeneratedContent{
		Content:  fmt.Sprintf("# %s %s\n\n%s\n", req.Module.ModuleName, req.Module.ModuleVersion, req.Requirements),
		RemoteID: fmt.Sprintf("spec-%d", n),
	}, nil
}

func (g *fakeGateway) ReviseSpecification(ctx context.Context, req output.RevisionRequest) (*output.GeneratedContent, error) {
	n := g.record("ReviseSpecification", req.RequestContext)
	if g.ReviseFunc != nil {
		return g.ReviseFunc(ctx, req)
	}
	return &output.GeneratedContent{
		Content:  fmt.Sprintf("%s\n## Revision %d\n%s\n", req.CurrentContent, n, req.Feedback),
		RemoteID: req.RemoteID,
	}, nil
}

func (g *fakeGateway) GenerateDevelopmentPlan(ctx context.Context, req output.DevelopmentPlanRequest) (*output.GeneratedContent, error) {
	g.record("GenerateDevelopmentPlan", req.RequestContext)
	return &output.GeneratedContent{Content: "plan for " + req.Module.ModuleName}, nil
}

func (g *fakeGateway) ReviseDevelopmentPlan(ctx context.Context, req output.RevisionRequest) (*output.GeneratedContent, error) {
	g.record("ReviseDevelopmentPlan", req.RequestContext)
	return &output.GeneratedContent{Content: req.CurrentContent + "\n" + req.Feedback}, nil
}

func (g *fakeGateway) GenerateModule(ctx context.Context, req output.ModuleRequest) (output.GenerationHandle, error) {
	n := g.record("GenerateModule", req.RequestContext)
	g.mu.Lock()
	g.modules = append(g.modules, req)
	g.mu.Unlock()
	return output.GenerationHandle(fmt.Sprintf("job-%d", n)), nil
}

func (g *fakeGateway) PollGenerationStatus(ctx context.Context, handle output.GenerationHandle) (*output.GenerationStatusReport, error) {
	g.mu.Lock()
	g.calls["PollGenerationStatus"]++
	attempt := g.calls["PollGenerationStatus"]
	g.mu.Unlock()
	if g.PollFunc != nil {
		return g.PollFunc(ctx, handle, attempt)
	}
	return &output.GenerationStatusReport{
		Status:  output.GenerationCompleted,
		Content: fmt.Sprintf("module files for %s", handle),
	}, nil
}

func (g *fakeGateway) RunAutomatedTests(ctx context.Context, req output.TestRequest) (*output.TestResults, error) {
	g.record("RunAutomatedTests", req.RequestContext)
	g.mu.Lock()
	g.tests = append(g.tests, req)
	g.mu.Unlock()
	if g.TestFunc != nil {
		return g.TestFunc(ctx, req)
	}
	return &output.TestResults{Content: "Ran 12 tests\nOK", Passed: 12, Success: true}, nil
}

// fakeClock advances one second per reading
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}
