package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
)

// MockGateway is a scripted GenerationGateway for local runs without the
// workflow service. Output is deterministic for a given request.
type MockGateway struct {
	mu           sync.Mutex
	pendingPolls int
	jobs         map[output.GenerationHandle]*mockJob
	nextJob      int
}

type mockJob struct {
	polls   int
	content string
}

var _ output.GenerationGateway = (*MockGateway)(nil)

// NewMockGateway creates a mock gateway. Module generations report pending
// for pendingPolls polls before completing.
func NewMockGateway(pendingPolls int) *MockGateway {
	return &MockGateway{
		pendingPolls: pendingPolls,
		jobs:         make(map[output.GenerationHandle]*mockJob),
	}
}

// GenerateSpecification returns a markdown specification naming the module and version
func (g *MockGateway) GenerateSpecification(ctx context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error) {
	m := req.Module
	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s\n\n", m.ModuleName, m.ModuleVersion)
	fmt.Fprintf(&b, "Target: Odoo %s (%s)\n", m.OdooVersion, m.OdooEdition)
	if len(m.Depends) > 0 {
		fmt.Fprintf(&b, "Depends: %s\n", strings.Join(m.Depends, ", "))
	}
	fmt.Fprintf(&b, "\n## Requirements\n\n%s\n", strings.TrimSpace(req.Requirements))
	return &output.GeneratedContent{
		Content:  b.String(),
		RemoteID: "spec-" + req.SessionID.String(),
		Metadata: map[string]string{"mock": "true"},
	}, nil
}

// ReviseSpecification appends the feedback to the current specification
func (g *MockGateway) ReviseSpecification(ctx context.Context, req output.RevisionRequest) (*output.GeneratedContent, error) {
	return revised(req), nil
}

// GenerateDevelopmentPlan returns a plan derived from the specification title
func (g *MockGateway) GenerateDevelopmentPlan(ctx context.Context, req output.DevelopmentPlanRequest) (*output.GeneratedContent, error) {
	m := req.Module
	content := fmt.Sprintf("# Development plan: %s %s\n\n1. Models\n2. Views\n3. Security\n4. Tests\n", m.ModuleName, m.ModuleVersion)
	return &output.GeneratedContent{
		Content:  content,
		RemoteID: "plan-" + req.SessionID.String(),
		Metadata: map[string]string{"mock": "true"},
	}, nil
}

// ReviseDevelopmentPlan appends the feedback to the current plan
func (g *MockGateway) ReviseDevelopmentPlan(ctx context.Context, req output.RevisionRequest) (*output.GeneratedContent, error) {
	return revised(req), nil
}

// GenerateModule registers a job that completes after the configured polls
func (g *MockGateway) GenerateModule(ctx context.Context, req output.ModuleRequest) (output.GenerationHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextJob++
	handle := output.GenerationHandle(fmt.Sprintf("mock-%s-%d", req.SessionID, g.nextJob))

	m := req.Module
	var b strings.Builder
	fmt.Fprintf(&b, "%s/__manifest__.py\n", m.ModuleName)
	fmt.Fprintf(&b, "%s/__init__.py\n", m.ModuleName)
	fmt.Fprintf(&b, "%s/models/__init__.py\n", m.ModuleName)
	fmt.Fprintf(&b, "%s/security/ir.model.access.csv\n", m.ModuleName)
	if req.Feedback != "" {
		fmt.Fprintf(&b, "\nApplied feedback: %s\n", req.Feedback)
	}
	g.jobs[handle] = &mockJob{content: b.String()}
	return handle, nil
}

// PollGenerationStatus reports pending until the job has been polled enough
func (g *MockGateway) PollGenerationStatus(ctx context.Context, handle output.GenerationHandle) (*output.GenerationStatusReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	job, ok := g.jobs[handle]
	if !ok {
		return &output.GenerationStatusReport{
			Status:  output.GenerationFailed,
			Message: fmt.Sprintf("unknown generation %s", handle),
		}, nil
	}
	job.polls++
	if job.polls <= g.pendingPolls {
		return &output.GenerationStatusReport{
			Status:  output.GenerationPending,
			Message: fmt.Sprintf("generating (%d/%d)", job.polls, g.pendingPolls+1),
		}, nil
	}
	return &output.GenerationStatusReport{Status: output.GenerationCompleted, Content: job.content}, nil
}

// RunAutomatedTests reports a passing run
func (g *MockGateway) RunAutomatedTests(ctx context.Context, req output.TestRequest) (*output.TestResults, error) {
	return &output.TestResults{
		Content: fmt.Sprintf("Ran 4 tests for %s\n\nOK", req.Module.ModuleName),
		Passed:  4,
		Success: true,
	}, nil
}

func revised(req output.RevisionRequest) *output.GeneratedContent {
	content := strings.TrimRight(req.CurrentContent, "\n") + "\n\n## Revision\n\n" + strings.TrimSpace(req.Feedback) + "\n"
	return &output.GeneratedContent{Content: content, RemoteID: req.RemoteID, Metadata: map[string]string{"mock": "true"}}
}
