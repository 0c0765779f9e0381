package workflow

import (
	"fmt"
	"strings"
)

// Step represents one ordered stage of the module generation workflow
type Step string

const (
	StepRequirements    Step = "REQUIREMENTS"     // Step 1
	StepSpecification   Step = "SPECIFICATION"    // Step 2
	StepDevelopmentPlan Step = "DEVELOPMENT_PLAN" // Step 3
	StepModuleOutput    Step = "MODULE_OUTPUT"    // Step 4
	StepOdooTesting     Step = "ODOO_TESTING"     // Step 5
)

var orderedSteps = []Step{
	StepRequirements,
	StepSpecification,
	StepDevelopmentPlan,
	StepModuleOutput,
	StepOdooTesting,
}

// Steps returns all steps in workflow order
func Steps() []Step {
	steps := make([]Step, len(orderedSteps))
	copy(steps, orderedSteps)
	return steps
}

// FirstStep returns the entry step of every session
func FirstStep() Step {
	return orderedSteps[0]
}

// ParseStep converts user input such as "specification", "development-plan"
// or "DEVELOPMENT_PLAN" into a Step
func ParseStep(s string) (Step, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	step := Step(normalized)
	if !step.IsValid() {
		return "", ErrInvalidInput.WithMessage(fmt.Sprintf("unknown step: %q", s))
	}
	return step, nil
}

// String returns the string representation of the step
func (s Step) String() string {
	return string(s)
}

// Index returns the zero-based position of the step, or -1 if invalid
func (s Step) Index() int {
	for i, step := range orderedSteps {
		if step == s {
			return i
		}
	}
	return -1
}

// Number returns the 1-based step number shown to users
func (s Step) Number() int {
	return s.Index() + 1
}

// IsValid returns true if the step is part of the workflow
func (s Step) IsValid() bool {
	return s.Index() >= 0
}

// Next returns the following step; ok is false for the terminal step
func (s Step) Next() (next Step, ok bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(orderedSteps) {
		return "", false
	}
	return orderedSteps[i+1], true
}

// Previous returns the preceding step; ok is false for the first step
func (s Step) Previous() (prev Step, ok bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return orderedSteps[i-1], true
}

// After reports whether s comes strictly later in the workflow than other
func (s Step) After(other Step) bool {
	return s.Index() > other.Index()
}

// IsTerminal returns true for the last workflow step
func (s Step) IsTerminal() bool {
	_, ok := s.Next()
	return s.IsValid() && !ok
}

// IsGenerated returns true if the step content is produced by a remote service
func (s Step) IsGenerated() bool {
	switch s {
	case StepSpecification, StepDevelopmentPlan, StepModuleOutput, StepOdooTesting:
		return true
	default:
		return false
	}
}

// IsRevisable returns true if feedback-driven regeneration is supported
func (s Step) IsRevisable() bool {
	switch s {
	case StepSpecification, StepDevelopmentPlan, StepModuleOutput:
		return true
	default:
		return false
	}
}

// Title returns a human readable label for the step
func (s Step) Title() string {
	switch s {
	case StepRequirements:
		return "Requirements"
	case StepSpecification:
		return "Specification"
	case StepDevelopmentPlan:
		return "Development Plan"
	case StepModuleOutput:
		return "Module Output"
	case StepOdooTesting:
		return "Odoo Testing"
	default:
		return "Unknown"
	}
}
