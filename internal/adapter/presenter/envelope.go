package presenter

import (
	"errors"
	"fmt"
	"io"

	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// Output formats
const (
	FormatCLI  = "cli"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// NewPresenter creates a presenter for the given format
func NewPresenter(format string, w io.Writer) (output.Presenter, error) {
	switch format {
	case FormatCLI, "":
		return NewCLIPresenter(w), nil
	case FormatJSON:
		return NewJSONPresenter(w), nil
	case FormatYAML:
		return NewYAMLPresenter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (supported: cli, json, yaml)", format)
	}
}

// envelope is the structured document written by the JSON and YAML presenters
type envelope struct {
	Success bool        `json:"success" yaml:"success"`
	Message string      `json:"message,omitempty" yaml:"message,omitempty"`
	Data    interface{} `json:"data,omitempty" yaml:"data,omitempty"`
	Error   *ErrorView  `json:"error,omitempty" yaml:"error,omitempty"`
}

// ErrorView is the structured form of an error
type ErrorView struct {
	Code      string                 `json:"code,omitempty" yaml:"code,omitempty"`
	Message   string                 `json:"message" yaml:"message"`
	Step      string                 `json:"step,omitempty" yaml:"step,omitempty"`
	Retryable bool                   `json:"retryable" yaml:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// describeError flattens a workflow error into its code, step and retry affordance
func describeError(err error) *ErrorView {
	var wfErr workflow.WorkflowError
	if !errors.As(err, &wfErr) {
		return &ErrorView{Message: err.Error()}
	}
	return &ErrorView{
		Code:      wfErr.Code,
		Message:   err.Error(),
		Step:      wfErr.Step.String(),
		Retryable: wfErr.Retryable,
		Details:   wfErr.Details,
	}
}

type progress struct {
	Type     string  `json:"type" yaml:"type"`
	Message  string  `json:"message" yaml:"message"`
	Progress int     `json:"progress" yaml:"progress"`
	Total    int     `json:"total" yaml:"total"`
	Percent  float64 `json:"percent" yaml:"percent"`
}

func newProgress(message string, current, total int) progress {
	p := progress{Type: "progress", Message: message, Progress: current, Total: total}
	if total > 0 {
		p.Percent = float64(current) / float64(total) * 100
	}
	return p
}
