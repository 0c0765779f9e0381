package presenter_test

import (
	"bytes"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/odoogen/internal/adapter/presenter"
	"github.com/YoshitsuguKoike/odoogen/internal/application/dto"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

func TestYAMLPresenter_PresentSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	p := presenter.NewYAMLPresenter(buf)

	history := []dto.ArtifactDTO{
		{Step: "SPECIFICATION", Version: 1, Content: "v1"},
		{Step: "SPECIFICATION", Version: 2, Content: "v2"},
	}
	if err := p.PresentSuccess("History", history); err != nil {
		t.Fatalf("PresentSuccess() error = %v", err)
	}

	var result struct {
		Success bool              `yaml:"success"`
		Message string            `yaml:"message"`
		Data    []dto.ArtifactDTO `yaml:"data"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode YAML: %v\n%s", err, buf.String())
	}

	if !result.Success || result.Message != "History" {
		t.Errorf("Unexpected envelope: %+v", result)
	}
	if len(result.Data) != 2 || result.Data[1].Version != 2 || result.Data[1].Content != "v2" {
		t.Errorf("Unexpected data: %+v", result.Data)
	}
}

func TestYAMLPresenter_PresentError(t *testing.T) {
	buf := &bytes.Buffer{}
	p := presenter.NewYAMLPresenter(buf)

	if err := p.PresentError(workflow.ErrRevisionLimitExceeded.WithStep(workflow.StepDevelopmentPlan)); err != nil {
		t.Fatalf("PresentError() error = %v", err)
	}

	var result struct {
		Success bool                `yaml:"success"`
		Error   presenter.ErrorView `yaml:"error"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode YAML: %v", err)
	}
	if result.Success {
		t.Error("Expected success=false")
	}
	if result.Error.Code != "REVISION_LIMIT_EXCEEDED" || result.Error.Step != "DEVELOPMENT_PLAN" {
		t.Errorf("Unexpected error view: %+v", result.Error)
	}
}

func TestNewPresenter(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{"", false},
		{"cli", false},
		{"json", false},
		{"yaml", false},
		{"xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			p, err := presenter.NewPresenter(tt.format, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPresenter(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
			}
			if !tt.wantErr && p == nil {
				t.Error("Expected presenter")
			}
		})
	}
}
