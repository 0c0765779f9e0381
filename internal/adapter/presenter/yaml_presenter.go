package presenter

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
)

// YAMLPresenter implements output.Presenter for YAML output.
// Each call writes one YAML document.
type YAMLPresenter struct {
	output io.Writer
}

// NewYAMLPresenter creates a new YAML presenter
func NewYAMLPresenter(output io.Writer) output.Presenter {
	return &YAMLPresenter{output: output}
}

func (p *YAMLPresenter) encode(v interface{}) error {
	enc := yaml.NewEncoder(p.output)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// PresentSuccess presents a successful result as YAML
func (p *YAMLPresenter) PresentSuccess(message string, data interface{}) error {
	return p.encode(envelope{Success: true, Message: message, Data: data})
}

// PresentError presents an error as YAML
func (p *YAMLPresenter) PresentError(err error) error {
	return p.encode(envelope{Success: false, Error: describeError(err)})
}

// PresentProgress presents progress information as YAML
func (p *YAMLPresenter) PresentProgress(message string, progress int, total int) error {
	return p.encode(newProgress(message, progress, total))
}
