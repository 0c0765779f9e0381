package presenter

import (
	"encoding/json"
	"io"

	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
)

// JSONPresenter implements output.Presenter for JSON output
// Formats all output as JSON for programmatic consumption
type JSONPresenter struct {
	output io.Writer
}

// NewJSONPresenter creates a new JSON presenter
func NewJSONPresenter(output io.Writer) output.Presenter {
	return &JSONPresenter{output: output}
}

func (p *JSONPresenter) encode(v interface{}) error {
	enc := json.NewEncoder(p.output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PresentSuccess presents a successful result as JSON
func (p *JSONPresenter) PresentSuccess(message string, data interface{}) error {
	return p.encode(envelope{Success: true, Message: message, Data: data})
}

// PresentError presents an error as JSON, with the workflow error code when known
func (p *JSONPresenter) PresentError(err error) error {
	return p.encode(envelope{Success: false, Error: describeError(err)})
}

// PresentProgress presents progress information as JSON
func (p *JSONPresenter) PresentProgress(message string, progress int, total int) error {
	return p.encode(newProgress(message, progress, total))
}
