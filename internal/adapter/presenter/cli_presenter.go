package presenter

import (
	"fmt"
	"io"
	"strings"

	"github.com/YoshitsuguKoike/odoogen/internal/application/dto"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// CLIPresenter implements output.Presenter for human-readable terminal output
type CLIPresenter struct {
	output io.Writer
}

// NewCLIPresenter creates a new CLI presenter
func NewCLIPresenter(output io.Writer) output.Presenter {
	return &CLIPresenter{output: output}
}

// PresentSuccess presents a successful result
func (p *CLIPresenter) PresentSuccess(message string, data interface{}) error {
	fmt.Fprintf(p.output, "✓ %s\n", message)

	switch v := data.(type) {
	case nil:
	case *dto.SessionDTO:
		fmt.Fprintln(p.output)
		p.presentSession(v)
	case []dto.ArtifactDTO:
		fmt.Fprintln(p.output)
		p.presentHistory(v)
	case *dto.ArtifactDTO:
		fmt.Fprintln(p.output)
		p.presentArtifact(v)
	case []repository.JournalRecord:
		fmt.Fprintln(p.output)
		p.presentJournal(v)
	case string:
		fmt.Fprintf(p.output, "%s\n", v)
	default:
		fmt.Fprintf(p.output, "%+v\n", data)
	}
	return nil
}

// PresentError presents an error
func (p *CLIPresenter) PresentError(err error) error {
	fmt.Fprintf(p.output, "✗ Error: %v\n", err)
	if workflow.IsRetryable(err) {
		fmt.Fprintln(p.output, "  The operation can be retried.")
	}
	if workflow.IsRevisionLimitExceeded(err) {
		fmt.Fprintln(p.output, "  Approve the current version or edit it manually.")
	}
	return err
}

// PresentProgress presents progress information
func (p *CLIPresenter) PresentProgress(message string, progress int, total int) error {
	if total <= 0 {
		fmt.Fprintf(p.output, "\r%s ...", message)
		return nil
	}
	if progress > total {
		progress = total
	}
	percentage := float64(progress) / float64(total) * 100
	bar := strings.Repeat("█", progress) + strings.Repeat("░", total-progress)
	fmt.Fprintf(p.output, "\r%s [%s] %.1f%%", message, bar, percentage)
	return nil
}

func (p *CLIPresenter) presentSession(s *dto.SessionDTO) {
	fmt.Fprintf(p.output, "Session: %s (key %s)\n", s.ID, s.Key)
	fmt.Fprintf(p.output, "Module: %s %s (Odoo %s %s)\n",
		s.Module.ModuleName, s.Module.ModuleVersion, s.Module.OdooVersion, s.Module.OdooEdition)
	if len(s.Module.Depends) > 0 {
		fmt.Fprintf(p.output, "Depends: %s\n", strings.Join(s.Module.Depends, ", "))
	}
	if s.Finished {
		fmt.Fprintln(p.output, "Status: finished")
	}
	fmt.Fprintln(p.output)

	for _, st := range s.Steps {
		marker := " "
		if st.Current {
			marker = "▶"
		}
		fmt.Fprintf(p.output, "%s %d. %-18s %s", marker, st.Number, st.Title, stepState(st))
		if st.Version > 0 {
			fmt.Fprintf(p.output, "  v%d", st.Version)
		}
		if st.RevisionsUsed > 0 || st.RevisionsRemaining > 0 {
			fmt.Fprintf(p.output, "  revisions %d used, %d left", st.RevisionsUsed, st.RevisionsRemaining)
		}
		fmt.Fprintln(p.output)
	}

	if s.ResumeToken != "" {
		fmt.Fprintf(p.output, "\nResume token: %s\n", s.ResumeToken)
	}
}

func stepState(st dto.StepDTO) string {
	switch {
	case st.Completed:
		return "[completed]"
	case st.Approved:
		return "[approved]"
	case st.Version > 0:
		return "[generated]"
	default:
		return "[pending]"
	}
}

func (p *CLIPresenter) presentHistory(history []dto.ArtifactDTO) {
	if len(history) == 0 {
		fmt.Fprintln(p.output, "No versions stored")
		return
	}
	for _, a := range history {
		fmt.Fprintf(p.output, "v%-3d %s  %s\n", a.Version, a.CreatedAt.Format("2006-01-02 15:04:05"), firstLine(a.Content))
	}
}

func (p *CLIPresenter) presentJournal(records []repository.JournalRecord) {
	for _, r := range records {
		fmt.Fprintf(p.output, "%s  %-8s %-9s", r.Timestamp.Format("2006-01-02 15:04:05"), r.Key, r.Op)
		switch {
		case r.FromStep != "":
			fmt.Fprintf(p.output, " %s -> %s", r.FromStep, r.Step)
		case r.Step != "":
			fmt.Fprintf(p.output, " %s", r.Step)
		}
		if r.Version > 0 {
			fmt.Fprintf(p.output, " v%d", r.Version)
		}
		fmt.Fprintln(p.output)
	}
}

func (p *CLIPresenter) presentArtifact(a *dto.ArtifactDTO) {
	fmt.Fprintf(p.output, "%s v%d\n", a.Step, a.Version)
	fmt.Fprintln(p.output, strings.Repeat("─", 40))
	fmt.Fprintln(p.output, strings.TrimRight(a.Content, "\n"))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:60] + "..."
	}
	return s
}
