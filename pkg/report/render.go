package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/matcher"
	"github.com/cratewatch/cratewatch/pkg/shared/severity"
)

// Format selects a renderer.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Renderer writes a report to a stream.
type Renderer struct {
	format Format

	// minSeverity hides findings below the threshold in text output.
	// JSON output always carries the full report.
	minSeverity severity.Level
}

// RenderOption configures a renderer.
type RenderOption func(*Renderer)

// WithMinSeverity hides text-mode findings below the given level.
func WithMinSeverity(level severity.Level) RenderOption {
	return func(r *Renderer) {
		r.minSeverity = level
	}
}

// NewRenderer creates a renderer for the given format.
func NewRenderer(format Format, opts ...RenderOption) (*Renderer, error) {
	switch format {
	case FormatText, FormatJSON:
	default:
		return nil, errors.E(errors.KindInternal, "report.NewRenderer",
			fmt.Sprintf("unknown output format %q", format))
	}
	r := &Renderer{format: format, minSeverity: severity.Unknown}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Render writes the report.
func (r *Renderer) Render(w io.Writer, rep *Report) error {
	if r.format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return r.renderText(w, rep)
}

func (r *Renderer) renderText(w io.Writer, rep *Report) error {
	var b strings.Builder

	fmt.Fprintf(&b, "cratewatch scan %s\n", rep.ScanID)
	fmt.Fprintf(&b, "project: %s (%s)\n", rep.Project, rep.ManifestPath)
	fmt.Fprintf(&b, "graph: %d packages, %d edges", rep.Stats.Nodes, rep.Stats.Edges)
	if rep.Stats.InferredNodes > 0 {
		fmt.Fprintf(&b, " (%d inferred)", rep.Stats.InferredNodes)
	}
	b.WriteString("\n\n")

	if len(rep.Direct) > 0 {
		fmt.Fprintf(&b, "direct dependencies (%d):\n", len(rep.Direct))
		for _, d := range rep.Direct {
			fmt.Fprintf(&b, "  %s %s", d.Name, d.Requirement)
			if d.Locked != "" {
				fmt.Fprintf(&b, " -> %s", d.Locked)
			}
			if d.Kind != "normal" {
				fmt.Fprintf(&b, " [%s]", d.Kind)
			}
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	if len(rep.Violations) > 0 {
		fmt.Fprintf(&b, "violations (%d):\n", len(rep.Violations))
		for _, v := range rep.Violations {
			fmt.Fprintf(&b, "  %s: %s\n", v.Package, v.Message)
		}
		b.WriteByte('\n')
	}

	if len(rep.Warnings) > 0 {
		fmt.Fprintf(&b, "deep scan warnings (%d):\n", len(rep.Warnings))
		for _, warning := range rep.Warnings {
			fmt.Fprintf(&b, "  %s: %s\n", warning.Package, warning.Message)
		}
		b.WriteByte('\n')
	}

	findings := r.visibleFindings(rep.Findings)
	if len(findings) > 0 {
		fmt.Fprintf(&b, "vulnerabilities (%d):\n", len(findings))
		for _, f := range findings {
			fmt.Fprintf(&b, "  [%s] %s@%s: %s (%s)\n",
				strings.ToUpper(f.Severity.String()), f.Package, f.Version, f.AdvisoryID, f.MatchedRange)
			if f.Description != "" {
				fmt.Fprintf(&b, "      %s\n", f.Description)
			}
			if f.Patched != "" {
				fmt.Fprintf(&b, "      fix available in version %s\n", f.Patched)
			}
			if len(f.Path) > 1 {
				fmt.Fprintf(&b, "      via %s\n", strings.Join(f.Path, " -> "))
			}
		}
		b.WriteByte('\n')
	}

	if len(rep.Issues) > 0 {
		fmt.Fprintf(&b, "audit issues (%d):\n", len(rep.Issues))
		for _, issue := range rep.Issues {
			b.WriteString("  [" + strings.ToUpper(issue.Severity.String()) + "] ")
			if issue.Package != "" {
				b.WriteString(issue.Package + ": ")
			}
			b.WriteString(issue.Message + "\n")
		}
		b.WriteByte('\n')
	}

	if rep.HasProblems() {
		fmt.Fprintf(&b, "summary: %d finding(s), %d violation(s), highest severity %s\n",
			len(rep.Findings), len(rep.Violations), rep.Highest())
	} else {
		b.WriteString("summary: no known vulnerabilities\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// visibleFindings filters by the severity floor. Unknown-severity findings
// always stay visible.
func (r *Renderer) visibleFindings(findings []matcher.Finding) []matcher.Finding {
	if r.minSeverity == severity.Unknown {
		return findings
	}
	var out []matcher.Finding
	for _, f := range findings {
		if f.Severity == severity.Unknown || f.Severity.IsAtLeast(r.minSeverity) {
			out = append(out, f)
		}
	}
	return out
}
