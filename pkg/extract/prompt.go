package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
)

const systemPrompt = "You are an expert construction project analyst. You read daily site updates " +
	"from site supervisors and return structured JSON. Respond with a single JSON object and nothing else."

const defaultUserTemplate = `Analyse this daily site progress update{{if .SiteName}} for {{.SiteName}}{{end}}.
{{range .Notes}}
{{.Label}}: {{.Value}}{{end}}

Conversation transcript:
{{.Transcript}}

Return a JSON object with exactly these keys:
- "summary_brief": one or two sentences for a dashboard.
- "summary_detailed": a full paragraph covering progress, issues and next steps.
- "main_focus", "materials_delivered", "work_progress", "issues", "delays", "staffing",
  "site_visitors", "site_conditions", "follow_up_actions": short text taken from the
  update, or null when not mentioned.
- "is_wet_weather_closure": true only if the site closed because of rain or weather.
- "has_urgent_issues": true if anything needs attention today.
- "has_safety_concerns": true if any safety hazard, incident or near miss was mentioned.
- "has_delays": true if any work is behind schedule.
- "has_material_issues": true if deliveries were late, short, damaged or wrong.
- "extracted_action_items": array of {"action", "priority" (high|medium|low), "deadline" (string or null), "assigned_to" (string or null)}.
- "identified_blockers": array of {"blocker_type", "description", "impact", "estimated_resolution" (string or null)}.
- "flagged_concerns": array of {"concern_type", "severity" (high|medium|low), "description"}.
Use empty arrays when there is nothing to report.`

// Prompt holds the user prompt template. It can be swapped at runtime from
// an override file.
type Prompt struct {
	mu   sync.RWMutex
	tmpl *template.Template
}

// NewPrompt returns the built-in prompt.
func NewPrompt() *Prompt {
	return &Prompt{tmpl: template.Must(template.New("extract").Parse(defaultUserTemplate))}
}

// LoadFile replaces the template with the contents of path. The current
// template is kept when the file does not parse.
func (p *Prompt) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tmpl, err := template.New("extract").Parse(string(raw))
	if err != nil {
		return fmt.Errorf("parse prompt %s: %w", path, err)
	}
	p.mu.Lock()
	p.tmpl = tmpl
	p.mu.Unlock()
	return nil
}

func (p *Prompt) render(in Input) (string, error) {
	p.mu.RLock()
	tmpl := p.tmpl
	p.mu.RUnlock()
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, in); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Watch loads path and reloads it whenever it changes, until ctx is done.
func (p *Prompt) Watch(ctx context.Context, path string) error {
	if err := p.LoadFile(path); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// editors replace files on save, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target || evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := p.LoadFile(path); err != nil {
					slog.Warn("extraction prompt reload failed", "path", path, "error", err)
					continue
				}
				slog.Info("extraction prompt reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("prompt watcher error", "error", err)
			}
		}
	}()
	return nil
}
