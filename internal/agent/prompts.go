package agent

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/opsagent/internal/domain"
)

//go:embed prompts.yaml
var promptCatalog []byte

// Prompt names in the catalog.
const (
	promptRouter       = "router"
	promptSimpleSystem = "simple_system"
	promptBreaker      = "breaker"
	promptOrchestrator = "orchestrator"
	promptWorkerSystem = "worker_system"
	promptSummarize    = "summarize"
	promptSynthesizer  = "synthesizer"
)

// Prompts renders the prompt catalog.
type Prompts struct {
	templates map[string]*template.Template
}

// LoadPrompts parses the embedded catalog.
func LoadPrompts() (*Prompts, error) {
	return ParsePrompts(promptCatalog)
}

// ParsePrompts parses a YAML mapping of prompt name to template text.
func ParsePrompts(data []byte) (*Prompts, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	p := &Prompts{templates: make(map[string]*template.Template, len(raw))}
	for name, text := range raw {
		tmpl, err := template.New(name).
			Funcs(sprig.TxtFuncMap()).
			Option("missingkey=error").
			Parse(text)
		if err != nil {
			return nil, fmt.Errorf("prompt %s: %w", name, err)
		}
		p.templates[name] = tmpl
	}
	return p, nil
}

// Render executes the named prompt with data.
func (p *Prompts) Render(name string, data any) (string, error) {
	tmpl, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// Has reports whether the catalog defines name.
func (p *Prompts) Has(name string) bool {
	_, ok := p.templates[name]
	return ok
}

// guide returns the tool guide of a specialist, or "" when none is defined.
func (p *Prompts) guide(key domain.SpecialistKey) string {
	name := "guide_" + string(key)
	if !p.Has(name) {
		return ""
	}
	text, err := p.Render(name, nil)
	if err != nil {
		return ""
	}
	return text
}

func mustLoadPrompts() *Prompts {
	p, err := LoadPrompts()
	if err != nil {
		panic(err)
	}
	return p
}
