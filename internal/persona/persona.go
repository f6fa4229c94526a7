// Package persona defines the assistant's identity and prompt template.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultName     = "Vryxia"
	DefaultGreeting = "Halo! Aku Vryxia. Ada yang bisa kubantu hari ini?"
	// DefaultPromptTemplate wraps the user's text in quotes after the persona instruction.
	DefaultPromptTemplate = `Kamu adalah Vryxia, asisten AI yang ramah, ceria, dan sopan. Jawablah dalam bahasa Indonesia dengan singkat dan hangat. Pengguna berkata: "%s"`
	// DefaultFallback is the assistant reply used whenever a request fails.
	DefaultFallback = "Maaf, sepertinya ada sedikit masalah dengan koneksiku saat ini."
)

var errBadTemplate = errors.New("prompt_template must contain exactly one %s verb")

// Persona is the assistant identity prepended to every prompt.
type Persona struct {
	Name           string `yaml:"name" json:"name"`
	Greeting       string `yaml:"greeting" json:"greeting"`
	PromptTemplate string `yaml:"prompt_template" json:"-"`
	Fallback       string `yaml:"fallback" json:"-"`
}

// Default returns the built-in persona.
func Default() Persona {
	return Persona{
		Name:           DefaultName,
		Greeting:       DefaultGreeting,
		PromptTemplate: DefaultPromptTemplate,
		Fallback:       DefaultFallback,
	}
}

// Load reads a YAML persona file. Fields missing from the file keep their
// defaults. An empty path returns Default().
func Load(path string) (Persona, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}

	var override Persona
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}

	if override.Name != "" {
		p.Name = override.Name
	}
	if override.Greeting != "" {
		p.Greeting = override.Greeting
	}
	if override.PromptTemplate != "" {
		p.PromptTemplate = override.PromptTemplate
	}
	if override.Fallback != "" {
		p.Fallback = override.Fallback
	}

	if err := p.Validate(); err != nil {
		return Persona{}, fmt.Errorf("invalid persona file %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the prompt template can be interpolated.
func (p Persona) Validate() error {
	if strings.Count(p.PromptTemplate, "%s") != 1 {
		return errBadTemplate
	}
	if strings.Count(strings.ReplaceAll(p.PromptTemplate, "%%", ""), "%") != 1 {
		return errBadTemplate
	}
	return nil
}

// Prompt embeds the user's text verbatim into the template.
func (p Persona) Prompt(text string) string {
	return fmt.Sprintf(p.PromptTemplate, text)
}
