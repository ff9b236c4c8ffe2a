package skills

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// recognizedKeys is the explicit frontmatter vocabulary. Unknown keys log a
// warning; absent required keys fail loading of that descriptor only.
var recognizedKeys = map[string]struct{}{
	"name":                     {},
	"description":              {},
	"allowed-tools":            {},
	"model":                    {},
	"triggers":                 {},
	"permission-mode":          {},
	"argument-hint":            {},
	"disable-model-invocation": {},
	"hooks":                    {},
}

// ToolList supports a YAML string ("Read, Glob") or sequence form,
// normalizing to a de-duplicated list.
type ToolList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ToolList) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Tag == "!!null" {
		*t = nil
		return nil
	}
	var tools []string
	switch value.Kind {
	case yaml.ScalarNode:
		for _, entry := range strings.Split(value.Value, ",") {
			if tool := strings.TrimSpace(entry); tool != "" {
				tools = append(tools, tool)
			}
		}
	case yaml.SequenceNode:
		for i, entry := range value.Content {
			if entry.Kind != yaml.ScalarNode {
				return fmt.Errorf("allowed-tools[%d]: expected string", i)
			}
			if tool := strings.TrimSpace(entry.Value); tool != "" {
				tools = append(tools, tool)
			}
		}
	default:
		return fmt.Errorf("allowed-tools: expected string or sequence")
	}
	seen := map[string]struct{}{}
	deduped := tools[:0]
	for _, tool := range tools {
		if _, ok := seen[tool]; ok {
			continue
		}
		seen[tool] = struct{}{}
		deduped = append(deduped, tool)
	}
	*t = deduped
	return nil
}

type frontmatter struct {
	Name                   string   `yaml:"name"`
	Description            string   `yaml:"description"`
	AllowedTools           ToolList `yaml:"allowed-tools"`
	Model                  string   `yaml:"model"`
	Triggers               ToolList `yaml:"triggers"`
	ArgumentHint           string   `yaml:"argument-hint"`
	DisableModelInvocation bool     `yaml:"disable-model-invocation"`
}

// LoadDir scans dir for skill files: either <dir>/<name>.md or
// <dir>/<name>/SKILL.md. Broken files are skipped with a warning.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("skills: read dir: %w", err)
	}
	var defs []Definition
	for _, entry := range entries {
		var candidate string
		switch {
		case entry.IsDir():
			candidate = filepath.Join(dir, entry.Name(), "SKILL.md")
		case strings.HasSuffix(entry.Name(), ".md"):
			candidate = filepath.Join(dir, entry.Name())
		default:
			continue
		}
		def, err := parseSkillFile(candidate)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("skills: skipping %s: %v", candidate, err)
			}
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseSkillFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	fmText, err := extractFrontmatter(string(data))
	if err != nil {
		return Definition{}, err
	}
	warnUnknownKeys(path, fmText)

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(fmText), &meta); err != nil {
		return Definition{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		// Default to the file or directory name.
		base := filepath.Base(path)
		if base == "SKILL.md" {
			name = filepath.Base(filepath.Dir(path))
		} else {
			name = strings.TrimSuffix(base, ".md")
		}
	}
	def := Definition{
		Name:                   name,
		Description:            strings.TrimSpace(meta.Description),
		Triggers:               meta.Triggers,
		AllowedTools:           meta.AllowedTools,
		Model:                  strings.TrimSpace(meta.Model),
		ArgumentHint:           strings.TrimSpace(meta.ArgumentHint),
		DisableModelInvocation: meta.DisableModelInvocation,
		Path:                   path,
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func warnUnknownKeys(path, fmText string) {
	var generic map[string]any
	if err := yaml.Unmarshal([]byte(fmText), &generic); err != nil {
		return
	}
	for key := range generic {
		if _, ok := recognizedKeys[key]; !ok {
			log.Printf("skills: %s: unknown frontmatter key %q", filepath.Base(path), key)
		}
	}
}

func extractFrontmatter(body string) (string, error) {
	if !strings.HasPrefix(body, "---\n") {
		return "", fmt.Errorf("missing frontmatter")
	}
	rest := body[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", fmt.Errorf("unterminated frontmatter")
	}
	return rest[:end], nil
}

func stripFrontmatter(body string) string {
	if !strings.HasPrefix(body, "---\n") {
		return body
	}
	rest := body[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return body
	}
	after := rest[end+4:]
	return strings.TrimPrefix(after, "\n")
}

// Watch reloads the registry whenever the skills directory changes. The
// returned stop function ends the watch.
func Watch(dir string, registry *Registry) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("skills: watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("skills: watch %s: %w", dir, err)
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				defs, err := LoadDir(dir)
				if err != nil {
					log.Printf("skills: reload: %v", err)
					continue
				}
				registry.Replace(defs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("skills: watch error: %v", err)
			}
		}
	}()
	return func() {
		close(done)
		watcher.Close()
	}, nil
}
