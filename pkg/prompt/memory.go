package prompt

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// MemoryLevel orders memory files; later levels override earlier ones by
// appearing later in the merged output.
type MemoryLevel int

const (
	LevelEnterprise MemoryLevel = iota
	LevelUser
	LevelProject
	LevelLocal
)

func (l MemoryLevel) String() string {
	switch l {
	case LevelEnterprise:
		return "enterprise"
	case LevelUser:
		return "user"
	case LevelProject:
		return "project"
	case LevelLocal:
		return "local"
	default:
		return "unknown"
	}
}

// maxImportHops bounds the @import chain.
const maxImportHops = 5

// MemoryFile names one memory source.
type MemoryFile struct {
	Level MemoryLevel
	Path  string
}

// MemoryLoader reads memory files, resolves @import directives, and merges
// the levels in a defined order.
type MemoryLoader struct {
	Files []MemoryFile
	// Home resolves "~/" imports; defaults to the process home directory.
	Home string
}

// Merge loads every configured file and concatenates them in level order.
// Missing files are skipped.
func (m *MemoryLoader) Merge() (string, error) {
	files := append([]MemoryFile(nil), m.Files...)
	// Stable sort by level preserving configuration order within a level.
	for i := 1; i < len(files); i++ {
		for j := i; j > 0 && files[j].Level < files[j-1].Level; j-- {
			files[j], files[j-1] = files[j-1], files[j]
		}
	}

	var sections []string
	for _, file := range files {
		body, err := m.loadFile(file.Path, map[string]bool{}, 0)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("prompt: memory %s: %w", file.Path, err)
		}
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("<!-- %s: %s -->\n%s", file.Level, filepath.Base(file.Path), body))
	}
	return strings.Join(sections, "\n\n"), nil
}

// loadFile reads one memory file, strips frontmatter, and inlines @import
// lines. Cycles are logged and broken; hop depth is capped at 5.
func (m *MemoryLoader) loadFile(path string, visiting map[string]bool, depth int) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if visiting[abs] {
		log.Printf("prompt: import cycle at %s, breaking", abs)
		return "", nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	visiting[abs] = true
	defer delete(visiting, abs)

	body := stripFrontmatter(string(data))
	var out []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "@import ") {
			out = append(out, line)
			continue
		}
		if depth >= maxImportHops {
			log.Printf("prompt: import depth exceeded at %s, skipping %s", abs, trimmed)
			continue
		}
		target := strings.TrimSpace(strings.TrimPrefix(trimmed, "@import "))
		resolved := m.resolveImport(target, filepath.Dir(abs))
		imported, err := m.loadFile(resolved, visiting, depth+1)
		if err != nil {
			if os.IsNotExist(err) {
				log.Printf("prompt: import %s not found, skipping", resolved)
				continue
			}
			return "", err
		}
		out = append(out, imported)
	}
	return strings.Join(out, "\n"), nil
}

func (m *MemoryLoader) resolveImport(target, baseDir string) string {
	switch {
	case strings.HasPrefix(target, "~/"):
		home := m.Home
		if home == "" {
			home, _ = os.UserHomeDir()
		}
		return filepath.Join(home, target[2:])
	case filepath.IsAbs(target):
		return target
	default:
		return filepath.Join(baseDir, target)
	}
}

// stripFrontmatter drops an optional leading YAML frontmatter block.
func stripFrontmatter(body string) string {
	if !strings.HasPrefix(body, "---\n") && body != "---" {
		return body
	}
	rest := body[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return body
	}
	after := rest[end+4:]
	after = strings.TrimPrefix(after, "\n")
	return after
}
