package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const (
	grepMaxFiles        = 500
	grepMaxMatchedLines = 250
	grepContextLines    = 2
	grepMaxLineBytes    = 1 << 20
)

const grepDescription = `Content search over project files using a regular expression.
- output_mode "files_with_matches" (default) returns matching file paths
- output_mode "content" returns matching lines with limited context
- Filter candidate files with the glob parameter (e.g. "*.go")`

var grepSchema = tool.ObjectSchema(map[string]any{
	"pattern": tool.StringProp("The regular expression to search for"),
	"path":    tool.StringProp("File or directory to search in (defaults to the project root)"),
	"glob":    tool.StringProp("Glob filter on file names (e.g. \"*.go\")"),
	"output_mode": map[string]any{
		"type":        "string",
		"description": "files_with_matches (default) or content",
		"enum":        []string{"files_with_matches", "content"},
	},
}, "pattern")

// GrepTool searches file contents under the project root.
type GrepTool struct{}

func (GrepTool) Name() string             { return "Grep" }
func (GrepTool) Description() string      { return grepDescription }
func (GrepTool) Schema() *tool.JSONSchema { return grepSchema }
func (GrepTool) Flags() tool.Flags        { return tool.Flags{ReadOnly: true} }

func (GrepTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if err := requireSecurity("Grep", execCtx); err != nil {
		return nil, err
	}
	pattern, err := stringParam(params, "pattern")
	if err != nil {
		return nil, tool.NewError("Grep", tool.ErrKindSchema, err)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, tool.NewError("Grep", tool.ErrKindSchema, fmt.Errorf("compile pattern: %w", err))
	}

	var nameFilter *regexp.Regexp
	if glob := optionalString(params, "glob"); glob != "" {
		nameFilter, err = compileGlobPattern(glob)
		if err != nil {
			return nil, tool.NewError("Grep", tool.ErrKindSchema, err)
		}
	}
	contentMode := optionalString(params, "output_mode") == "content"

	base := execCtx.Security.Root()
	if sub := optionalString(params, "path"); sub != "" {
		resolved, rerr := execCtx.Security.Resolver().Resolve(sub)
		if rerr != nil {
			return nil, tool.NewError("Grep", tool.ErrKindSecurity, rerr)
		}
		base = resolved
	}

	var (
		files    []string
		sections []string
		matched  int
	)
	walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(base, p)
		if rerr != nil {
			return nil //nolint:nilerr
		}
		if nameFilter != nil && !nameFilter.MatchString(filepath.ToSlash(rel)) && !nameFilter.MatchString(d.Name()) {
			return nil
		}
		section, hit := grepFile(p, re, contentMode)
		if !hit {
			return nil
		}
		files = append(files, p)
		if contentMode && section != "" {
			sections = append(sections, section)
			matched += strings.Count(section, "\n") + 1
		}
		if len(files) >= grepMaxFiles || matched >= grepMaxMatchedLines {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return nil, tool.NewError("Grep", tool.ErrKindCancelled, ctx.Err())
	}

	if contentMode {
		return &tool.Result{
			Success: true,
			Output:  strings.Join(sections, "\n--\n"),
			Data:    map[string]any{"files": len(files)},
		}, nil
	}
	sort.Strings(files)
	return &tool.Result{
		Success: true,
		Output:  strings.Join(files, "\n"),
		Data:    map[string]any{"files": len(files)},
	}, nil
}

// grepFile scans one file. In content mode it renders matched lines with
// surrounding context.
func grepFile(path string, re *regexp.Regexp, contentMode bool) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), grepMaxLineBytes)

	var lines []string
	var hits []int
	for i := 0; scanner.Scan(); i++ {
		line := scanner.Text()
		lines = append(lines, line)
		if re.MatchString(line) {
			hits = append(hits, i)
			if !contentMode {
				return "", true
			}
		}
	}
	if len(hits) == 0 {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", path)
	printed := map[int]bool{}
	for _, hit := range hits {
		from := hit - grepContextLines
		if from < 0 {
			from = 0
		}
		to := hit + grepContextLines
		if to >= len(lines) {
			to = len(lines) - 1
		}
		for i := from; i <= to; i++ {
			if printed[i] {
				continue
			}
			printed[i] = true
			marker := "-"
			if i == hit {
				marker = ":"
			}
			fmt.Fprintf(&b, "%d%s %s\n", i+1, marker, lines[i])
		}
	}
	return strings.TrimRight(b.String(), "\n"), true
}
