package builtin

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/stellarlinkco/agentcore/pkg/tool"
)

const globMaxResults = 1000

const globDescription = `Fast file pattern matching. Supports glob patterns like "**/*.go" or "src/**/*.ts". Returns matching file paths, deduplicated and sorted.`

var globSchema = tool.ObjectSchema(map[string]any{
	"pattern": tool.StringProp("The glob pattern to match files against"),
	"path":    tool.StringProp("The directory to search in (defaults to the project root)"),
}, "pattern")

// GlobTool walks the project tree matching a recursive glob.
type GlobTool struct{}

func (GlobTool) Name() string             { return "Glob" }
func (GlobTool) Description() string      { return globDescription }
func (GlobTool) Schema() *tool.JSONSchema { return globSchema }
func (GlobTool) Flags() tool.Flags        { return tool.Flags{ReadOnly: true} }

func (GlobTool) Execute(ctx context.Context, params map[string]any, execCtx *tool.ExecContext) (*tool.Result, error) {
	if err := requireSecurity("Glob", execCtx); err != nil {
		return nil, err
	}
	pattern, err := stringParam(params, "pattern")
	if err != nil {
		return nil, tool.NewError("Glob", tool.ErrKindSchema, err)
	}
	re, err := compileGlobPattern(pattern)
	if err != nil {
		return nil, tool.NewError("Glob", tool.ErrKindSchema, err)
	}

	root := execCtx.Security.Root()
	base := root
	if sub := optionalString(params, "path"); sub != "" {
		resolved, rerr := execCtx.Security.Resolver().Resolve(sub)
		if rerr != nil {
			return nil, tool.NewError("Glob", tool.ErrKindSecurity, rerr)
		}
		base = resolved
	}

	seen := map[string]struct{}{}
	var matches []string
	walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
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
		rel = filepath.ToSlash(rel)
		if !re.MatchString(rel) {
			return nil
		}
		if _, dup := seen[p]; dup {
			return nil
		}
		seen[p] = struct{}{}
		matches = append(matches, p)
		if len(matches) >= globMaxResults {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return nil, tool.NewError("Glob", tool.ErrKindCancelled, ctx.Err())
	}

	sort.Strings(matches)
	return &tool.Result{
		Success: true,
		Output:  strings.Join(matches, "\n"),
		Data:    map[string]any{"count": len(matches)},
	}, nil
}

// compileGlobPattern supports * (within a segment), ** (across segments) and ?.
func compileGlobPattern(glob string) (*regexp.Regexp, error) {
	glob = path.Clean(strings.TrimSpace(glob))
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		switch glob[i] {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
				} else {
					b.WriteString(".*")
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '[', ']', '\\':
			b.WriteString("\\")
			b.WriteByte(glob[i])
		default:
			b.WriteByte(glob[i])
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
