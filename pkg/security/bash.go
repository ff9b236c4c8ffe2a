package security

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// BashPreset selects the baseline policy behaviour.
type BashPreset string

const (
	PresetDefault    BashPreset = "default"
	PresetStrict     BashPreset = "strict"
	PresetPermissive BashPreset = "permissive"
)

// BashPolicy classifies shell commands by traversing their parsed structure.
// Programs are matched against a pattern map; pipelines are promoted to the
// highest level among their constituents, and fetch-then-exec pipelines are
// always Critical.
type BashPolicy struct {
	preset          BashPreset
	classifications []programRule
	maxCommandBytes int
}

type programRule struct {
	pattern string
	level   DangerLevel
	reason  string
}

// ProgramUse records one simple command found in the analyzed input.
type ProgramUse struct {
	Name   string
	Args   []string
	Level  DangerLevel
	Reason string
}

// Analysis is the result of parsing and classifying a command string.
type Analysis struct {
	Programs        []ProgramUse
	Level           DangerLevel
	Reason          string
	HasSubstitution bool
	HasPipeline     bool
	Redirections    []string
}

// NewBashPolicy builds a policy for the given preset.
func NewBashPolicy(preset BashPreset) *BashPolicy {
	p := &BashPolicy{preset: preset, maxCommandBytes: 65536}
	if preset == PresetPermissive {
		return p
	}
	p.classifications = []programRule{
		{"mkfs*", LevelCritical, "filesystem formatting"},
		{"dd", LevelCritical, "raw disk writes"},
		{"fdisk", LevelCritical, "partition editing"},
		{"parted", LevelCritical, "partition editing"},
		{"shutdown", LevelCritical, "system power management"},
		{"reboot", LevelCritical, "system power management"},
		{"halt", LevelCritical, "system power management"},
		{"poweroff", LevelCritical, "system power management"},
		{"mount", LevelHigh, "can expose host filesystem"},
		{"umount", LevelHigh, "can expose host filesystem"},
		{"rm", LevelHigh, "file deletion"},
		{"rmdir", LevelMedium, "directory deletion"},
		{"chmod", LevelMedium, "permission changes"},
		{"chown", LevelMedium, "ownership changes"},
		{"curl", LevelMedium, "remote fetch"},
		{"wget", LevelMedium, "remote fetch"},
		{"kill", LevelMedium, "signals arbitrary processes"},
		{"pkill", LevelMedium, "signals arbitrary processes"},
	}
	escalation := LevelHigh
	if preset == PresetStrict {
		escalation = LevelCritical
	}
	p.classifications = append(p.classifications,
		programRule{"sudo", escalation, "privilege escalation"},
		programRule{"su", escalation, "privilege escalation"},
		programRule{"doas", escalation, "privilege escalation"},
	)
	return p
}

// Analyze parses the command and classifies every program it invokes.
func (p *BashPolicy) Analyze(command string) (*Analysis, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return nil, ErrEmptyCommand
	}
	if p.maxCommandBytes > 0 && len(trimmed) > p.maxCommandBytes {
		return nil, fmt.Errorf("security: command too long (%d bytes)", len(trimmed))
	}
	if containsControl(trimmed) {
		return nil, fmt.Errorf("security: control characters in command")
	}

	parsed, err := parseShell(trimmed)
	if err != nil {
		return nil, fmt.Errorf("security: parse command: %w", err)
	}

	analysis := &Analysis{
		HasSubstitution: parsed.hasSubstitution,
		HasPipeline:     len(parsed.pipelines) > 1 || parsed.hasPipe,
		Redirections:    parsed.redirections,
	}

	if p.preset == PresetPermissive {
		for _, pipe := range parsed.pipelines {
			for _, cmd := range pipe {
				if len(cmd) == 0 {
					continue
				}
				analysis.Programs = append(analysis.Programs, ProgramUse{Name: filepath.Base(cmd[0]), Args: cmd[1:]})
			}
		}
		return analysis, nil
	}

	for _, pipe := range parsed.pipelines {
		pipeLevel := LevelSafe
		var fetcher, interpreter bool
		for _, cmd := range pipe {
			if len(cmd) == 0 {
				continue
			}
			use := p.classify(cmd)
			analysis.Programs = append(analysis.Programs, use)
			if use.Level > pipeLevel {
				pipeLevel = use.Level
			}
			switch use.Name {
			case "curl", "wget", "fetch":
				fetcher = true
			case "sh", "bash", "zsh", "dash", "ksh", "python", "python3", "perl", "ruby", "node":
				interpreter = true
			}
		}
		if fetcher && interpreter {
			pipeLevel = LevelCritical
			analysis.Reason = "remote fetch piped into an interpreter"
		}
		if pipeLevel > analysis.Level {
			analysis.Level = pipeLevel
		}
	}

	if parsed.hasSubstitution && p.preset == PresetStrict {
		if analysis.Level < LevelCritical {
			analysis.Level = LevelCritical
			analysis.Reason = "command substitution denied by strict policy"
		}
	}
	if analysis.Reason == "" {
		for _, use := range analysis.Programs {
			if use.Level == analysis.Level && use.Reason != "" {
				analysis.Reason = use.Reason
				break
			}
		}
	}
	return analysis, nil
}

// Check analyzes the command and converts Critical findings into an error.
func (p *BashPolicy) Check(command string) (*Analysis, error) {
	analysis, err := p.Analyze(command)
	if err != nil {
		return nil, err
	}
	if analysis.Level >= LevelCritical {
		program := ""
		for _, use := range analysis.Programs {
			if use.Level == analysis.Level {
				program = use.Name
				break
			}
		}
		if program == "" && len(analysis.Programs) > 0 {
			program = analysis.Programs[0].Name
		}
		return analysis, &DangerousCommandError{Level: analysis.Level, Program: program, Reason: analysis.Reason}
	}
	return analysis, nil
}

func (p *BashPolicy) classify(argv []string) ProgramUse {
	name := filepath.Base(argv[0])
	use := ProgramUse{Name: name, Args: argv[1:]}
	for _, rule := range p.classifications {
		if matchProgram(rule.pattern, name) {
			use.Level = rule.level
			use.Reason = rule.reason
			break
		}
	}
	// Argument shapes promote rm to Critical: recursive-force deletion or
	// deletions rooted at /.
	if name == "rm" {
		joined := " " + strings.ToLower(strings.Join(argv[1:], " "))
		if strings.Contains(joined, "-rf") || strings.Contains(joined, "-fr") ||
			strings.Contains(joined, "--no-preserve-root") || strings.Contains(joined, " /") && strings.Contains(joined, "-r") {
			use.Level = LevelCritical
			use.Reason = "recursive force deletion"
		}
		for _, arg := range argv[1:] {
			if arg == "/" {
				use.Level = LevelCritical
				use.Reason = "deletion rooted at /"
			}
		}
	}
	return use
}

func matchProgram(pattern, name string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

// SanitizeEnv strips variables that control the dynamic linker or library
// search paths before exec.
func SanitizeEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(key)
		if strings.HasPrefix(upper, "LD_") || strings.HasPrefix(upper, "DYLD_") || upper == "IFS" {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func containsControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}
