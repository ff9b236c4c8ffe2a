package hooks

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config files come in two shapes. Flat:
//
//	PreToolUse: ["./check.sh", "./audit.sh"]
//
// Nested:
//
//	PreToolUse:
//	  - matcher: "Bash"
//	    hooks:
//	      - type: command
//	        command: "${PLUGIN_ROOT}/check.sh"
//	        timeout: 30
//
// ${PLUGIN_ROOT} is substituted with the plugin directory at load time.
type nestedGroup struct {
	Matcher string        `yaml:"matcher"`
	Hooks   []nestedEntry `yaml:"hooks"`
}

type nestedEntry struct {
	Type    string `yaml:"type"`
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout"`
}

// ParseConfig decodes either configuration form into hooks. pluginRoot
// replaces the ${PLUGIN_ROOT} placeholder; empty leaves it untouched.
func ParseConfig(data []byte, pluginRoot string) ([]Hook, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("hooks: parse config: %w", err)
	}

	var out []Hook
	for eventName, node := range raw {
		evt := Event(strings.TrimSpace(eventName))
		if !validEvent(evt) {
			return nil, fmt.Errorf("hooks: unsupported event %s in config", eventName)
		}

		// Flat form: a sequence of command strings.
		var commands []string
		if err := node.Decode(&commands); err == nil {
			for i, cmdStr := range commands {
				out = append(out, Hook{
					Name:    fmt.Sprintf("%s-%d", eventName, i),
					Events:  []Event{evt},
					Command: resolvePluginRoot(cmdStr, pluginRoot),
				})
			}
			continue
		}

		// Nested form: matcher groups.
		var groups []nestedGroup
		if err := node.Decode(&groups); err != nil {
			return nil, fmt.Errorf("hooks: event %s: expected command list or matcher groups: %w", eventName, err)
		}
		for gi, group := range groups {
			for hi, entry := range group.Hooks {
				if entry.Type != "" && entry.Type != "command" {
					return nil, fmt.Errorf("hooks: event %s: unsupported hook type %q", eventName, entry.Type)
				}
				if strings.TrimSpace(entry.Command) == "" {
					return nil, fmt.Errorf("hooks: event %s: empty command", eventName)
				}
				h := Hook{
					Name:    fmt.Sprintf("%s-%d-%d", eventName, gi, hi),
					Events:  []Event{evt},
					Matcher: group.Matcher,
					Command: resolvePluginRoot(entry.Command, pluginRoot),
				}
				if entry.Timeout > 0 {
					h.Timeout = time.Duration(entry.Timeout) * time.Second
				}
				out = append(out, h)
			}
		}
	}
	return out, nil
}

func resolvePluginRoot(command, pluginRoot string) string {
	if pluginRoot == "" {
		return command
	}
	return strings.ReplaceAll(command, "${PLUGIN_ROOT}", pluginRoot)
}
