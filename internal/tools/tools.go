// Package tools turns argv templates into runnable commands for each external
// operation the pipelines invoke.
//
// A template is a list of tokens. "{name}" placeholders are substituted from
// the call's parameters; a token that is exactly one placeholder expands to
// every value of that parameter as separate arguments, so "{topics}" becomes
// one argument per topic and an empty option list disappears entirely.
package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/bagsplit/internal/runner"
)

// Tool names accepted in the "tools" config section.
const (
	ExportImage      = "export_image"
	ExportPointcloud = "export_pointcloud"
	Anonymize        = "anonymize"
	Sync             = "sync"
	Extract          = "extract"
	Tabular          = "tabular"
	Geographic       = "geographic"
	Montage          = "montage"
	Encode           = "encode"
)

// Defaults target the ros2bag_tools CLI, the understand.ai anonymizer,
// gpsbabel, ImageMagick and ffmpeg.
var Defaults = map[string][]string{
	ExportImage:      {"ros2", "bag", "export", "--in", "{input}", "-t", "{topic}", "image", "--dir", "{output}"},
	ExportPointcloud: {"ros2", "bag", "export", "--in", "{input}", "-t", "{topic}", "pcd", "--dir", "{output}"},
	Anonymize:        {"anonymize", "--input", "{input}", "--image-output", "{output}", "--weights", "{weights}"},
	Sync:             {"ros2", "bag", "sync", "--in", "{input}", "-t", "{topics}", "--slop", "{slop}", "-o", "{output}"},
	Extract:          {"ros2", "bag", "extract", "--in", "{input}", "-t", "{topics}", "-o", "{output}"},
	Tabular:          {"ros2", "bag", "export", "--in", "{input}", "csv", "--dir", "{output}"},
	Geographic:       {"gpsbabel", "-i", "unicsv", "-f", "{input}", "-o", "kml", "-F", "{output}"},
	Montage:          {"montage", "{inputs}", "-tile", "{cols}x{rows}", "-geometry", "{width}x{height}+0+0", "{extra}", "{output}"},
	Encode:           {"ffmpeg", "{options}", "{input_options}", "-i", "{input}", "{output_options}", "{output}"},
}

// Params are the placeholder values for one invocation.
type Params map[string][]string

// Set assigns a single-valued parameter and returns p for chaining.
func (p Params) Set(key, value string) Params {
	p[key] = []string{value}
	return p
}

// SetList assigns a multi-valued parameter and returns p for chaining.
func (p Params) SetList(key string, values []string) Params {
	p[key] = append([]string(nil), values...)
	return p
}

// Toolchain holds the resolved template for every tool.
type Toolchain struct {
	templates map[string][]string
}

// New merges overrides onto Defaults. Unknown tool names and empty templates
// are rejected.
func New(overrides map[string][]string) (*Toolchain, error) {
	templates := make(map[string][]string, len(Defaults))
	for name, tmpl := range Defaults {
		templates[name] = tmpl
	}
	for name, tmpl := range overrides {
		if _, ok := Defaults[name]; !ok {
			return nil, fmt.Errorf("unknown tool %q (known: %s)", name, strings.Join(Names(), ", "))
		}
		if len(tmpl) == 0 {
			return nil, fmt.Errorf("tool %q has an empty template", name)
		}
		templates[name] = append([]string(nil), tmpl...)
	}
	return &Toolchain{templates: templates}, nil
}

// Names lists the known tool names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Defaults))
	for name := range Defaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Command builds a runnable command for tool. Inputs and output are recorded
// on the command and also exposed as the {input}, {inputs} and {output}
// placeholders.
func (tc *Toolchain) Command(tool, name string, inputs []string, output string, params Params) (runner.Command, error) {
	tmpl, ok := tc.templates[tool]
	if !ok {
		return runner.Command{}, fmt.Errorf("unknown tool %q", tool)
	}

	all := Params{}
	for k, v := range params {
		all[k] = v
	}
	all.SetList("inputs", inputs)
	if len(inputs) > 0 {
		all.Set("input", inputs[0])
	}
	all.Set("output", output)

	argv, err := Expand(tmpl, all)
	if err != nil {
		return runner.Command{}, fmt.Errorf("%s: %w", tool, err)
	}
	if len(argv) == 0 {
		return runner.Command{}, fmt.Errorf("%s: template expanded to nothing", tool)
	}

	return runner.Command{
		Name:   name,
		Tool:   tool,
		Argv:   argv,
		Inputs: append([]string(nil), inputs...),
		Output: output,
	}, nil
}

// Expand substitutes params into tmpl. Referencing an unknown placeholder is an
// error so that typos in config templates surface before anything runs.
func Expand(tmpl []string, params Params) ([]string, error) {
	var argv []string
	for _, token := range tmpl {
		if key, ok := wholePlaceholder(token); ok {
			values, known := params[key]
			if !known {
				return nil, fmt.Errorf("unknown placeholder {%s}", key)
			}
			argv = append(argv, values...)
			continue
		}

		expanded, err := substitute(token, params)
		if err != nil {
			return nil, err
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

func wholePlaceholder(token string) (string, bool) {
	if len(token) < 3 || token[0] != '{' || token[len(token)-1] != '}' {
		return "", false
	}
	key := token[1 : len(token)-1]
	if strings.ContainsAny(key, "{}") {
		return "", false
	}
	return key, true
}

func substitute(token string, params Params) (string, error) {
	var b strings.Builder
	for {
		open := strings.IndexByte(token, '{')
		if open < 0 {
			b.WriteString(token)
			return b.String(), nil
		}
		end := strings.IndexByte(token[open:], '}')
		if end < 0 {
			b.WriteString(token)
			return b.String(), nil
		}
		key := token[open+1 : open+end]
		values, ok := params[key]
		if !ok {
			return "", fmt.Errorf("unknown placeholder {%s}", key)
		}
		b.WriteString(token[:open])
		b.WriteString(strings.Join(values, ","))
		token = token[open+end+1:]
	}
}
