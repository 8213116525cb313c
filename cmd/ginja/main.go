// Command ginja renders a template against a YAML or JSON context file.
//
//	ginja -template page.html -ctx data.yaml [-root dir] [-strict] [-autoescape] [-v]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/yaml.v3"

	"github.com/ketju/ginja/runtime"
)

func main() {
	var (
		templateName = flag.String("template", "", "template file to render (required)")
		ctxFile      = flag.String("ctx", "", "YAML or JSON file with the render context")
		root         = flag.String("root", "", "template root directory (default: template's directory)")
		strict       = flag.Bool("strict", false, "fail on undefined variables")
		autoescape   = flag.Bool("autoescape", false, "enable HTML autoescaping")
		trimBlocks   = flag.Bool("trim-blocks", false, "strip the newline after statement tags")
		verbose      = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	logger := newLogger(*verbose)
	if *templateName == "" {
		fmt.Fprintln(os.Stderr, "usage: ginja -template FILE [-ctx FILE] [-root DIR]")
		os.Exit(2)
	}

	name := *templateName
	dir := *root
	if dir == "" {
		dir = filepath.Dir(name)
		name = filepath.Base(name)
	}

	vars, err := loadContext(*ctxFile)
	if err != nil {
		logger.Error("loading context failed", "file", *ctxFile, "err", err)
		os.Exit(1)
	}
	logger.Debug("context loaded", "file", *ctxFile, "keys", len(vars))

	opts := []runtime.Option{
		runtime.WithLoader(runtime.NewFSLoader(dir)),
		runtime.WithAutoescape(*autoescape),
		runtime.WithTrimBlocks(*trimBlocks),
	}
	if *strict {
		opts = append(opts, runtime.WithUndefined(runtime.StrictUndefined))
	}
	env := runtime.NewEnvironment(opts...)

	start := time.Now()
	tpl, err := env.GetTemplate(filepath.ToSlash(name))
	if err != nil {
		logger.Error("compile failed", "template", name, "err", err)
		os.Exit(1)
	}
	logger.Debug("template compiled", "template", name, "took", time.Since(start))

	start = time.Now()
	if err := tpl.RenderTo(os.Stdout, vars); err != nil {
		fmt.Fprintln(os.Stderr)
		logger.Error("render failed", "template", name, "err", err)
		os.Exit(1)
	}
	logger.Debug("rendered", "template", name, "took", time.Since(start))
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	return slog.New(handler)
}

// loadContext reads the render variables from a YAML or JSON file. YAML
// handles JSON input too, but a .json suffix gets the stricter decoder.
func loadContext(file string) (map[string]any, error) {
	if file == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	vars := map[string]any{}
	if strings.HasSuffix(file, ".json") {
		if err := json.Unmarshal(data, &vars); err != nil {
			return nil, err
		}
		return vars, nil
	}
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, err
	}
	return normalizeYAML(vars).(map[string]any), nil
}

// normalizeYAML rewrites yaml.v3's map[string]any values recursively so
// nested mappings and sequences use the engine's canonical types.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return int64(t)
	default:
		return v
	}
}
