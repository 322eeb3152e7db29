package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/FrancisVarga/stupid-db-sub000/internal/builder"
	"github.com/FrancisVarga/stupid-db-sub000/internal/layout"
	"github.com/FrancisVarga/stupid-db-sub000/internal/logging"
	"github.com/FrancisVarga/stupid-db-sub000/internal/manifest"
	"github.com/FrancisVarga/stupid-db-sub000/internal/mapping"
	"github.com/FrancisVarga/stupid-db-sub000/internal/pipeline"
	"github.com/FrancisVarga/stupid-db-sub000/internal/schedule"
	"github.com/FrancisVarga/stupid-db-sub000/internal/validation"
	"gopkg.in/yaml.v3"
)

// cliEnv is shared by every subcommand.
type cliEnv struct {
	cfg    Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func (e *cliEnv) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func (e *cliEnv) runLayout(args []string) error {
	fs := e.flagSet("layout")
	width := fs.Float64("width", 0, "canvas width (default: settings canvas_width)")
	name := fs.String("pipeline", "", "only lay out this pipeline")
	agents := fs.String("agents", "", "YAML file mapping agent id to name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := e.cfg.Layout.Validate(); err != nil {
		return err
	}

	bundle, err := e.readManifests(fs.Args(), *agents)
	if err != nil {
		return err
	}

	out := []*layout.Geometry{}
	for _, p := range bundle.Pipelines {
		if *name != "" && p.Name() != *name {
			continue
		}
		out = append(out, layout.Build(p.Definition(), *width, e.cfg.Layout))
	}
	if *name != "" && len(out) == 0 {
		return fmt.Errorf("pipeline %q not found", *name)
	}
	return e.writeJSON(out)
}

func (e *cliEnv) runValidate(args []string) error {
	fs := e.flagSet("validate")
	agents := fs.String("agents", "", "YAML file mapping agent id to name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bundle, err := e.readManifests(fs.Args(), *agents)
	if err != nil {
		return err
	}

	linter, err := mapping.NewDefaultLinter()
	if err != nil {
		return err
	}
	validator, err := validation.NewPipelineValidator(linter)
	if err != nil {
		return err
	}

	invalid := 0
	for _, p := range bundle.Pipelines {
		result := validator.Validate(p.Definition())
		status := "ok"
		if !result.Valid() {
			status = "invalid"
			invalid++
		}
		fmt.Fprintf(e.stdout, "%s: %s (%d errors, %d warnings)\n", p.Name(), status, len(result.Errors), len(result.Warnings))
		for _, issue := range result.Errors {
			fmt.Fprintf(e.stdout, "  error   %s: [%s] %s\n", issue.Path, issue.Code, issue.Message)
		}
		for _, issue := range result.Warnings {
			fmt.Fprintf(e.stdout, "  warning %s: [%s] %s\n", issue.Path, issue.Code, issue.Message)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d pipelines invalid", invalid, len(bundle.Pipelines))
	}
	return nil
}

func (e *cliEnv) runExport(args []string) error {
	fs := e.flagSet("export")
	output := fs.String("o", "", "write to file instead of stdout")
	agents := fs.String("agents", "", "YAML file mapping agent id to name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir, err := loadAgents(*agents)
	if err != nil {
		return err
	}
	bundle, err := e.readManifestsWith(fs.Args(), dir)
	if err != nil {
		return err
	}

	data, err := manifest.Export(bundle.Pipelines, bundle.Schedules, dir)
	if err != nil {
		return err
	}
	return e.writeOutput(*output, data)
}

func (e *cliEnv) runApply(args []string) error {
	fs := e.flagSet("apply")
	name := fs.String("pipeline", "", "pipeline to edit (required when the manifests hold several)")
	commands := fs.String("commands", "", "JSON file with a list of commands")
	format := fs.String("format", "yaml", "output format: yaml or json")
	output := fs.String("o", "", "write to file instead of stdout")
	agents := fs.String("agents", "", "YAML file mapping agent id to name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *commands == "" {
		return errors.New("-commands is required")
	}
	if *format != "yaml" && *format != "json" {
		return fmt.Errorf("unknown format %q", *format)
	}

	dir, err := loadAgents(*agents)
	if err != nil {
		return err
	}
	bundle, err := e.readManifestsWith(fs.Args(), dir)
	if err != nil {
		return err
	}
	p, err := pickPipeline(bundle, *name)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(*commands)
	if err != nil {
		return fmt.Errorf("read commands: %w", err)
	}
	cmds, err := builder.DecodeCommands(raw)
	if err != nil {
		return err
	}

	session, err := builder.NewSession(p,
		builder.WithLayoutConfig(e.cfg.Layout),
		builder.WithLogger(e.logger),
	)
	if err != nil {
		return err
	}
	ctx := logging.WithPipelineID(context.Background(), p.Name())
	view, err := session.ApplyAll(ctx, cmds)
	if err != nil {
		return err
	}

	if *format == "json" {
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		return e.writeOutput(*output, append(data, '\n'))
	}

	edited := session.Pipeline()
	var schedules []schedule.Schedule
	for _, s := range bundle.Schedules {
		if s.PipelineName == p.Name() {
			s.PipelineName = edited.Name()
			schedules = append(schedules, s)
		}
	}
	data, err := manifest.Export([]*pipeline.Pipeline{edited}, schedules, dir)
	if err != nil {
		return err
	}
	return e.writeOutput(*output, data)
}

func (e *cliEnv) runSchedule(args []string) error {
	fs := e.flagSet("schedule")
	count := fs.Int("n", 3, "fire times per schedule")
	after := fs.String("after", "", "start time, RFC 3339 (default: now)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	from := time.Now()
	if *after != "" {
		t, err := time.Parse(time.RFC3339, *after)
		if err != nil {
			return fmt.Errorf("parse -after: %w", err)
		}
		from = t
	}

	bundle, err := e.readManifests(fs.Args(), "")
	if err != nil {
		return err
	}

	for _, s := range bundle.Schedules {
		state := "enabled"
		if !s.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(e.stdout, "%s -> %s (%s, %s, %s)\n", s.Name, s.PipelineName, s.CronExpression, s.Timezone, state)
		times, err := s.Upcoming(from, *count)
		if err != nil {
			return err
		}
		for _, t := range times {
			fmt.Fprintf(e.stdout, "  %s\n", t.Format(time.RFC3339))
		}
	}
	return nil
}

func (e *cliEnv) runInit(args []string) error {
	fs := e.flagSet("init")
	logLevel := fs.String("log-level", e.cfg.LogLevel, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", e.cfg.LogFormat, "log format: text or json")
	canvasWidth := fs.Float64("canvas-width", e.cfg.Layout.CanvasWidth, "default canvas width")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := e.cfg
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.Layout.CanvasWidth = *canvasWidth
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if err := cfg.Layout.Validate(); err != nil {
		return err
	}

	path, err := writeConfig(cfg)
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	fmt.Fprintf(e.stdout, "Config written to %s\n", path)
	return nil
}

// --- helpers ---

func (e *cliEnv) readManifests(paths []string, agentsFile string) (*manifest.Bundle, error) {
	dir, err := loadAgents(agentsFile)
	if err != nil {
		return nil, err
	}
	return e.readManifestsWith(paths, dir)
}

// readManifestsWith imports every file in order. Pipelines from earlier
// files count as existing for later ones, so schedules may name them and
// a second definition of the same pipeline is skipped.
func (e *cliEnv) readManifestsWith(paths []string, dir manifest.AgentDirectory) (*manifest.Bundle, error) {
	if len(paths) == 0 {
		return nil, errors.New("no manifest files given")
	}

	merged := &manifest.Bundle{}
	var seen []string
	var errs []error
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}

		im := manifest.NewImporter(dir, manifest.WithExisting(seen...), manifest.WithLogger(e.logger))
		bundle, result, err := im.Import(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, w := range result.Warnings {
			e.logger.Warn(w, slog.String("file", path))
		}
		for _, msg := range result.Errors {
			errs = append(errs, fmt.Errorf("%s: %s", path, msg))
		}

		for _, p := range bundle.Pipelines {
			seen = append(seen, p.Name())
		}
		merged.Pipelines = append(merged.Pipelines, bundle.Pipelines...)
		merged.Schedules = append(merged.Schedules, bundle.Schedules...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return merged, nil
}

// loadAgents reads an id -> name YAML map. An empty path means no directory.
func loadAgents(path string) (manifest.AgentDirectory, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents: %w", err)
	}
	var agents map[string]string
	if err := yaml.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("parse agents %s: %w", path, err)
	}
	return manifest.NewStaticDirectory(agents), nil
}

func pickPipeline(bundle *manifest.Bundle, name string) (*pipeline.Pipeline, error) {
	if name != "" {
		p, ok := bundle.Pipeline(name)
		if !ok {
			return nil, fmt.Errorf("pipeline %q not found", name)
		}
		return p, nil
	}
	switch len(bundle.Pipelines) {
	case 0:
		return nil, errors.New("manifests hold no pipeline")
	case 1:
		return bundle.Pipelines[0], nil
	default:
		names := make([]string, len(bundle.Pipelines))
		for i, p := range bundle.Pipelines {
			names[i] = p.Name()
		}
		return nil, fmt.Errorf("-pipeline is required; choose one of: %s", strings.Join(names, ", "))
	}
}

func (e *cliEnv) writeJSON(v any) error {
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *cliEnv) writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := e.stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
