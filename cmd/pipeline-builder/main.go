// pipeline-builder lays out, validates and edits agent pipelines stored
// as YAML manifests.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/FrancisVarga/stupid-db-sub000/internal/logging"
)

const usageText = `usage: pipeline-builder <command> [flags] <manifest.yaml>...

commands:
  layout     print diagram geometry as JSON
  validate   check pipelines and report errors and warnings
  export     merge manifests and write normalized YAML
  apply      run a JSON list of edit commands against one pipeline
  schedule   list upcoming fire times of schedules
  init       write settings.json with the current configuration
  version    print the version
`

var errUsage = errors.New("missing command")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return errUsage
	}

	cfg := loadConfig()
	logger, err := logging.New(stderr, logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	env := &cliEnv{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}

	switch args[0] {
	case "layout":
		return env.runLayout(args[1:])
	case "validate":
		return env.runValidate(args[1:])
	case "export":
		return env.runExport(args[1:])
	case "apply":
		return env.runApply(args[1:])
	case "schedule":
		return env.runSchedule(args[1:])
	case "init":
		return env.runInit(args[1:])
	case "version":
		printVersion(stdout)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return nil
	default:
		fmt.Fprint(stderr, usageText)
		return fmt.Errorf("unknown command %q", args[0])
	}
}
