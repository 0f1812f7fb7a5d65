// Command dagflow validates and executes workflow definition files against a
// local store.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dagflow/dagflow-go/flow"
	"github.com/dagflow/dagflow-go/flow/event"
	"github.com/dagflow/dagflow-go/flow/step"
	"github.com/dagflow/dagflow-go/flow/store"
)

var (
	flagDB      string
	flagInput   string
	flagData    string
	flagTimeout time.Duration
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "dagflow",
		Short:         "Run workflow definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDB, "db", "", "sqlite database path (default: in-memory)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log every run event")

	runCmd := &cobra.Command{
		Use:   "run <definition-file>",
		Short: "Execute a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflow,
	}
	runCmd.Flags().StringVar(&flagInput, "input", "{}", "run input as JSON")
	runCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "overall run timeout")

	validateCmd := &cobra.Command{
		Use:   "validate <definition-file>",
		Short: "Validate a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE:  validateWorkflow,
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <run-id> <step-id>",
		Short: "Approve a waiting step and continue the run",
		Args:  cobra.ExactArgs(2),
		RunE:  resumeRun,
	}
	resumeCmd.Flags().StringVar(&flagData, "data", "{}", "approval data as JSON")

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the available step types",
		RunE:  printCatalog,
	}

	root.AddCommand(runCmd, validateCmd, resumeCmd, catalogCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openStore() (store.Store, error) {
	if flagDB == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(flagDB)
}

func buildEngine(st store.Store) (*flow.Engine, error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !flagVerbose {
		logger = logger.Level(zerolog.WarnLevel)
	}

	bus := event.NewBus(store.NewEventLog(st), logger)
	if flagVerbose {
		bus.AddListener(event.NewLogListener(logger))
	}

	registry := step.NewRegistry()
	if err := step.RegisterBuiltins(registry, step.BuiltinOptions{}); err != nil {
		return nil, err
	}

	opts := []flow.Option{flow.WithLogger(logger)}
	if flagTimeout > 0 {
		opts = append(opts, flow.WithRunTimeout(flagTimeout))
	}
	return flow.New(st, bus, registry, opts...), nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	definition, name, err := loadDefinition(args[0])
	if err != nil {
		return err
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(flagInput), &input); err != nil {
		return fmt.Errorf("parse --input: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	engine, err := buildEngine(st)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	wf, err := engine.CreateWorkflow(ctx, name, definition, nil)
	if err != nil {
		return err
	}
	if err := engine.PublishWorkflow(ctx, wf.ID); err != nil {
		return err
	}

	run, err := engine.StartRun(ctx, flow.TriggerRequest{
		WorkflowID: wf.ID,
		Type:       store.TriggerManual,
		Input:      input,
	})
	if err != nil {
		return err
	}
	if err := engine.ExecuteRun(ctx, run.ID); err != nil {
		return err
	}

	final, err := st.Runs().Get(ctx, run.ID)
	if err != nil {
		return err
	}
	return printRunResult(final)
}

func printRunResult(run *store.Run) error {
	out := map[string]any{
		"run_id":  run.ID,
		"status":  run.Status,
		"context": run.Context,
	}
	if run.Error != "" {
		out["error"] = run.Error
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	if run.Status == store.RunFailed {
		return fmt.Errorf("run failed: %s", run.Error)
	}
	if run.Status == store.RunPaused {
		fmt.Fprintf(os.Stderr, "run is paused; continue with: dagflow resume %s <step-id> --db <path>\n", run.ID)
	}
	return nil
}

func validateWorkflow(_ *cobra.Command, args []string) error {
	definition, _, err := loadDefinition(args[0])
	if err != nil {
		return err
	}
	def, err := flow.ParseDefinition(definition)
	if err != nil {
		return err
	}

	registry := step.NewRegistry()
	if err := step.RegisterBuiltins(registry, step.BuiltinOptions{}); err != nil {
		return err
	}

	if problems := flow.Validate(def, registry); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, " -", p)
		}
		return fmt.Errorf("definition has %d problem(s)", len(problems))
	}
	fmt.Println("definition is valid")
	return nil
}

func resumeRun(cmd *cobra.Command, args []string) error {
	if flagDB == "" {
		return fmt.Errorf("resume requires --db pointing at the run's database")
	}
	runID, stepID := args[0], args[1]

	var data map[string]any
	if err := json.Unmarshal([]byte(flagData), &data); err != nil {
		return fmt.Errorf("parse --data: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	engine, err := buildEngine(st)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := engine.Resume(ctx, runID, stepID, data); err != nil {
		return err
	}
	if err := engine.ExecuteRun(ctx, runID); err != nil {
		return err
	}

	final, err := st.Runs().Get(ctx, runID)
	if err != nil {
		return err
	}
	return printRunResult(final)
}

func printCatalog(_ *cobra.Command, _ []string) error {
	registry := step.NewRegistry()
	if err := step.RegisterBuiltins(registry, step.BuiltinOptions{}); err != nil {
		return err
	}
	catalog := registry.Catalog()
	for _, stepType := range registry.Types() {
		meta := catalog[stepType]
		fmt.Printf("%-16s %-20s %s\n", stepType, meta.Label, meta.Description)
	}
	return nil
}

// loadDefinition reads a definition file. YAML files are converted to JSON;
// a top-level {"definition": ...} wrapper (the stored workflow shape) is
// unwrapped.
func loadDefinition(path string) (json.RawMessage, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, "", fmt.Errorf("parse yaml: %w", err)
		}
		raw, err = json.Marshal(doc)
		if err != nil {
			return nil, "", fmt.Errorf("convert yaml to json: %w", err)
		}
	}

	var wrapper struct {
		Name       string          `json:"name"`
		Definition json.RawMessage `json:"definition"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Definition) > 0 {
		if wrapper.Name != "" {
			name = wrapper.Name
		}
		return wrapper.Definition, name, nil
	}
	return raw, name, nil
}
