package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/campusnav/internal/api"
	"github.com/kalambet/campusnav/internal/config"
	"github.com/kalambet/campusnav/internal/engine"
	"github.com/kalambet/campusnav/internal/pipeline"
	"github.com/kalambet/campusnav/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer one campus question and print the result as JSON",
	Long: `Answer one campus question and print the result as JSON.

Examples:
  campusnav ask "Where is the library?"
  campusnav ask --debug "How do I get from the library to the student center?"
  campusnav ask --server http://127.0.0.1:5000 "When is the gym open?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		debug, _ := cmd.Flags().GetBool("debug")
		serverURL, _ := cmd.Flags().GetString("server")

		result, err := askQuery(cmd.Context(), query, debug, serverURL)
		if err != nil {
			printJSON(cmd.OutOrStdout(), map[string]any{"success": false, "error": err.Error()})
			return exitError{code: 1}
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	askCmd.Flags().Bool("debug", false, "include the raw model payload")
	askCmd.Flags().String("server", "", "send the query to a running server instead of answering locally")
}

func askQuery(ctx context.Context, query string, debug bool, serverURL string) (pipeline.QueryResult, error) {
	if serverURL != "" {
		return newAPIClient(serverURL).ask(ctx, query, debug)
	}

	cfg, err := loadConfig()
	if err != nil {
		return pipeline.QueryResult{}, err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return pipeline.QueryResult{}, err
	}
	defer a.Close()

	return a.nav.Process(ctx, query, debug)
}

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Answer one query per line and print JSON lines",
	Long: `Answer one query per line of <file> ("-" reads stdin) and print one
JSON result per line, in input order. Blank lines and lines starting with #
are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		in := io.Reader(os.Stdin)
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()
			in = f
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		total, failed, err := runBatch(cmd.Context(), a.nav, in, cmd.OutOrStdout(), concurrency)
		if err != nil {
			return err
		}
		if failed > 0 {
			printWarning("%d of %d queries failed", failed, total)
			return exitError{code: 1}
		}
		printSuccess("%d queries answered", total)
		return nil
	},
}

func init() {
	batchCmd.Flags().Int("concurrency", 4, "number of queries processed at once")
}

// maxBatchQuery matches the server's request body cap.
const maxBatchQuery = 1 << 20

var errQueryTooLong = fmt.Errorf("query longer than %d bytes", maxBatchQuery)

// runBatch answers every query read from in with at most concurrency calls in
// flight and writes results to out in input order. Per-query failures are
// written as error envelopes and counted; they do not stop the batch.
func runBatch(ctx context.Context, p api.Processor, in io.Reader, out io.Writer, concurrency int) (total, failed int, err error) {
	queries, err := readQueries(in)
	if err != nil {
		return 0, 0, err
	}

	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]any, len(queries))
	errs := make([]bool, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, q := range queries {
		g.Go(func() error {
			if len(q) > maxBatchQuery {
				results[i] = map[string]any{"success": false, "query": truncate(q, 80), "error": errQueryTooLong.Error()}
				errs[i] = true
				return nil
			}
			res, err := p.Process(gctx, q, false)
			if err != nil {
				results[i] = map[string]any{"success": false, "query": q, "error": err.Error()}
				errs[i] = true
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	enc := json.NewEncoder(out)
	for i, r := range results {
		if err := enc.Encode(r); err != nil {
			return 0, 0, fmt.Errorf("writing result: %w", err)
		}
		if errs[i] {
			failed++
		}
	}
	return len(queries), failed, nil
}

// readQueries returns the non-blank, non-comment lines of in. Lines of any
// length are read whole.
func readQueries(in io.Reader) ([]string, error) {
	var queries []string
	r := bufio.NewReader(in)
	for {
		line, err := r.ReadString('\n')
		if q := strings.TrimSpace(line); q != "" && !strings.HasPrefix(q, "#") {
			queries = append(queries, q)
		}
		if errors.Is(err, io.EOF) {
			return queries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading queries: %w", err)
		}
	}
}

// --- check ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Diagnose configuration, storage and the language model backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		printStep("Checking campusnav environment...")
		printStatus("Provider", "%s", cfg.LLM.Provider)
		printStatus("Model", "%s", cfg.LLM.Model)
		if env := engine.KeyEnv(cfg.LLM.Provider); env != "" {
			printStatus("API key set", "%v (%s or CAMPUSNAV_LLM_API_KEY)", cfg.LLM.APIKey != "", env)
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		results := runChecks(cmd.Context(), appChecks(a))
		failed := 0
		for _, r := range results {
			if r.OK {
				printSuccess("%s: %s", r.Name, r.Detail)
			} else {
				printError("%s: %s", r.Name, r.Detail)
				failed++
			}
		}
		if failed > 0 {
			return exitError{code: 1}
		}
		return nil
	},
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

type checkResult struct {
	Name   string
	OK     bool
	Detail string
}

// runChecks runs every check concurrently and reports results in input order.
func runChecks(ctx context.Context, checks []check) []checkResult {
	results := make([]checkResult, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			detail, err := c.run(gctx)
			if err != nil {
				results[i] = checkResult{Name: c.name, Detail: err.Error()}
				return nil
			}
			results[i] = checkResult{Name: c.name, OK: true, Detail: detail}
			return nil
		})
	}
	g.Wait()
	return results
}

func appChecks(a *app) []check {
	notConfigured := func(context.Context) (string, error) {
		return "", fmt.Errorf("backend not configured: %v", a.engErr)
	}

	checks := []check{
		{name: "Storage", run: func(ctx context.Context) (string, error) {
			if err := a.store.Ping(ctx); err != nil {
				return "", err
			}
			buildings, err := a.store.ListBuildings(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s, %d buildings", a.store.Driver(), len(buildings)), nil
		}},
	}

	if a.engine == nil {
		return append(checks,
			check{name: "Backend reachable", run: notConfigured},
			check{name: "Completion", run: notConfigured},
		)
	}

	model := a.gateway.Model()
	return append(checks,
		check{name: "Backend reachable", run: func(ctx context.Context) (string, error) {
			if !a.engine.IsRunning(ctx) {
				return "", fmt.Errorf("%s is not reachable", a.engine.Name())
			}
			return a.engine.Name(), nil
		}},
		check{name: "Model available", run: func(ctx context.Context) (string, error) {
			if !a.engine.HasModel(ctx, model) {
				return "", fmt.Errorf("model %s is not listed by %s", model, a.engine.Name())
			}
			return model, nil
		}},
		check{name: "Completion", run: func(ctx context.Context) (string, error) {
			c := a.gateway.Complete(ctx, "You are a test.", "Say hello.")
			if !c.OK {
				return "", fmt.Errorf("completion failed: %s", c.Error)
			}
			return truncate(c.Text, 80), nil
		}},
	)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// --- buildings ---

var buildingsCmd = &cobra.Command{
	Use:   "buildings",
	Short: "List or search campus buildings",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, _ := cmd.Flags().GetString("search")
		serverURL, _ := cmd.Flags().GetString("server")
		asJSON, _ := cmd.Flags().GetBool("json")

		var buildings []storage.Building
		if serverURL != "" {
			var err error
			buildings, err = newAPIClient(serverURL).buildings(cmd.Context(), q)
			if err != nil {
				return err
			}
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Storage.StorageTarget())
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer store.Close()

			if q != "" {
				buildings, err = store.SearchBuildings(cmd.Context(), q)
			} else {
				buildings, err = store.ListBuildings(cmd.Context())
			}
			if err != nil {
				return err
			}
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), buildings)
		}
		writeBuildings(cmd.OutOrStdout(), buildings)
		return nil
	},
}

func init() {
	buildingsCmd.Flags().String("search", "", "only buildings whose name or aliases contain this text")
	buildingsCmd.Flags().String("server", "", "query a running server instead of the local database")
	buildingsCmd.Flags().Bool("json", false, "print JSON")
}

func writeBuildings(w io.Writer, buildings []storage.Building) {
	if len(buildings) == 0 {
		fmt.Fprintln(w, "No buildings found.")
		return
	}
	for _, b := range buildings {
		fmt.Fprintf(w, "%3d  %-4s %s", b.ID, b.Code, colorize(colorBold, b.Name))
		if b.Aliases != "" {
			fmt.Fprintf(w, " (%s)", b.Aliases)
		}
		fmt.Fprintf(w, "\n     %s\n", b.Address)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		keyState := "not set"
		if cfg.LLM.APIKey != "" {
			keyState = "set"
		}
		fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, "llm.api_key"), keyState)
		fmt.Fprintf(w, "\n  config file: %s\n", config.FilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", ") + `.

API keys are never stored in the config file; use "config set-key".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <provider>",
	Short: "Store a provider API key in the secrets file (read from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := strings.ToLower(args[0])
		if engine.KeyEnv(provider) == "" {
			return fmt.Errorf("provider %q does not take an API key (known: %s)", provider, strings.Join(engine.Providers(), ", "))
		}

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading key: %w", err)
		}
		key := strings.TrimSpace(line)
		if key == "" {
			return fmt.Errorf("empty key")
		}

		if err := config.SetSecret(provider, key); err != nil {
			return err
		}
		printSuccess("Stored %s key in %s", provider, config.SecretsFilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetKeyCmd)
}
