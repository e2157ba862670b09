package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/cadence/internal/api"
	"github.com/kalambet/cadence/internal/config"
	"github.com/kalambet/cadence/internal/lead"
	"github.com/kalambet/cadence/internal/leadstore"
	"github.com/kalambet/cadence/internal/pipeline"
	"github.com/kalambet/cadence/internal/poller"
	"github.com/kalambet/cadence/internal/smartlead"
	"github.com/kalambet/cadence/internal/storage"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run outreach cycles on the poll interval",
	Long: `Run outreach cycles: load the lead sheet, enroll every due lead with
Smartlead and write the advanced state back, then wait for the poll interval
and repeat.

In confirm mode each batch is printed and sent only after a "y" on stdin.

Examples:
  cadence run
  cadence run --once
  cadence run --mode confirm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		mode, _ := cmd.Flags().GetString("mode")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}
		if mode == "" {
			mode = cfg.Poll.Mode
		}
		confirm, err := confirmFor(mode)
		if err != nil {
			return err
		}
		interval, err := cfg.PollInterval()
		if err != nil {
			return err
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printStep("Checking Smartlead API key...")
		if err := a.client.ValidateKey(ctx); err != nil {
			return err
		}

		worker := poller.NewWorker(a.engine, confirm, interval)
		worker.OnCycle = func(rep pipeline.CycleReport, err error) {
			writeCycle(os.Stderr, rep, err)
		}

		if once {
			return worker.RunOnce(ctx)
		}
		printStep("Polling %s every %s (%s mode)", cfg.Leads.Path, interval, mode)
		worker.Run(ctx)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("once", false, "run a single cycle and exit")
	runCmd.Flags().String("mode", "", "automation or confirm (default from poll.mode)")
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show who the next cycle would enroll, without sending",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.engine.Plan(cmd.Context())
		if err != nil {
			return err
		}

		v := api.NewPlanView(p)
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		writePlan(os.Stdout, v)
		return nil
	},
}

func init() {
	planCmd.Flags().Bool("json", false, "print the plan as JSON")
}

// --- campaigns ---

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List Smartlead campaigns and the steps mapped to them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}

		client := smartlead.NewClientWithBaseURL(cfg.Smartlead.APIKey, cfg.Smartlead.BaseURL)
		campaigns, err := client.ListCampaigns(cmd.Context())
		if err != nil {
			return err
		}

		steps := map[string][]int{}
		if table, err := cfg.Campaigns(); err == nil {
			for step, id := range table {
				steps[id] = append(steps[id], step)
			}
		}

		if len(campaigns) == 0 {
			fmt.Println("No campaigns found.")
			return nil
		}
		for _, c := range campaigns {
			id := fmt.Sprint(c.ID)
			line := fmt.Sprintf("%s  %-10s %s", colorize(colorCyan, id), c.Status, c.Name)
			if s := steps[id]; len(s) > 0 {
				sort.Ints(s)
				line += colorize(colorBold, fmt.Sprintf("  (%s step %s)", cfg.Channel(), joinInts(s)))
			}
			fmt.Println(line)
		}
		return nil
	},
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

// --- leads ---

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect or prepare the lead sheet",
}

var leadsPrepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Add missing counter and date columns to the lead sheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := leadstore.Open(cfg.Leads.Path, []lead.Channel{cfg.Channel()})
		if err != nil {
			return err
		}
		added, err := store.Prepare(cmd.Context())
		if err != nil {
			return err
		}

		if len(added) == 0 {
			printSuccess("%s already has every managed column", cfg.Leads.Path)
			return nil
		}
		for _, col := range added {
			printStatus("Added", "%s", col)
		}
		printSuccess("Prepared %s", cfg.Leads.Path)
		return nil
	},
}

var leadsShowCmd = &cobra.Command{
	Use:   "show <email>",
	Short: "Show cadence position and eligibility for a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		statuses, err := a.engine.LeadStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		views := make([]api.LeadView, len(statuses))
		for i, st := range statuses {
			views[i] = api.NewLeadView(st)
		}
		if len(views) > 1 {
			printWarning("%d rows share this email", len(views))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	},
}

func init() {
	leadsCmd.AddCommand(leadsPrepareCmd)
	leadsCmd.AddCommand(leadsShowCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server state and recent cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := newAPIClient(cfg)
		if client.healthy(cmd.Context()) {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "stopped")
		}
		printStatus("Leads", "%s", cfg.Leads.Path)
		printStatus("Channel", "%s (cap %d, cooldown %d days)", cfg.Channel(), cfg.Engine.MaxAttempts, cfg.Engine.CooldownDays)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)

		cycles, source, err := loadCycles(cmd.Context(), client, cfg.Storage.DataDir, limit)
		if err != nil {
			return err
		}
		printStatus("Cycles", "from %s", source)
		writeCycles(os.Stdout, cycles)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 10, "number of cycles to show")
}

// loadCycles asks a running server first and falls back to the local journal.
func loadCycles(ctx context.Context, client *apiClient, dataDir string, limit int) ([]api.CycleView, string, error) {
	if client.token != "" {
		resp, err := client.get(ctx, fmt.Sprintf("/cycles?limit=%d", limit))
		if err == nil {
			var cycles []api.CycleView
			if err := decodeJSON(resp, &cycles); err == nil {
				return cycles, "server", nil
			}
		}
	}

	journal, err := storage.Open(dataDir)
	if err != nil {
		return nil, "", fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()

	cycles, err := journal.RecentCycles(limit)
	if err != nil {
		return nil, "", err
	}
	return api.NewCycleViews(cycles), "journal", nil
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the Smartlead API key in the platform secret store (reads stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stderr, "Smartlead API key: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading key: %w", err)
		}
		if err := config.SetAPIKey(strings.TrimSpace(line)); err != nil {
			return err
		}
		printSuccess("Smartlead API key stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetKeyCmd)
}
