package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/unpieceof/meemoo/internal/config"
	"github.com/unpieceof/meemoo/internal/cron"
	"github.com/unpieceof/meemoo/internal/gateway"
	"github.com/unpieceof/meemoo/internal/router"
	"github.com/unpieceof/meemoo/internal/store"
)

// cliChatID is the chat the CLI speaks as. It is never registered.
const cliChatID int64 = 0

const errNoAPIKey = "API key not set. Run 'meemoo onboard' or set MEEMOO_API_KEY / ANTHROPIC_API_KEY"

// AskOptions for running ask with custom dependencies
type AskOptions struct {
	Gateway gateway.Options
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "meemoo",
	Short: "meemoo - link memo bot for Telegram",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the bot (telegram + scheduled broadcasts + status API)",
	RunE:  runGateway,
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Send a message through the pipeline, once or in REPL mode",
	RunE:  runAsk,
}

var routeCmd = &cobra.Command{
	Use:   "route <text>",
	Short: "Print the routing decision for a message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRoute,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show meemoo status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	askCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(gatewayCmd, askCmd, routeCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf(errNoAPIKey)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

// runAsk is the command handler that uses default options
func runAsk(cmd *cobra.Command, args []string) error {
	return runAskWithOptions(AskOptions{})
}

// runAskWithOptions runs messages through the dispatcher with injectable
// dependencies for testing. Telegram, the scheduler and the HTTP API stay off.
func runAskWithOptions(opts AskOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" && opts.Gateway.Generator == nil {
		return fmt.Errorf(errNoAPIKey)
	}
	cfg.Channels.Telegram.Enabled = false
	cfg.Schedule.Enabled = false
	cfg.Gateway.Port = 0

	gw, err := gateway.NewWithOptions(cfg, opts.Gateway)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()
	d := gw.Dispatcher()

	// Single message mode
	if messageFlag != "" {
		for _, r := range d.HandleAll(ctx, cliChatID, messageFlag) {
			fmt.Fprintln(stdout, r.Text)
		}
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "meemoo ask (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		replies := d.HandleAll(ctx, cliChatID, input)
		if len(replies) == 0 {
			fmt.Fprintln(stderr, "Error: no reply")
			continue
		}
		for _, r := range replies {
			fmt.Fprintln(stdout, r.Text)
		}
	}
	return scanner.Err()
}

func runRoute(cmd *cobra.Command, args []string) error {
	d := router.Route(strings.Join(args, " "))
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	if err := os.MkdirAll(filepath.Join(config.DataDir(), "cron"), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Printf("Data dir ready: %s\n", config.DataDir())

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and telegram token\n", cfgPath)
	fmt.Println("  2. Or set MEEMOO_API_KEY and MEEMOO_TELEGRAM_TOKEN environment variables")
	fmt.Println("  3. Run 'meemoo ask -m \"/help\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Printf("API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Embedding: enabled=%v\n", cfg.Embedding.Enabled)

	printStoreStatus(cfg)
	printCronStatus(cfg)
	return nil
}

func printStoreStatus(cfg *config.Config) {
	driver := cfg.Store.Driver
	if driver == "" {
		driver = config.DefaultStoreDriver
	}
	if driver == "sqlite" {
		if _, err := os.Stat(cfg.Store.DBPath); err != nil {
			fmt.Println("Store: not found (run 'meemoo gateway' or 'meemoo ask')")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := store.Open(ctx, cfg.Store, cfg.Embedding.Dimension)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return
	}
	defer st.Close()

	count, err := st.CountMemos(ctx)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return
	}
	fmt.Printf("Store: %s, %d memos\n", driver, count)
	counts, err := st.CategoryCounts(ctx)
	if err != nil {
		return
	}
	for _, c := range counts {
		fmt.Printf("  %s: %d\n", c.Category, c.Count)
	}
}

func printCronStatus(cfg *config.Config) {
	fmt.Printf("Schedule: enabled=%v timezone=%s\n", cfg.Schedule.Enabled, cfg.Schedule.Timezone)
	svc := cron.NewService(filepath.Join(config.DataDir(), "cron", "jobs.json"), gateway.Location(cfg.Schedule.Timezone))
	jobs := svc.ListJobs()
	if len(jobs) == 0 {
		fmt.Println("Cron jobs: none")
		return
	}
	for _, j := range jobs {
		last := "never"
		if j.State.LastRunAtMs > 0 {
			last = time.UnixMilli(j.State.LastRunAtMs).Format(time.RFC3339) + " " + j.State.LastStatus
		}
		fmt.Printf("  %s (%s) last=%s\n", j.Name, j.Schedule.Expr, last)
	}
}

func maskKey(key string) string {
	switch {
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	case key != "":
		return "set"
	default:
		return "not set"
	}
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}
