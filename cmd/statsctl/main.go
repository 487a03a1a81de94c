// main.go - operator tool for the statistics query service
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/wp-statistics/wp-statistics-sub019/internal"
	"github.com/wp-statistics/wp-statistics-sub019/internal/auth"
	"github.com/wp-statistics/wp-statistics-sub019/internal/formatter"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/seeder"
	"github.com/wp-statistics/wp-statistics-sub019/internal/sites"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultSeedDays        = 30
	defaultVisitsPerDay    = 50
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// NeedsApp reports whether Execute uses the database
	NeedsApp() bool
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&SitesCommand{},
	&QueryCommand{},
	&ExportCommand{},
	&HashKeyCommand{},
	&HelpCommand{},
}

func main() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()
	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	var app *internal.Application
	if cmd.NeedsApp() {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Fatalf("Failed to initialize app: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
			if err := app.Close(); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}()
	}

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Printf("Command %s failed: %v", cmd.Name(), err)
		os.Exit(1)
	}
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }
func (c *MigrateCommand) NeedsApp() bool      { return true }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the DB with sample visits
type SeedCommand struct{}

func (c *SeedCommand) Name() string { return "seed" }
func (c *SeedCommand) Description() string {
	return "Seeds sample sites with visits: seed [days] [visits-per-day]"
}
func (c *SeedCommand) NeedsApp() bool { return true }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	days, perDay := defaultSeedDays, defaultVisitsPerDay
	var err error
	if len(args) >= 1 {
		if days, err = positiveInt(args[0], "days"); err != nil {
			return err
		}
	}
	if len(args) >= 2 {
		if perDay, err = positiveInt(args[1], "visits-per-day"); err != nil {
			return err
		}
	}

	se := seeder.NewSeeder(app.DBManager, slog.Default(), 0)
	se.Days = days
	se.VisitCount = days * perDay * len(se.Domains)
	if err := se.Run(ctx); err != nil {
		return err
	}
	// A shared cache may still hold the seeded days as empty
	if err := app.Engine.Results.Purge(ctx); err != nil {
		log.Printf("Warning: failed to purge result cache: %v", err)
	}
	return nil
}

func positiveInt(arg, name string) (int, error) {
	n, err := cast.ToIntE(arg)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, arg)
	}
	return n, nil
}

// SitesCommand lists the active sites
type SitesCommand struct{}

func (c *SitesCommand) Name() string        { return "sites" }
func (c *SitesCommand) Description() string { return "Lists active sites" }
func (c *SitesCommand) NeedsApp() bool      { return true }

func (c *SitesCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	active, err := sites.ListActive(app.DBManager.GetConnection())
	if err != nil {
		return fmt.Errorf("failed to list sites: %w", err)
	}
	if len(active) == 0 {
		fmt.Println("No active sites")
		return nil
	}
	fmt.Printf("%-6s %-32s %s\n", "ID", "DOMAIN", "NAME")
	for _, s := range active {
		fmt.Printf("%-6d %-32s %s\n", s.ID, s.Domain, s.Name)
	}
	return nil
}

// QueryCommand runs a query document and prints the response
type QueryCommand struct{}

func (c *QueryCommand) Name() string { return "query" }
func (c *QueryCommand) Description() string {
	return "Runs a JSON or YAML query document and prints the response: query <file|->"
}
func (c *QueryCommand) NeedsApp() bool { return true }

func (c *QueryCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <file|->", c.Name())
	}
	raw, err := readDocument(args[0])
	if err != nil {
		return err
	}

	// The operator holds every key
	payload, err := app.Engine.Handler.Handle(ctx, raw, auth.Grant(auth.LevelNetworkAdmin))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, payload)
}

// ExportCommand writes a query as a CSV or XLSX file
type ExportCommand struct{}

func (c *ExportCommand) Name() string { return "export" }
func (c *ExportCommand) Description() string {
	return "Exports a query document to a file: export <file|-> <out.csv|out.xlsx>"
}
func (c *ExportCommand) NeedsApp() bool { return true }

func (c *ExportCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <file|-> <out.csv|out.xlsx>", c.Name())
	}
	out := args[1]
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(out), "."))
	if ext != "csv" && ext != "xlsx" {
		return fmt.Errorf("output must end in .csv or .xlsx, got %q", out)
	}

	raw, err := readDocument(args[0])
	if err != nil {
		return err
	}
	if query.IsBatch(raw) || query.IsNetwork(raw) {
		return errors.New("export accepts a single query")
	}
	raw["format"] = string(query.FormatExport)

	outcome, err := app.Engine.Handler.Query(ctx, raw)
	if err != nil {
		return err
	}
	grid, ok := outcome.Payload.(*formatter.ExportResponse)
	if !ok {
		return fmt.Errorf("unexpected export payload %T", outcome.Payload)
	}

	var buf bytes.Buffer
	if ext == "xlsx" {
		err = formatter.WriteXLSX(&buf, grid)
	} else {
		err = formatter.WriteCSV(&buf, grid)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	log.Printf("Wrote %d rows to %s", len(grid.Rows), out)
	return nil
}

// HashKeyCommand prints the bcrypt hash to configure for an API key
type HashKeyCommand struct{}

func (c *HashKeyCommand) Name() string { return "hash-key" }
func (c *HashKeyCommand) Description() string {
	return "Prints the hash to configure for an API key: hash-key [key]"
}
func (c *HashKeyCommand) NeedsApp() bool { return false }

func (c *HashKeyCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	var key string
	switch {
	case len(args) >= 1:
		key = args[0]
	case term.IsTerminal(int(os.Stdin.Fd())):
		fmt.Fprint(os.Stderr, "Enter API key: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = string(b)
	default:
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }
func (c *HelpCommand) NeedsApp() bool      { return false }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// readDocument reads a query from path, or stdin for "-". YAML is accepted
// since every JSON document is also YAML.
func readDocument(path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read query: %w", err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("query must be a JSON or YAML object: %w", err)
	}
	return raw, nil
}

// printJSON indents output for terminals and keeps it compact for pipes.
func printJSON(w *os.File, payload any) error {
	enc := json.NewEncoder(w)
	if term.IsTerminal(int(w.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(payload)
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: statsctl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
