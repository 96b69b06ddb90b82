// Package main implements the worldsmithctl command-line tool for operating a
// Worldsmith platform: launching and stopping world instances, inspecting
// edit locks, tailing engine logs and managing snapshot archives.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/runewick/worldsmith/client"
)

// Config holds the CLI configuration parameters
type Config struct {
	BaseURL    string        // Platform gateway URL
	Token      string        // Bearer token: internal secret or a service token
	CACertFile string        // Optional PEM file to trust for TLS
	Timeout    time.Duration // Per-command deadline
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `worldsmithctl

An operations utility for the Worldsmith platform. Launch and stop world
instances, inspect edit locks, tail engine logs and manage snapshot archives.

Usage:
  %s [options] <command> [args]

Options:
`, os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Commands:
  status                        Show platform status
  list                          List supervised instances
  launch <world-id>             Boot an engine instance for a world
  shutdown <world-id>           Stop a world's instance and save its data
  restart <world-id>            Stop and relaunch a world's instance
  instance <world-id>           Show a world's instance
  lock <world-id>               Show a world's edit-lock verdict
  logs <world-id> [after-id]    Print engine log entries after the given id
  migrate <world-id> <dest>     Move the world's snapshot archive to dest
  import <world-id> <zip-file>  Replace world data from a snapshot archive
  token <service-name>          Mint a service token (internal secret only)

Examples:
  %s -url=https://worlds.example.com -token=$SECRET launch w-123
  %s -url=https://worlds.example.com -token=$SECRET logs w-123 40
`, os.Args[0], os.Args[0])
}

func main() {
	var config Config
	var showHelp bool

	defaultURL := os.Getenv("WORLDSMITH_URL")
	if defaultURL == "" {
		defaultURL = "https://localhost:8443"
	}

	flag.StringVar(&config.BaseURL, "url", defaultURL, "Platform gateway URL (or WORLDSMITH_URL)")
	flag.StringVar(&config.Token, "token", os.Getenv("WORLDSMITH_TOKEN"), "Bearer token (or WORLDSMITH_TOKEN)")
	flag.StringVar(&config.CACertFile, "cacert", "", "PEM certificate file to trust for TLS")
	flag.DurationVar(&config.Timeout, "timeout", 2*time.Minute, "Per-command timeout")
	flag.BoolVar(&showHelp, "help", false, "Show this help message")
	flag.BoolVar(&showHelp, "h", false, "Show this help message")

	flag.Usage = printUsage
	flag.Parse()

	if showHelp || flag.NArg() == 0 {
		printUsage()
		if showHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if config.Token == "" {
		fmt.Fprintf(os.Stderr, "Error: a bearer token is required (-token or WORLDSMITH_TOKEN)\n\n")
		printUsage()
		os.Exit(1)
	}

	httpClient, err := buildHTTPClient(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	c := client.New(config.BaseURL, config.Token, client.WithHTTPClient(httpClient))

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	if err := runCommand(ctx, c, flag.Arg(0), flag.Args()[1:]); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// buildHTTPClient constructs the HTTP client, trusting an extra CA
// certificate when one is configured.
func buildHTTPClient(config Config) (*http.Client, error) {
	httpClient := &http.Client{Timeout: config.Timeout}
	if config.CACertFile == "" {
		return httpClient, nil
	}

	pem, err := os.ReadFile(config.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from %s", config.CACertFile)
	}
	httpClient.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}
	return httpClient, nil
}

// reportError prints an error, expanding lock rejections into the full
// verdict so the operator can see who owns the world.
func reportError(err error) {
	if lock := client.LockInfo(err); lock != nil {
		fmt.Fprintf(os.Stderr, "World is locked (%s): %s\n", lock.Status, lock.Reason)
		if lock.InstanceURL != "" {
			fmt.Fprintf(os.Stderr, "Owning instance: %s (%s)\n", lock.InstanceID, lock.InstanceURL)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func runCommand(ctx context.Context, c *client.Client, command string, args []string) error {
	switch command {
	case "status":
		return runStatus(ctx, c)
	case "list":
		return runList(ctx, c)
	case "launch":
		return runLaunch(ctx, c, args)
	case "shutdown":
		return runShutdown(ctx, c, args)
	case "restart":
		return runRestart(ctx, c, args)
	case "instance":
		return runInstance(ctx, c, args)
	case "lock":
		return runLock(ctx, c, args)
	case "logs":
		return runLogs(ctx, c, args)
	case "migrate":
		return runMigrate(ctx, c, args)
	case "import":
		return runImport(ctx, c, args)
	case "token":
		return runToken(ctx, c, args)
	default:
		return fmt.Errorf("unknown command %q (run with -help for usage)", command)
	}
}

// worldArg extracts the required world id from a command's arguments.
func worldArg(command string, args []string) (string, error) {
	if len(args) < 1 || args[0] == "" {
		return "", fmt.Errorf("%s requires a world id", command)
	}
	return args[0], nil
}

func runStatus(ctx context.Context, c *client.Client) error {
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Status: %s\n", status.Status)
	fmt.Printf("Running instances: %d\n", status.RunningInstances)
	return nil
}

func runList(ctx context.Context, c *client.Client) error {
	list, err := c.Instances(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No supervised instances.")
		return nil
	}
	fmt.Printf("%-24s %-10s %7s %7s %8s  %s\n", "WORLD", "STATUS", "PID", "PORT", "UPTIME", "URL")
	for _, info := range list {
		uptime := time.Since(info.StartedAt).Round(time.Second)
		fmt.Printf("%-24s %-10s %7d %7d %8s  %s\n",
			info.WorldID, info.Status, info.PID, info.Port, uptime, info.URL)
	}
	return nil
}

func printInstance(info *client.Instance) {
	fmt.Printf("World ID: %s\n", info.WorldID)
	fmt.Printf("Status: %s\n", info.Status)
	fmt.Printf("PID: %d\n", info.PID)
	fmt.Printf("Game port: %d\n", info.Port)
	fmt.Printf("API port: %d\n", info.APIPort)
	fmt.Printf("Started at: %s\n", info.StartedAt.Format(time.RFC3339))
	fmt.Printf("Play URL: %s\n", info.URL)
}

func runLaunch(ctx context.Context, c *client.Client, args []string) error {
	worldID, err := worldArg("launch", args)
	if err != nil {
		return err
	}
	fmt.Printf("Launching world %s (waiting for the engine to report healthy)...\n", worldID)
	info, err := c.LaunchWorld(ctx, worldID, nil)
	if err != nil {
		return err
	}
	fmt.Printf("\nWorld launched successfully!\n")
	printInstance(info)
	return nil
}

func runShutdown(ctx context.Context, c *client.Client, args []string) error {
	worldID, err := worldArg("shutdown", args)
	if err != nil {
		return err
	}
	if err := c.ShutdownWorld(ctx, worldID); err != nil {
		return err
	}
	fmt.Printf("World %s shut down and saved to storage.\n", worldID)
	return nil
}

func runRestart(ctx context.Context, c *client.Client, args []string) error {
	worldID, err := worldArg("restart", args)
	if err != nil {
		return err
	}
	fmt.Printf("Restarting world %s...\n", worldID)
	info, err := c.RestartWorld(ctx, worldID)
	if err != nil {
		return err
	}
	fmt.Printf("\nWorld restarted successfully!\n")
	printInstance(info)
	return nil
}

func runInstance(ctx context.Context, c *client.Client, args []string) error {
	worldID, err := worldArg("instance", args)
	if err != nil {
		return err
	}
	info, err := c.WorldInstance(ctx, worldID)
	if err != nil {
		return err
	}
	printInstance(info)
	return nil
}

func runLock(ctx context.Context, c *client.Client, args []string) error {
	worldID, err := worldArg("lock", args)
	if err != nil {
		return err
	}
	lock, err := c.WorldLock(ctx, worldID)
	if err != nil {
		return err
	}
	if lock.Editable {
		fmt.Printf("World %s is editable (%s).\n", worldID, lock.Status)
	} else {
		fmt.Printf("World %s is locked (%s).\n", worldID, lock.Status)
	}
	if lock.Reason != "" {
		fmt.Printf("Reason: %s\n", lock.Reason)
	}
	if lock.InstanceURL != "" {
		fmt.Printf("Owning instance: %s (%s)\n", lock.InstanceID, lock.InstanceURL)
	}
	return nil
}

func runLogs(ctx context.Context, c *client.Client, args []string) error {
	worldID, err := worldArg("logs", args)
	if err != nil {
		return err
	}
	var afterID int64
	if len(args) > 1 {
		afterID, err = strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid after-id %q: %w", args[1], err)
		}
	}
	logs, err := c.WorldLogs(ctx, worldID, afterID)
	if err != nil {
		return err
	}
	for _, entry := range logs.Entries {
		fmt.Printf("%s %6d [%s] %s\n",
			entry.Timestamp.Format(time.RFC3339), entry.ID, entry.Source, entry.Message)
	}
	fmt.Printf("Latest id: %d\n", logs.LatestID)
	return nil
}

func runMigrate(ctx context.Context, c *client.Client, args []string) error {
	worldID, err := worldArg("migrate", args)
	if err != nil {
		return err
	}
	if len(args) < 2 || args[1] == "" {
		return fmt.Errorf("migrate requires a destination directory")
	}
	fmt.Printf("Migrating snapshot for world %s to %s...\n", worldID, args[1])
	result, err := c.MigrateWorld(ctx, worldID, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot migrated: %s\n", result.SnapshotURL)
	return nil
}

func runImport(ctx context.Context, c *client.Client, args []string) error {
	worldID, err := worldArg("import", args)
	if err != nil {
		return err
	}
	if len(args) < 2 || args[1] == "" {
		return fmt.Errorf("import requires a snapshot archive path")
	}
	archive, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := c.ImportWorldData(ctx, worldID, archive); err != nil {
		return err
	}
	fmt.Printf("World %s data replaced from %s.\n", worldID, args[1])
	return nil
}

func runToken(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 1 || args[0] == "" {
		return fmt.Errorf("token requires a service name")
	}
	token, expiresAt, err := c.IssueServiceToken(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Token: %s\n", token)
	fmt.Printf("Expires: %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
