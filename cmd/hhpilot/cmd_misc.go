package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hhpilot/internal/api"
	"hhpilot/internal/models"
)

// callApiCmd performs a raw authenticated API request
var callApiCmd = &cobra.Command{
	Use:   "call-api [method] [endpoint] [key=value...]",
	Short: "Perform a raw portal API request",
	Long: `Sends an authenticated request and pretty-prints the JSON response.
The endpoint may be relative to the API base or absolute.

Examples:
  hhpilot call-api GET me
  hhpilot call-api GET vacancies text=golang area=1
  hhpilot call-api DELETE negotiations/active/123456`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCallApi,
}

// logCmd shows a log file
var logCmd = &cobra.Command{
	Use:   "log [category]",
	Short: "Show a profile log (error, api, apply, reply, clear, ...)",
	Long: `Opens today's log for the given category, or the shared error log
when no category is given. Uses $PAGER when set, otherwise prints the file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLog,
}

// checkProxyCmd verifies the outbound address
var checkProxyCmd = &cobra.Command{
	Use:   "check-proxy",
	Short: "Show the public IP the portal sees",
	RunE:  runCheckProxy,
}

// deleteTelemetryCmd asks the endpoint to drop collected data
var deleteTelemetryCmd = &cobra.Command{
	Use:   "delete-telemetry",
	Short: "Delete everything the telemetry endpoint stored for this profile",
	RunE:  runDeleteTelemetry,
}

func init() {
	rootCmd.AddCommand(callApiCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(checkProxyCmd)
	rootCmd.AddCommand(deleteTelemetryCmd)
}

func runCallApi(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}

	method := strings.ToUpper(args[0])
	switch method {
	case "GET", "POST", "PUT", "DELETE":
	default:
		return fmt.Errorf("unsupported method %q", args[0])
	}
	endpoint := args[1]

	params := api.Params{}
	for _, kv := range args[2:] {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return fmt.Errorf("invalid parameter %q, expected key=value", kv)
		}
		params[key] = value
	}

	ctx, cancel := commandContext()
	defer cancel()

	env, err := newEnv(cmd)
	if err != nil {
		return err
	}

	data, err := env.API.Request(ctx, method, endpoint, params)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	logsDir := filepath.Join(cfg.config.ProfileDir(), "logs")

	path := filepath.Join(logsDir, "error.log")
	if len(args) == 1 && args[0] != "error" {
		date := time.Now().Format("2006-01-02")
		path = filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, args[0]))
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no log at %s", path)
	}

	if pager := os.Getenv("PAGER"); pager != "" {
		pagerCmd := exec.Command(pager, path)
		pagerCmd.Stdin = os.Stdin
		pagerCmd.Stdout = os.Stdout
		pagerCmd.Stderr = os.Stderr
		return pagerCmd.Run()
	}
	if editor := os.Getenv("EDITOR"); editor != "" {
		editorCmd := exec.Command(editor, path)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		return editorCmd.Run()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runCheckProxy(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	// An IP echo service answers through the same session settings the
	// portal clients use, so whatever it reports is what the portal sees.
	client, err := api.NewClient(api.ClientOptions{
		BaseURL:   "https://api.ipify.org/",
		UserAgent: cfg.config.UserAgent,
		ProxyURL:  cfg.config.Proxy(),
	})
	if err != nil {
		return err
	}

	data, err := client.Request(ctx, "GET", "", api.Params{"format": "json"})
	if err != nil {
		return err
	}

	ip := models.AsString(data["ip"])
	if proxy := cfg.config.Proxy(); proxy != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "✅ proxy %s works, public IP: %s\n", proxy, ip)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "✅ no proxy configured, public IP: %s\n", ip)
	}
	return nil
}

func runDeleteTelemetry(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	reporter, err := newReporter()
	if err != nil {
		return err
	}
	if err := reporter.Delete(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✅ telemetry data deleted")
	return nil
}
