package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	apiURL  string
	apiKey  string
	verbose bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "uxlens",
		Short: "UXLens CLI for project management",
		Long:  `UXLens CLI manages tracked projects and generates embed snippets`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8090", "UXLens collector URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "UXLens admin API key")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose output")

	// Bind flags to viper
	viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Environment variable support
	viper.SetEnvPrefix("UXLENS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Add commands
	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(snippetCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func projectsCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "projects",
		Short: "Project management commands",
		Long:  `Commands for managing tracked projects`,
	}

	cmd.AddCommand(projectsCreateCmd())
	cmd.AddCommand(projectsListCmd())

	return cmd
}

func projectsCreateCmd() *cobra.Command {
	var origins []string
	var webhookURL string
	var retentionDays int

	var cmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Create a project",
		Long:  `Create a tracked project and print its public key`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return createProject(args[0], origins, webhookURL, retentionDays)
		},
	}

	cmd.Flags().StringSliceVar(&origins, "origin", nil, "Allowed page origin (repeatable; empty admits all)")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "Webhook URL for new feedback")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Event retention window in days")

	return cmd
}

func projectsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Long:  `List all tracked projects`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listProjects()
		},
	}
}

func snippetCmd() *cobra.Command {
	var agentURL string
	var disable []string
	var theme string
	var maxPopups int
	var cooldownMs int
	var debug bool

	var cmd = &cobra.Command{
		Use:   "snippet [project-key]",
		Short: "Generate the embed snippet",
		Long:  `Generate the <script> tag that pages embed to enable tracking`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSnippet(args[0], agentURL, disable, theme, maxPopups, cooldownMs, debug)
		},
	}

	cmd.Flags().StringVar(&agentURL, "agent-url", "http://localhost:8091", "UXLens agent URL serving /shim.js")
	cmd.Flags().StringSliceVar(&disable, "disable", nil,
		"Feature to disable (repeatable): rage-click, dead-link, broken-image, form-frustration, popover")
	cmd.Flags().StringVar(&theme, "theme", "", "Popover theme (dark or light)")
	cmd.Flags().IntVar(&maxPopups, "max-popups", 0, "Popover cap per session")
	cmd.Flags().IntVar(&cooldownMs, "popover-cooldown", 0, "Popover cooldown in milliseconds")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable shim debug logging")

	return cmd
}

func createProject(name string, origins []string, webhookURL string, retentionDays int) error {
	body := map[string]interface{}{"name": name}
	if len(origins) > 0 {
		body["allowed_origins"] = origins
	}
	if webhookURL != "" {
		body["webhook_url"] = webhookURL
	}
	if retentionDays > 0 {
		body["retention_days"] = retentionDays
	}

	resp, err := apiRequest("POST", "/api/projects", body)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	fmt.Printf("✓ Project created\n")
	fmt.Printf("  ID:         %s\n", resp["id"])
	fmt.Printf("  Name:       %s\n", resp["name"])
	fmt.Printf("  Public key: %s\n", resp["public_key"])
	fmt.Printf("\nGenerate the embed snippet with:\n")
	fmt.Printf("  uxlens snippet %s\n", resp["public_key"])

	return nil
}

func listProjects() error {
	resp, err := apiRequest("GET", "/api/projects", nil)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	projects := resp["projects"].([]interface{})
	if len(projects) == 0 {
		fmt.Println("No projects found")
		return nil
	}

	fmt.Printf("%-36s %-20s %-42s %-8s\n", "ID", "NAME", "PUBLIC KEY", "ENABLED")
	fmt.Println(strings.Repeat("-", 110))

	for _, p := range projects {
		project := p.(map[string]interface{})
		fmt.Printf("%-36s %-20s %-42s %-8v\n",
			project["id"],
			project["name"],
			project["public_key"],
			project["enabled"])
	}

	return nil
}

func printSnippet(projectKey, agentURL string, disable []string, theme string, maxPopups, cooldownMs int, debug bool) error {
	fmt.Print(renderSnippet(projectKey, agentURL, viper.GetString("api-url"), disable, theme, maxPopups, cooldownMs, debug))
	return nil
}

func renderSnippet(projectKey, agentURL, apiURL string, disable []string, theme string, maxPopups, cooldownMs int, debug bool) string {
	disabled := map[string]bool{}
	for _, d := range disable {
		disabled[d] = true
	}

	var b strings.Builder
	b.WriteString("<script async src=\"" + agentURL + "/shim.js\"\n")
	b.WriteString("        data-project-id=\"" + projectKey + "\"\n")
	b.WriteString("        data-api-url=\"" + apiURL + "\"")

	for _, feature := range []string{"rage-click", "dead-link", "broken-image", "form-frustration", "popover"} {
		if disabled[feature] {
			b.WriteString("\n        data-" + feature + "=\"false\"")
		}
	}
	if theme != "" {
		b.WriteString("\n        data-popover-theme=\"" + theme + "\"")
	}
	if maxPopups > 0 {
		b.WriteString(fmt.Sprintf("\n        data-max-popups=\"%d\"", maxPopups))
	}
	if cooldownMs > 0 {
		b.WriteString(fmt.Sprintf("\n        data-popover-cooldown=\"%d\"", cooldownMs))
	}
	if debug {
		b.WriteString("\n        data-debug=\"true\"")
	}
	b.WriteString("></script>\n")

	return b.String()
}

func apiRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	url := viper.GetString("api-url") + path
	key := viper.GetString("api-key")

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respData))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return result, nil
}
