package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/attune/internal/api"
	"github.com/kalambet/attune/internal/config"
	"github.com/kalambet/attune/internal/personality"
	"github.com/kalambet/attune/internal/profile"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func userPath(prefix, userID, suffix string) string {
	return prefix + url.PathEscape(userID) + suffix
}

// writeFormatted renders v as JSON or YAML.
func writeFormatted(w io.Writer, format string, v any) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <user> <message>",
	Short: "Send one message through the adaptation pipeline",
	Long: `Send one message through the adaptation pipeline.

Examples:
  attune chat alice "hey, can you explain goroutines?"
  attune chat bob "Could you kindly summarise the report?" --verbose`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := sendChat(commandContext(cmd), client, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		printChat(os.Stdout, res, verbose)
		return nil
	},
}

func init() {
	chatCmd.Flags().BoolP("verbose", "v", false, "show sub-scores and the personality vector")
}

func sendChat(ctx context.Context, client *apiClient, userID, message string) (api.ChatResponse, error) {
	var res api.ChatResponse
	resp, err := client.post(ctx, userPath("/v1/chat/", userID, ""), api.ChatRequest{Message: message})
	if err != nil {
		return res, err
	}
	if err := decodeJSON(resp, &res); err != nil {
		return res, err
	}
	return res, nil
}

func printChat(w io.Writer, res api.ChatResponse, verbose bool) {
	fmt.Fprintln(w, res.AgentResponse)
	if res.Degraded {
		printWarning("reply generation failed, nothing was saved: %s", res.Error)
		return
	}

	dims := make([]string, 0, len(res.EvolutionChanges))
	for d := range res.EvolutionChanges {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	changes := make([]string, 0, len(dims))
	for _, d := range dims {
		changes = append(changes, fmt.Sprintf("%s %+.3f", d, res.EvolutionChanges[d]))
	}
	if len(changes) == 0 {
		changes = append(changes, "none")
	}
	printStatus("Changes", "%s", strings.Join(changes, ", "))
	printStatus("Quality", "%.3f", res.Quality.Overall)

	if verbose {
		for _, c := range res.Quality.Checks {
			printScore(c.Metric, c.Score, c.Threshold)
		}
		printStatus("Category", "%s", res.Quality.Category)
		for _, d := range personality.Dimensions {
			printStatus(d.String(), "%.3f", res.Personality.Get(d))
		}
	}
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or reset a user's profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's stored profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var p profile.Profile
		if err := client.getJSON(commandContext(cmd), userPath("/v1/profile/", args[0], ""), &p); err != nil {
			return err
		}
		return writeFormatted(os.Stdout, format, p)
	},
}

var profileSummaryCmd = &cobra.Command{
	Use:   "summary <user>",
	Short: "Describe a user's personality in words",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var s api.SummaryResponse
		if err := client.getJSON(commandContext(cmd), userPath("/v1/profile/", args[0], "/summary"), &s); err != nil {
			return err
		}
		fmt.Println(colorize(colorBold, s.Summary.Line))
		fmt.Println(s.Prompt)
		return nil
	},
}

var profileResetCmd = &cobra.Command{
	Use:   "reset <user>",
	Short: "Delete a user's profile and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			return fmt.Errorf("this deletes the profile of %q; re-run with --confirm", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(commandContext(cmd), userPath("/v1/profile/", args[0], ""))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Profile %s reset", args[0])
		return nil
	},
}

func init() {
	profileShowCmd.Flags().String("format", "json", "output format: json or yaml")
	profileResetCmd.Flags().Bool("confirm", false, "confirm the reset")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSummaryCmd)
	profileCmd.AddCommand(profileResetCmd)
}

// --- turns ---

var turnsCmd = &cobra.Command{
	Use:   "turns <user>",
	Short: "List a user's recent turns, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := fmt.Sprintf("%s?limit=%d", userPath("/v1/profile/", args[0], "/turns"), limit)
		var turns []profile.TurnRecord
		if err := client.getJSON(commandContext(cmd), path, &turns); err != nil {
			return err
		}
		if len(turns) == 0 {
			fmt.Println("No turns found.")
			return nil
		}
		for _, t := range turns {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, t.Timestamp.Format("2006-01-02 15:04:05")),
				truncate(t.UserText, 48),
				colorize(colorBold, fmt.Sprintf("r=%.2f e=%.2f", t.Scores.Relevance, t.Scores.Engagement)),
			)
		}
		return nil
	},
}

func init() {
	turnsCmd.Flags().Int("limit", 20, "maximum number of turns to show")
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats [user]",
	Short: "Show statistics for one user or for everyone",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)

		if len(args) == 0 {
			var gs profile.GlobalStats
			if err := client.getJSON(ctx, "/v1/stats", &gs); err != nil {
				return err
			}
			return writeFormatted(os.Stdout, format, gs)
		}

		var st profile.UserStats
		if err := client.getJSON(ctx, userPath("/v1/stats/", args[0], ""), &st); err != nil {
			return err
		}
		return writeFormatted(os.Stdout, format, st)
	},
}

func init() {
	statsCmd.Flags().String("format", "yaml", "output format: json or yaml")
}

// --- backup ---

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create or list profile backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a backup now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(commandContext(cmd), "/v1/backups", nil)
		if err != nil {
			return err
		}
		var m profile.Manifest
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}
		printSuccess("Backed up %d profiles", len(m.Users))
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var dirs []string
		if err := client.getJSON(commandContext(cmd), "/v1/backups", &dirs); err != nil {
			return err
		}
		if len(dirs) == 0 {
			fmt.Println("No backups found.")
			return nil
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
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

		for _, k := range config.ShowAll(cfg) {
			val := k.Value
			if k.Secret {
				val = colorize(colorCyan, val)
			}
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), val)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a new API bearer token and store it as server.api_token",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := newToken()
		if err := config.SetKey("server.api_token", token); err != nil {
			return err
		}
		printSuccess("New API token stored; restart the server to apply it")
		fmt.Println(token)
		return nil
	},
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configTokenCmd)
}
