package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/ingestd/internal/api"
	"github.com/kalambet/ingestd/internal/config"
	"github.com/kalambet/ingestd/internal/storage"
)

// --- companion ---

var companionCmd = &cobra.Command{
	Use:   "companion",
	Short: "Register and inspect companions",
}

var companionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a companion and queue ingestion of its attachment",
	Long: `Register a companion and queue ingestion of its attachment.

Examples:
  ingestd companion add --name "Cell biology" --ref uploads/bio-101.pdf
  ingestd companion add --name Physics --subject mechanics --ref https://files.example.com/phys.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		subject, _ := cmd.Flags().GetString("subject")
		ref, _ := cmd.Flags().GetString("ref")

		if strings.TrimSpace(name) == "" || strings.TrimSpace(ref) == "" {
			return fmt.Errorf("--name and --ref are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/companions", api.CreateCompanionRequest{
			Name:          name,
			Subject:       subject,
			AttachmentRef: ref,
		})
		if err != nil {
			return err
		}

		var result api.EnqueueResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), result.Companion.ID)
		printSuccess("Registered companion %s, ingestion job %s queued", result.Companion.ID, result.Job.ID)
		return nil
	},
}

var companionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/companions?limit=%d", limit))
		if err != nil {
			return err
		}

		var companions []storage.Companion
		if err := decodeJSON(resp, &companions); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(companions) == 0 {
			fmt.Fprintln(out, "no companions")
			return nil
		}
		for _, c := range companions {
			fmt.Fprintf(out, "%s  %-8s  %s\n", c.ID, statusColor(c.EmbeddingStatus), c.Name)
		}
		return nil
	},
}

var companionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a companion's embedding status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/companions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var c api.CompanionResponse
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printField(out, "ID", c.ID)
		printField(out, "Name", c.Name)
		if c.Subject != "" {
			printField(out, "Subject", c.Subject)
		}
		printField(out, "Attachment", c.AttachmentRef)
		printField(out, "Status", statusColor(c.EmbeddingStatus))
		printField(out, "Chunks", fmt.Sprintf("%d", c.Chunks))
		printField(out, "Updated", c.UpdatedAt.Local().Format(time.DateTime))
		return nil
	},
}

var companionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a companion with its document, chunks and jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/companions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Deleted companion %s", args[0])
		return nil
	},
}

var companionReingestCmd = &cobra.Command{
	Use:   "reingest <id>",
	Short: "Queue a fresh ingestion of a companion's attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/companions/"+url.PathEscape(args[0])+"/reingest", nil)
		if err != nil {
			return err
		}

		var result api.EnqueueResponse
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), result.Job.ID)
		printSuccess("Queued job %s for companion %s", result.Job.ID, args[0])
		return nil
	},
}

func init() {
	companionAddCmd.Flags().String("name", "", "companion name")
	companionAddCmd.Flags().String("subject", "", "subject the companion covers")
	companionAddCmd.Flags().String("ref", "", "attachment reference (blob key, path or URL)")
	companionListCmd.Flags().Int("limit", 20, "maximum number of companions")

	companionCmd.AddCommand(companionAddCmd)
	companionCmd.AddCommand(companionListCmd)
	companionCmd.AddCommand(companionShowCmd)
	companionCmd.AddCommand(companionDeleteCmd)
	companionCmd.AddCommand(companionReingestCmd)
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect ingestion jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingestion jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		companionID, _ := cmd.Flags().GetString("companion")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("limit", fmt.Sprintf("%d", limit))
		if state != "" {
			q.Set("state", state)
		}
		path := "/jobs?"
		if companionID != "" {
			path = "/companions/" + url.PathEscape(companionID) + "/jobs?"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), path+q.Encode())
		if err != nil {
			return err
		}

		var jobs []storage.Job
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(jobs) == 0 {
			fmt.Fprintln(out, "no jobs")
			return nil
		}
		for _, j := range jobs {
			fmt.Fprintf(out, "%s  %-10s  attempts=%d  companion=%s\n", j.ID, statusColor(j.State), j.Attempts, j.CompanionID)
		}
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one ingestion job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var j storage.Job
		if err := decodeJSON(resp, &j); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printField(out, "ID", j.ID)
		printField(out, "Companion", j.CompanionID)
		printField(out, "State", statusColor(j.State))
		printField(out, "Attempts", fmt.Sprintf("%d", j.Attempts))
		if j.Error != "" {
			printField(out, "Error", j.Error)
		}
		printField(out, "Created", j.CreatedAt.Local().Format(time.DateTime))
		printField(out, "Updated", j.UpdatedAt.Local().Format(time.DateTime))
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("companion", "", "only jobs of this companion")
	jobsListCmd.Flags().String("state", "", "only jobs in this state (queued, processing, done, failed)")
	jobsListCmd.Flags().Int("limit", 20, "maximum number of jobs")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
}

// --- retrieve ---

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <companion-id> <query...>",
	Short: "Show the chunks of a companion closest to a query",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		companionID := args[0]
		query := strings.Join(args[1:], " ")

		req := api.RetrieveRequest{Query: query}
		if cmd.Flags().Changed("top-k") {
			k, _ := cmd.Flags().GetInt("top-k")
			req.TopK = &k
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/companions/"+url.PathEscape(companionID)+"/retrieve", req)
		if err != nil {
			return err
		}

		var matches []storage.ChunkMatch
		if err := decodeJSON(resp, &matches); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(matches) == 0 {
			fmt.Fprintln(out, "no chunks")
			return nil
		}
		for _, m := range matches {
			header := fmt.Sprintf("#%d  distance=%.4f", m.ChunkIndex, m.Distance)
			fmt.Fprintln(out, colorize(colorBold, header))
			fmt.Fprintln(out, preview(m.Content, 300))
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	retrieveCmd.Flags().Int("top-k", 5, "number of chunks to return")
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
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secrets (database URL, API keys) go to the secrets file.\n\nKeys:\n  " +
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

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, label+":"), value)
}

// preview shortens s to at most n runes on a single line.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
