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
	"gopkg.in/yaml.v3"

	"github.com/rugintel/sentinel/internal/config"
	"github.com/rugintel/sentinel/internal/markdown"
	"github.com/rugintel/sentinel/internal/pipeline"
	"github.com/rugintel/sentinel/internal/storage"
	"github.com/rugintel/sentinel/internal/widget"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the assistant a single question",
	Long: `Ask the assistant a single question.

By default the question is sent to the running server. With --local the
knowledge base is read and Gemini is called from this process.

Examples:
  sentinel ask "What is RugIntel?"
  sentinel ask --local --html "How do the 12 layers work?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		local, _ := cmd.Flags().GetBool("local")
		asHTML, _ := cmd.Flags().GetBool("html")

		asker, cleanup, err := newAsker(local)
		if err != nil {
			return err
		}
		defer cleanup()

		answer, err := asker.Ask(cmd.Context(), question)
		if err != nil {
			return describeAskError(err)
		}
		if asHTML {
			answer = markdown.Render(answer)
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("local", false, "answer in-process instead of calling the running server")
	askCmd.Flags().Bool("html", false, "print the answer rendered as HTML")
}

// localAsker answers through an in-process pipeline.
type localAsker struct {
	answerer *pipeline.Answerer
}

func (l localAsker) Ask(ctx context.Context, message string) (string, error) {
	ans, err := l.answerer.Answer(ctx, message)
	if err != nil {
		return "", err
	}
	return ans.Text, nil
}

func newAsker(local bool) (widget.Asker, func(), error) {
	if !local {
		client, err := newAPIClient()
		if err != nil {
			return nil, nil, err
		}
		return client.chat(), func() {}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cfg, setupLogging(cfg.Log.Level))
	if err != nil {
		return nil, nil, err
	}
	return localAsker{answerer: a.answerer}, func() { a.Close() }, nil
}

func describeAskError(err error) error {
	var se *widget.StatusError
	switch {
	case errors.Is(err, pipeline.ErrEmptyMessage):
		return errors.New("question must not be empty")
	case errors.Is(err, pipeline.ErrNotConfigured):
		return errors.New("Gemini API key not configured. Please set SENTINEL_GEMINI_API_KEY (or GEMINI_API_KEY)")
	case errors.As(err, &se):
		return fmt.Errorf("server error (HTTP %d): %s", se.StatusCode, se.Message)
	default:
		return err
	}
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session on the terminal.

Type a question and press enter. /reset clears the conversation and
/quit (or end of input) leaves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		asker, cleanup, err := newAsker(local)
		if err != nil {
			return err
		}
		defer cleanup()
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), widget.NewSession(asker))
	},
}

func init() {
	chatCmd.Flags().Bool("local", false, "answer in-process instead of calling the running server")
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, session *widget.Session) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, m := range session.Messages() {
		printMessage(out, m)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, userStyle.Render("You: "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			session.Reset()
			printMessage(out, session.Messages()[0])
			continue
		}

		reply, err := session.Send(ctx, line)
		if err != nil {
			fmt.Fprintln(out, dimStyle.Render("("+err.Error()+")"))
		}
		printMessage(out, reply)
	}
}

func printMessage(out io.Writer, m widget.Message) {
	if m.Role != widget.RoleAssistant {
		return
	}
	fmt.Fprintf(out, "%s %s\n", botStyle.Render("Sentinel:"), m.Content)
}

// --- render ---

var renderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Render assistant markdown to HTML",
	Long: `Render assistant markdown (bold, italic and bullet lists) to the HTML
fragment the chat widget displays. Reads the file argument or stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening input: %w", err)
			}
			defer f.Close()
			in = f
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), markdown.Render(strings.TrimRight(string(data), "\n")))
		return nil
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Inspect recorded interactions",
	Long: `Inspect interactions recorded by the running server.

Requires storage.record_interactions=true on the server and
SENTINEL_API_TOKEN set to the server's api.token.`,
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/interactions?limit=%d", limit))
		if err != nil {
			return err
		}
		var interactions []storage.Interaction
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(interactions) == 0 {
			fmt.Fprintln(out, "No interactions found.")
			return nil
		}
		for _, ix := range interactions {
			fmt.Fprintf(out, "%s  %s  %s  %s\n",
				idStyle.Render(shortID(ix.ID)),
				ix.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				dimStyle.Render(fmt.Sprintf("%-8s %3d", ix.Status, ix.StatusCode)),
				truncate(ix.UserQuery, 80),
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/interactions/"+args[0])
		if err != nil {
			return err
		}
		var ix storage.Interaction
		if err := decodeJSON(resp, &ix); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("ID:"), ix.ID)
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Created:"), ix.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "%s %s (%d)\n", labelStyle.Render("Status:"), ix.Status, ix.StatusCode)
		fmt.Fprintf(out, "%s %s, %dms\n", labelStyle.Render("Model:"), ix.Model, ix.DurationMs)
		fmt.Fprintf(out, "\n%s\n%s\n", labelStyle.Render("Question"), ix.UserQuery)
		fmt.Fprintf(out, "\n%s\n%s\n", labelStyle.Render("Response"), ix.Response)
		return nil
	},
}

var interactionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recorded interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/interactions/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted interaction %s", args[0])
		return nil
	},
}

var interactionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all recorded interactions as YAML or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		if format != "yaml" && format != "json" {
			return fmt.Errorf("unsupported format %q (want yaml or json)", format)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		n, err := exportInteractions(cmd.Context(), client, w, format)
		if err != nil {
			return err
		}
		if output != "" {
			printSuccess("Exported %d interactions to %s", n, output)
		}
		return nil
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsExportCmd.Flags().String("format", "yaml", "output format: yaml or json")
	interactionsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
	interactionsCmd.AddCommand(interactionsDeleteCmd)
	interactionsCmd.AddCommand(interactionsExportCmd)
}

const exportPageSize = 100

// exportInteractions pages through the server's interaction log and writes
// every record to w.
func exportInteractions(ctx context.Context, client *apiClient, w io.Writer, format string) (int, error) {
	var all []storage.Interaction
	for offset := 0; ; offset += exportPageSize {
		resp, err := client.get(ctx, fmt.Sprintf("/interactions?limit=%d&offset=%d", exportPageSize, offset))
		if err != nil {
			return 0, err
		}
		var page []storage.Interaction
		if err := decodeJSON(resp, &page); err != nil {
			return 0, err
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}
	if all == nil {
		all = []storage.Interaction{}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(all); err != nil {
			return 0, err
		}
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(all); err != nil {
			return 0, err
		}
		if err := enc.Close(); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
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
		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s %s\n", labelStyle.Render(k.Key), k.Value, dimStyle.Render("("+k.EnvVar+")"))
		}
		apiKey := "not set"
		if cfg.Gemini.APIKey != "" {
			apiKey = "set"
		}
		fmt.Fprintf(out, "  %s = %s\n", labelStyle.Render("gemini.api_key"), apiKey)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
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
	Short: "Remove a configuration value, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
