package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/finch/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <query>",
	Short: "Ask the analyst a question and stream the answer",
	Long: `Ask the analyst a question and stream the answer.

Examples:
  finch chat --user u_abc "What was AAPL revenue in 2024?"
  finch chat --user u_abc --web-search "Latest NVDA earnings"
  finch chat --user u_abc --doc-search --thread t_xyz "What does page 12 say about margins?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		userID, _ := cmd.Flags().GetString("user")
		threadID, _ := cmd.Flags().GetString("thread")
		webSearch, _ := cmd.Flags().GetBool("web-search")
		docSearch, _ := cmd.Flags().GetBool("doc-search")

		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"user_id":         userID,
			"query":           query,
			"web_search":      webSearch,
			"document_search": docSearch,
		}
		if threadID != "" {
			body["thread_id"] = threadID
		}

		resp, err := client.postStream(cmd.Context(), "/v1/chat", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			var errBody struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.NewDecoder(resp.Body).Decode(&errBody) == nil && errBody.Error.Message != "" {
				return fmt.Errorf("server returned %d: %s", resp.StatusCode, errBody.Error.Message)
			}
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		return streamChat(resp.Body)
	},
}

type chatEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// streamChat prints a server-sent event stream: content deltas to
// stdout as they arrive, the thread id and any error to stderr.
func streamChat(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var streamErr error
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev chatEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return fmt.Errorf("malformed event: %w", err)
		}

		switch ev.Type {
		case "thread_id":
			printStatus("Thread", "%s", ev.Content)
		case "content":
			fmt.Print(ev.Content)
		case "error":
			streamErr = fmt.Errorf("%s", ev.Content)
		case "done":
			fmt.Println()
			return streamErr
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return fmt.Errorf("stream ended without done event")
}

func init() {
	chatCmd.Flags().String("user", "", "acting user id")
	chatCmd.Flags().String("thread", "", "continue an existing thread")
	chatCmd.Flags().Bool("web-search", false, "ground the answer in web search")
	chatCmd.Flags().Bool("doc-search", false, "ground the answer in uploaded documents")
}

// --- users ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/users", map[string]string{
			"email":    args[0],
			"password": password,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created user %s (%s)", result["id"], result["email"])
		return nil
	},
}

func init() {
	usersCreateCmd.Flags().String("password", "", "initial password")
	usersCmd.AddCommand(usersCreateCmd)
}

// --- threads ---

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Browse conversation threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/threads?user_id="+url.QueryEscape(userID))
		if err != nil {
			return err
		}

		var result struct {
			Threads []struct {
				ID         string `json:"id"`
				FirstQuery string `json:"first_query"`
				TurnCount  int    `json:"turn_count"`
				CreatedAt  string `json:"created_at"`
			} `json:"threads"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Threads) == 0 {
			fmt.Println("no threads")
			return nil
		}
		for _, th := range result.Threads {
			fmt.Printf("%s  %s  (%d turns)  %s\n",
				colorize(colorBold, th.ID), th.CreatedAt, th.TurnCount, th.FirstQuery)
		}
		return nil
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Show a thread's turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/threads/%s?user_id=%s", args[0], url.QueryEscape(userID))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			ID    string `json:"id"`
			Turns []struct {
				Query    string `json:"query"`
				Response string `json:"response"`
			} `json:"turns"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for i, turn := range result.Turns {
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("%s %s\n", colorize(colorCyan, "Q:"), turn.Query)
			fmt.Printf("%s %s\n", colorize(colorGreen, "A:"), turn.Response)
		}
		return nil
	},
}

func init() {
	threadsListCmd.Flags().String("user", "", "acting user id")
	threadsShowCmd.Flags().String("user", "", "acting user id")
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsShowCmd)
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage uploaded documents",
}

var uploadCmd = &cobra.Command{
	Use:   "upload <url>",
	Short: "Ingest a PDF document by URL",
	Long: `Ingest a PDF document by URL.

The server fetches the PDF, extracts its text page by page, and indexes
it for document search. Ingestion runs in the background; check progress
with "finch documents list".

Example:
  finch upload --user u_abc --name 10-K.pdf https://example.com/10-K.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Queueing %s for ingestion...", args[0])
		resp, err := client.post(cmd.Context(), "/documents", map[string]string{
			"user_id":   userID,
			"url":       args[0],
			"file_name": name,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Document %s queued (status: %s)", result["id"], result["status"])
		return nil
	},
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents?user_id="+url.QueryEscape(userID))
		if err != nil {
			return err
		}

		var result struct {
			Documents []struct {
				ID       string `json:"id"`
				FileName string `json:"file_name"`
				Status   string `json:"status"`
			} `json:"documents"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Documents) == 0 {
			fmt.Println("no documents")
			return nil
		}
		for _, doc := range result.Documents {
			fmt.Printf("%s  %-10s  %s\n", colorize(colorBold, doc.ID), doc.Status, doc.FileName)
		}
		return nil
	},
}

var documentsRemoveCmd = &cobra.Command{
	Use:   "remove <document-id>",
	Short: "Delete a document and its index entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/documents/%s?user_id=%s", args[0], url.QueryEscape(userID))
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("user", "", "acting user id")
	uploadCmd.Flags().String("name", "", "display name for the document")
	documentsListCmd.Flags().String("user", "", "acting user id")
	documentsRemoveCmd.Flags().String("user", "", "acting user id")
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsRemoveCmd)
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
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
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

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
