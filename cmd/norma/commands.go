package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/spf13/cobra"

	"github.com/norma-app/norma/internal/config"
	"github.com/norma-app/norma/internal/storage"
)

// --- log ---

var logCmd = &cobra.Command{
	Use:   "log <statement>",
	Short: "Record something you did, in plain language",
	Long: `Record something you did, in plain language.

Examples:
  norma log "I drank a cup of coffee this morning"
  norma log "Went for a 5k run yesterday evening"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statement := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/log", map[string]any{"text": statement})
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusNoContent {
			resp.Body.Close()
			printWarning("Nothing to log: the statement was blank")
			return nil
		}

		var event storage.Event
		if err := decodeJSON(resp, &event); err != nil {
			return err
		}

		printSuccess("Recorded event %d: %s (%s)", event.ID, event.EventText, event.Timestamp)
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <question>",
	Short: "Ask a question about your event history",
	Long: `Ask a question about your event history.

Examples:
  norma search "When did I last drink coffee?"
  norma search "What did I do on October 26th?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/search?q=" + url.QueryEscape(question)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []storage.Event
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No matching events found.")
			return nil
		}

		for i, e := range results {
			fmt.Printf("\n%s\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)))
			fmt.Printf("  %s\n", e.EventText)
			fmt.Printf("  %s\n", colorize(colorCyan, e.Timestamp))
		}
		return nil
	},
}

// --- events ---

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Browse stored event records",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent events",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/events?limit=%d&offset=%d", limit, offset)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var events []storage.Event
		if err := decodeJSON(resp, &events); err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No events found.")
			return nil
		}

		for _, e := range events {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, fmt.Sprintf("%4d", e.ID)),
				e.Timestamp,
				truncate(e.EventText, 80),
			)
		}
		return nil
	},
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single event as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/events/"+args[0])
		if err != nil {
			return err
		}

		var event storage.Event
		if err := decodeJSON(resp, &event); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(event)
	},
}

func init() {
	eventsListCmd.Flags().Int("limit", 20, "maximum number of events to list")
	eventsListCmd.Flags().Int("offset", 0, "number of events to skip")
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsShowCmd)
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import statements from a file, one event per line",
	Long: `Import statements from a file, one event per line.

Each non-blank line is logged as if typed with "norma log".

Examples:
  norma import --file ./journal.txt
  norma import --pdf ./diary.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		pdfPath, _ := cmd.Flags().GetString("pdf")

		if file == "" && pdfPath == "" {
			return fmt.Errorf("one of --file or --pdf is required")
		}
		if file != "" && pdfPath != "" {
			return fmt.Errorf("--file and --pdf are mutually exclusive")
		}

		var lines []string
		var err error
		if file != "" {
			lines, err = readLines(file)
		} else {
			lines, err = readPDFLines(pdfPath)
		}
		if err != nil {
			return err
		}

		if len(lines) == 0 {
			printWarning("Nothing to import")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Importing %d statements...", len(lines))
		imported, skipped := 0, 0
		for start := 0; start < len(lines); start += importChunkSize {
			end := min(start+importChunkSize, len(lines))
			resp, err := client.post(cmd.Context(), "/log/batch", map[string]any{"texts": lines[start:end]})
			if err != nil {
				return err
			}

			var events []*storage.Event
			if err := decodeJSON(resp, &events); err != nil {
				return fmt.Errorf("importing statements %d-%d: %w", start+1, end, err)
			}
			for _, e := range events {
				if e == nil {
					skipped++
				} else {
					imported++
				}
			}
		}

		printSuccess("Imported %d events (%d skipped)", imported, skipped)
		return nil
	},
}

// importChunkSize bounds each batch request so large files stay under the
// server's request body limit.
const importChunkSize = 50

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return lines, nil
}

func readPDFLines(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting PDF text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, fmt.Errorf("reading PDF text: %w", err)
	}

	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func init() {
	importCmd.Flags().String("file", "", "text file to import, one statement per line")
	importCmd.Flags().String("pdf", "", "PDF file to import, one statement per line")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all stored events as JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var writer *os.File
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		} else {
			writer = os.Stdout
		}

		enc := json.NewEncoder(writer)

		offset := 0
		total := 0
		for {
			resp, err := client.get(cmd.Context(), fmt.Sprintf("/events?limit=100&offset=%d", offset))
			if err != nil {
				return err
			}
			var events []storage.Event
			if err := decodeJSON(resp, &events); err != nil {
				return err
			}
			if len(events) == 0 {
				break
			}
			for _, e := range events {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			offset += len(events)
			total += len(events)
		}

		if output != "" {
			printSuccess("Exported %d events to %s", total, output)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
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
