package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	httptransport "github.com/nadzzz/liveprompt/internal/transport/http"
)

var (
	askAPI     string
	askTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt...>",
	Short: "Send a prompt to a running liveprompt daemon",
	Long: `ask posts the prompt to the daemon's /prompt endpoint and shows the command
the language model produced next to the result reported by Ableton Live.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
		defer cancel()

		prompt := strings.Join(args, " ")
		spinner, _ := pterm.DefaultSpinner.Start("Asking the model...")
		body, err := postPrompt(ctx, askAPI, prompt)
		if spinner != nil {
			_ = spinner.Stop()
		}
		if err != nil {
			return err
		}

		view, err := formatEnvelope(body)
		if err != nil {
			return err
		}
		if view.Error != "" {
			return errors.New(view.Error)
		}

		pterm.DefaultSection.Println("LLM Command")
		pterm.Println(view.Command)
		pterm.DefaultSection.Println("Device Result")
		pterm.Println(view.Result)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askAPI, "api", "http://localhost:8000/prompt", "URL of the daemon's prompt endpoint")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 3*time.Minute, "how long to wait for the daemon")
	rootCmd.AddCommand(askCmd)
}

func postPrompt(ctx context.Context, api, prompt string) ([]byte, error) {
	payload, err := json.Marshal(httptransport.PromptRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httptransport.SourceHeader, "cli")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting liveprompt at %s: %w", api, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("liveprompt returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// envelopeView is an envelope prepared for display.
type envelopeView struct {
	Command string
	Result  string
	Error   string
}

// formatEnvelope renders the daemon's reply as indented JSON sections.
func formatEnvelope(body []byte) (envelopeView, error) {
	var env struct {
		Command json.RawMessage `json:"command"`
		Result  json.RawMessage `json:"result"`
		Error   *string         `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return envelopeView{}, fmt.Errorf("decoding response: %w", err)
	}
	if env.Error != nil {
		return envelopeView{Error: *env.Error}, nil
	}

	command, err := indent(env.Command)
	if err != nil {
		return envelopeView{}, err
	}
	result, err := indent(env.Result)
	if err != nil {
		return envelopeView{}, err
	}
	return envelopeView{Command: command, Result: result}, nil
}

func indent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "null", nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("formatting response: %w", err)
	}
	return buf.String(), nil
}
