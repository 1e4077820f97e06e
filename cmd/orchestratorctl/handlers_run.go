package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opscore/orchestrator/pkg/models"
)

type startRunRequest struct {
	ThreadID      string `json:"thread_id"`
	Model         string `json:"model"`
	ReasoningHint string `json:"reasoning_effort,omitempty"`
	Message       string `json:"message"`
}

func clientFor(configPath, server, apiKey string) (*apiClient, error) {
	base, err := resolveHTTPBaseURL(configPath, server)
	if err != nil {
		return nil, err
	}
	return newAPIClient(base, apiKey), nil
}

func runStart(cmd *cobra.Command, configPath, server, apiKey, threadID, model, reasoningHint, message string) error {
	if strings.TrimSpace(threadID) == "" || strings.TrimSpace(message) == "" {
		return fmt.Errorf("--thread and --message are required")
	}
	client, err := clientFor(configPath, server, apiKey)
	if err != nil {
		return err
	}

	var run models.Run
	req := startRunRequest{ThreadID: threadID, Model: model, ReasoningHint: reasoningHint, Message: message}
	if err := client.postJSON(cmd.Context(), "/v1/runs", req, &run); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return printRun(cmd, &run)
}

func runGet(cmd *cobra.Command, configPath, server, apiKey, runID string) error {
	client, err := clientFor(configPath, server, apiKey)
	if err != nil {
		return err
	}
	var run models.Run
	if err := client.getJSON(cmd.Context(), "/v1/runs/"+runID, &run); err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	return printRun(cmd, &run)
}

func runCancel(cmd *cobra.Command, configPath, server, apiKey, runID string) error {
	client, err := clientFor(configPath, server, apiKey)
	if err != nil {
		return err
	}
	if err := client.postJSON(cmd.Context(), "/v1/runs/"+runID+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", runID)
	return nil
}

func runEvents(cmd *cobra.Command, configPath, server, apiKey, runID string, since int64) error {
	client, err := clientFor(configPath, server, apiKey)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/runs/%s/events?since_event_id=%d", runID, since)
	resp, err := client.stream(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	defer resp.Body.Close()

	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if eventType == "error" {
				fmt.Fprintf(out, "error: %s\n", data)
				eventType, data = "", ""
				continue
			}
			if data != "" {
				printRunEventLine(out, data)
			}
			eventType, data = "", ""
		}
	}
	return scanner.Err()
}

func printRunEventLine(out io.Writer, data string) {
	var ev models.RunEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		fmt.Fprintln(out, data)
		return
	}
	fmt.Fprintf(out, "[%d] %-28s %s\n", ev.EventID, ev.Type, ev.Timestamp.Format("15:04:05.000"))
}

func printRun(cmd *cobra.Command, run *models.Run) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:       %s\n", run.PublicID)
	fmt.Fprintf(out, "status:    %s\n", run.Status)
	fmt.Fprintf(out, "thread:    %s\n", run.ThreadID)
	fmt.Fprintf(out, "iteration: %d\n", run.Iteration)
	fmt.Fprintf(out, "workers:   %d\n", run.WorkersSpawned)
	fmt.Fprintf(out, "tokens:    %d in / %d out\n", run.InputTokens, run.OutputTokens)
	fmt.Fprintf(out, "last_event_id: %d\n", run.LastEventID)
	return nil
}
