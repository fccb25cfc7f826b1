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
)

// apiClient is a thin client for the control plane, used by the marathon
// subcommands.
type apiClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newAPIClient(cmd *cobra.Command) (*apiClient, error) {
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("LONGHAUL_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: pass --api-key or set LONGHAUL_API_KEY")
	}
	return &apiClient{
		baseURL: strings.TrimRight(server, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+"/api/v1"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runMarathonStart(cmd *cobra.Command, goal, workdir string, constraints []string) error {
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	var created struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	err = client.do(http.MethodPost, "/marathon", map[string]any{
		"goal":              goal,
		"working_directory": workdir,
		"constraints":       constraints,
	}, &created)
	if err != nil {
		return err
	}
	fmt.Printf("Marathon %s started (%s)\n%s\n", created.ID, created.Status, created.Message)
	return nil
}

func runMarathonStatus(cmd *cobra.Command, id string) error {
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	var status struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Plan   struct {
			Goal       string `json:"goal"`
			Milestones []struct {
				ID     string `json:"id"`
				Title  string `json:"title"`
				Status string `json:"status"`
			} `json:"milestones"`
		} `json:"plan"`
		TotalTokensUsed int64    `json:"total_tokens_used"`
		TotalCostUsd    float64  `json:"total_cost_usd"`
		FailureReason   string   `json:"failure_reason"`
		RecentLogs      []string `json:"recent_logs"`
	}
	if err := client.do(http.MethodGet, "/marathon/"+id, nil, &status); err != nil {
		return err
	}
	fmt.Printf("Marathon %s: %s\n", status.ID, status.Status)
	fmt.Printf("Goal: %s\n", status.Plan.Goal)
	fmt.Printf("Spend: %d tokens, $%.4f\n", status.TotalTokensUsed, status.TotalCostUsd)
	if status.FailureReason != "" {
		fmt.Printf("Failure: %s\n", status.FailureReason)
	}
	fmt.Println("Milestones:")
	for _, ms := range status.Plan.Milestones {
		fmt.Printf("  [%-11s] %s: %s\n", ms.Status, ms.ID, ms.Title)
	}
	if len(status.RecentLogs) > 0 {
		fmt.Println("Recent logs:")
		for _, line := range status.RecentLogs {
			fmt.Println("  " + line)
		}
	}
	return nil
}

func runMarathonList(cmd *cobra.Command) error {
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	var list struct {
		Marathons []struct {
			ID                  string `json:"id"`
			Status              string `json:"status"`
			Goal                string `json:"goal"`
			MilestonesTotal     int    `json:"milestones_total"`
			MilestonesCompleted int    `json:"milestones_completed"`
		} `json:"marathons"`
		Total int `json:"total"`
	}
	if err := client.do(http.MethodGet, "/marathon", nil, &list); err != nil {
		return err
	}
	if list.Total == 0 {
		fmt.Println("No marathons.")
		return nil
	}
	fmt.Printf("%-38s %-18s %-10s %s\n", "ID", "STATUS", "PROGRESS", "GOAL")
	for _, m := range list.Marathons {
		fmt.Printf("%-38s %-18s %d/%-8d %s\n",
			m.ID, m.Status, m.MilestonesCompleted, m.MilestonesTotal, m.Goal)
	}
	return nil
}

func runMarathonSignal(cmd *cobra.Command, id, action string) error {
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	var result struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := client.do(http.MethodPost, "/marathon/"+id+"/"+action, nil, &result); err != nil {
		return err
	}
	fmt.Printf("Marathon %s: %s\n", result.ID, result.Status)
	return nil
}
