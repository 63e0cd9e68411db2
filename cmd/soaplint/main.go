// Package main implements the soaplint CLI for manual operations against
// the soaplintd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the soaplintd HTTP server
	serverURL string
	// version information
	version = "dev"

	sessionID string
	turnIndex int
	domain    string
	factLocks []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "soaplint",
	Short: "CLI for soaplintd HTTP server operations",
	Long: `soaplint is a command-line interface for interacting with the soaplintd server.
It submits turns for soapiness linting and checks server health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9180", "soaplintd server URL")

	lintCmd.Flags().StringVar(&sessionID, "session", "", "session id (required)")
	lintCmd.Flags().IntVar(&turnIndex, "turn", 1, "turn index within the session")
	lintCmd.Flags().StringVar(&domain, "domain", "", "task domain for policy routing")
	lintCmd.Flags().StringArrayVar(&factLocks, "lock", nil, "fact lock to preserve (repeatable)")
	_ = lintCmd.MarkFlagRequired("session")

	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(endCmd)
}

// lintCmd submits one turn for linting
var lintCmd = &cobra.Command{
	Use:   "lint [file]",
	Short: "Lint a turn from a file or stdin",
	Long: `Submit a turn for soapiness linting.

Examples:
  # Lint a file as turn 3 of a session
  soaplint lint --session demo --turn 3 draft.txt

  # Lint from stdin
  echo "her heart pounded" | soaplint lint --session demo --turn 4 -

  # Pin facts the rewriter must keep
  soaplint lint --session demo --turn 5 --lock "47 days" draft.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLint,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check soaplintd server health",
	RunE:  runHealth,
}

// endCmd terminates a session
var endCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End a session, dropping its window",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnd,
}

// LintRequest matches pkg/lint Request
type LintRequest struct {
	SessionID string   `json:"session_id"`
	TurnIndex int      `json:"turn_index"`
	Text      string   `json:"text"`
	FactLocks []string `json:"fact_locks,omitempty"`
	Domain    string   `json:"domain,omitempty"`
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// runLint handles the lint command
func runLint(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	// Read input from file or stdin
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	if len(content) == 0 {
		return fmt.Errorf("no content to lint")
	}

	reqJSON, err := json.Marshal(LintRequest{
		SessionID: sessionID,
		TurnIndex: turnIndex,
		Text:      string(content),
		FactLocks: factLocks,
		Domain:    domain,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/lint", serverURL)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	// Pretty-print the verdict
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	return nil
}

// runEnd handles the end command
func runEnd(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/sessions/%s", serverURL, args[0])
	httpReq, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	fmt.Printf("Session %s ended\n", args[0])
	return nil
}
