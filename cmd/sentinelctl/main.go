package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const version = "0.1.0"

var (
	serverURL string
	authToken string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sentinelctl",
		Short: "Sentinel CLI - operate a running governance daemon",
		Long: `sentinelctl is a command-line interface for the Sentinel governance API.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getDefaultServer(), "Sentinel server URL")
	rootCmd.PersistentFlags().StringVarP(&authToken, "token", "t", os.Getenv("SENTINEL_TOKEN"), "Bearer token for authenticated servers")

	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newAgentCommand())
	rootCmd.AddCommand(newLoopCommand())
	rootCmd.AddCommand(newRerouteCommand())
	rootCmd.AddCommand(newThresholdsCommand())
	rootCmd.AddCommand(newBeliefCommand())
	rootCmd.AddCommand(newViolationsCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newLoginCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getDefaultServer() string {
	if server := os.Getenv("SENTINEL_SERVER"); server != "" {
		return server
	}
	return "http://localhost:8480"
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: serverURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	u := fmt.Sprintf("%s%s", c.BaseURL, path)
	if params != nil {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	return c.do("GET", path, params, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	return c.do("POST", path, nil, data)
}

func (c *Client) put(path string, data interface{}) ([]byte, error) {
	return c.do("PUT", path, nil, data)
}

func (c *Client) delete(path string) ([]byte, error) {
	return c.do("DELETE", path, nil, nil)
}

// outputJSON pretty-prints raw JSON data.
func outputJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// --- Status ---

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/health", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

// --- Agents ---

func newAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect agent trust state",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracked agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/agents", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show an agent's trust summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/agents/"+args[0], nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history <agent-id>",
		Short: "Show an agent's trust event history",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/agents/"+args[0]+"/trust", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "effective <agent-id>",
		Short: "Resolve the agent that would actually serve a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/agents/"+args[0]+"/effective", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	return cmd
}

// --- Loops (freeze lifecycle) ---

func newLoopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Inspect and unfreeze cognition loops",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "freeze <loop-id>",
		Short: "Show a loop's freeze state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/loops/"+args[0]+"/freeze", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	unfreeze := &cobra.Command{
		Use:   "unfreeze <loop-id>",
		Short: "Manually unfreeze a loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			data, err := newClient().post("/api/v1/loops/"+args[0]+"/unfreeze",
				map[string]string{"reason": reason})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	unfreeze.Flags().String("reason", "operator unfreeze", "Reason recorded in the freeze history")
	cmd.AddCommand(unfreeze)

	override := &cobra.Command{
		Use:   "override <loop-id>",
		Short: "Apply an operator override to a frozen loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			data, err := newClient().post("/api/v1/loops/"+args[0]+"/override",
				map[string]string{"reason": reason})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	override.Flags().String("reason", "operator override", "Reason recorded in the freeze history")
	cmd.AddCommand(override)

	return cmd
}

// --- Reroutes ---

func newRerouteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reroute",
		Short: "List and trigger loop reroutes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List reroute records",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/reroutes", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	trigger := &cobra.Command{
		Use:   "trigger <loop-id> <from-agent>",
		Short: "Manually reroute a loop away from an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			reason, _ := cmd.Flags().GetString("reason")
			data, err := newClient().post("/api/v1/reroutes", map[string]string{
				"loop_id":    args[0],
				"from_agent": args[1],
				"to_agent":   to,
				"reason":     reason,
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	trigger.Flags().String("to", "", "Target agent (defaults to the configured fallback)")
	trigger.Flags().String("reason", "manual reroute", "Reason recorded in the reroute log")
	cmd.AddCommand(trigger)

	return cmd
}

// --- Thresholds ---

func newThresholdsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Manage governance thresholds",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [project-id]",
		Short: "Show effective thresholds for a project (default set if omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := "default"
			if len(args) == 1 {
				project = args[0]
			}
			data, err := newClient().get("/api/v1/thresholds/"+project, nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <project-id> <key=value>...",
		Short: "Update threshold values for a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := map[string]float64{}
			for _, pair := range args[1:] {
				key, raw, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("expected key=value, got %q", pair)
				}
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("invalid value for %s: %w", key, err)
				}
				values[key] = v
			}
			data, err := newClient().put("/api/v1/thresholds/"+args[0], values)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <project-id>",
		Short: "Remove a project's threshold overrides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().delete("/api/v1/thresholds/" + args[0])
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	return cmd
}

// --- Beliefs ---

func newBeliefCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "belief",
		Short: "Manage belief anchors for drift monitoring",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List belief anchors",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/beliefs", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	set := &cobra.Command{
		Use:   "set <id> <content>",
		Short: "Create or update a belief anchor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			critical, _ := cmd.Flags().GetBool("critical")
			body := map[string]interface{}{
				"id":       args[0],
				"content":  args[1],
				"critical": critical,
			}
			if cmd.Flags().Changed("threshold") {
				threshold, _ := cmd.Flags().GetFloat64("threshold")
				body["drift_threshold"] = threshold
			}
			data, err := newClient().post("/api/v1/beliefs", body)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	set.Flags().Bool("critical", false, "Mark violations of this anchor critical")
	set.Flags().Float64("threshold", 0, "Per-anchor drift threshold override")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a belief anchor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().delete("/api/v1/beliefs/" + args[0])
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	return cmd
}

// --- Violations / events ---

func newViolationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "violations",
		Short: "List recorded drift violations",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/violations", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent governance events",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			params := url.Values{"limit": []string{strconv.Itoa(limit)}}
			data, err := newClient().get("/api/v1/events", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum number of events to return")
	return cmd
}

// --- Login ---

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Obtain a bearer token (prompts for the password)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Password: ")
			passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			data, err := newClient().post("/api/v1/auth/login", map[string]string{
				"username": args[0],
				"password": string(passwordBytes),
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}
