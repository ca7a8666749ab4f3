// Command agentgwctl is a thin HTTP client for a running agentgwd
// daemon, grounded on the teacher's cmd/hector CLI: a kong command
// tree, one subcommand per daemon operation, JSON in and out.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
)

// CLI is the root command set.
type CLI struct {
	Server string `help:"Daemon base URL." default:"http://localhost:8080" env:"AGENTGWCTL_SERVER"`
	APIKey string `help:"Bearer token for /api/* requests." env:"AGENTGWCTL_API_KEY"`

	Chat     ChatCmd     `cmd:"" help:"Stream a chat turn from a skill."`
	Run      RunCmd      `cmd:"" help:"Run a skill to completion."`
	Route    RouteCmd    `cmd:"" help:"Ask the planner which skill fits a message."`
	Skills   SkillsCmd   `cmd:"" help:"List loaded skills."`
	Sessions SessionsCmd `cmd:"" help:"List known sessions."`
	Status   StatusCmd   `cmd:"" help:"Show scheduler and webhook status."`
}

type httpClient struct {
	base   string
	apiKey string
	client *http.Client
}

func (c *httpClient) do(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.client.Do(req)
}

func (c *httpClient) decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ChatCmd streams a chat turn as Server-Sent Events.
type ChatCmd struct {
	Skill     string `arg:"" help:"Skill name."`
	Message   string `arg:"" help:"Message text."`
	SessionID string `help:"Resume an existing session."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	client := &httpClient{base: cli.Server, apiKey: cli.APIKey, client: &http.Client{Timeout: 0}}
	resp, err := client.do(http.MethodPost, "/api/chat", map[string]string{
		"skill_name": c.Skill, "message": c.Message, "session_id": c.SessionID,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(data))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if text, ok := strings.CutPrefix(line, "data: "); ok {
			fmt.Print(text)
		}
		if strings.HasPrefix(line, "event: done") {
			fmt.Println()
			break
		}
	}
	return scanner.Err()
}

// RunCmd runs a skill to completion and prints the final result.
type RunCmd struct {
	Skill     string `arg:"" help:"Skill name."`
	Message   string `arg:"" help:"Message text."`
	SessionID string `help:"Resume an existing session."`
}

func (c *RunCmd) Run(cli *CLI) error {
	client := &httpClient{base: cli.Server, apiKey: cli.APIKey, client: &http.Client{Timeout: 5 * time.Minute}}
	resp, err := client.do(http.MethodPost, "/api/run", map[string]string{
		"skill_name": c.Skill, "message": c.Message, "session_id": c.SessionID,
	})
	if err != nil {
		return err
	}
	var out map[string]string
	if err := client.decodeJSON(resp, &out); err != nil {
		return err
	}
	fmt.Println(out["result"])
	fmt.Fprintln(os.Stderr, "session:", out["session_id"])
	return nil
}

// RouteCmd asks the planner which skill a message belongs to.
type RouteCmd struct {
	Message string `arg:"" help:"Message text."`
}

func (c *RouteCmd) Run(cli *CLI) error {
	client := &httpClient{base: cli.Server, apiKey: cli.APIKey, client: &http.Client{Timeout: time.Minute}}
	resp, err := client.do(http.MethodPost, "/api/route", map[string]string{"message": c.Message})
	if err != nil {
		return err
	}
	var out map[string]string
	if err := client.decodeJSON(resp, &out); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", out["skill_name"], out["reason"])
	return nil
}

// SkillsCmd lists loaded skills.
type SkillsCmd struct{}

func (c *SkillsCmd) Run(cli *CLI) error {
	client := &httpClient{base: cli.Server, apiKey: cli.APIKey, client: &http.Client{Timeout: 10 * time.Second}}
	resp, err := client.do(http.MethodGet, "/api/skills", nil)
	if err != nil {
		return err
	}
	return printJSON(client, resp)
}

// SessionsCmd lists known sessions.
type SessionsCmd struct{}

func (c *SessionsCmd) Run(cli *CLI) error {
	client := &httpClient{base: cli.Server, apiKey: cli.APIKey, client: &http.Client{Timeout: 10 * time.Second}}
	resp, err := client.do(http.MethodGet, "/api/sessions", nil)
	if err != nil {
		return err
	}
	return printJSON(client, resp)
}

// StatusCmd shows scheduler and webhook status.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	client := &httpClient{base: cli.Server, apiKey: cli.APIKey, client: &http.Client{Timeout: 10 * time.Second}}
	resp, err := client.do(http.MethodGet, "/daemon/status", nil)
	if err != nil {
		return err
	}
	return printJSON(client, resp)
}

func printJSON(client *httpClient, resp *http.Response) error {
	var out any
	if err := client.decodeJSON(resp, &out); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentgwctl"),
		kong.Description("CLI client for agentgwd."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
