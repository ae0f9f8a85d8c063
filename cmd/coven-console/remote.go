// ABOUTME: Client commands that talk to a running console: health, send and watch
// ABOUTME: send goes through the HTTP API; watch follows the Redis activity mirror

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/coven-console/internal/activity"
	"github.com/2389/coven-console/internal/config"
	"github.com/2389/coven-console/internal/console"
	"github.com/2389/coven-console/internal/conversation"
	"github.com/2389/coven-console/internal/store"
)

// consoleURL returns the base URL of the running console. COVEN_CONSOLE_URL
// overrides the configured address.
func consoleURL(cfg *config.Config) string {
	if u := os.Getenv("COVEN_CONSOLE_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	if cfg.Tailscale.Enabled {
		return "http://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, consoleURL(cfg)+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runSend(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: coven-console send <conversation-id> <text>")
	}
	id := args[0]
	text := strings.Join(args[1:], " ")

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	body, err := json.Marshal(console.SendMessageRequest{Text: text})
	if err != nil {
		return err
	}
	url := consoleURL(cfg) + "/api/conversations/" + id + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(console.IdempotencyHeader, uuid.NewString())

	client := &http.Client{Timeout: cfg.Agents.RequestTimeout + 10*time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send failed: status %d: %s", resp.StatusCode, errorText(resp.Body))
	}

	var sr console.SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	gray.Printf("session %s (stream %s)\n", sr.SessionID, sr.StreamStatus)
	if sr.Reply == nil {
		return fmt.Errorf("no reply: %s", sr.Outcome)
	}
	if sr.Outcome == conversation.OutcomeFailed {
		color.New(color.FgYellow).Println(sr.Reply.Text)
		return fmt.Errorf("agent call failed: %s", sr.Error)
	}
	fmt.Println(sr.Reply.Text)
	if c := sr.Reply.Classification; c != nil {
		gray.Printf("topic=%s urgency=%s escalated=%t\n", c.TopicCategory, c.UrgencyLevel, c.Escalated)
	}
	return nil
}

func errorText(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}

func runWatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: coven-console watch <conversation-id>")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Activity.RedisURL == "" {
		return errors.New("activity.redis_url is not configured")
	}

	mirror, err := activity.NewRedisMirror(ctx, cfg.Activity.RedisURL)
	if err != nil {
		return err
	}
	defer mirror.Close()

	color.New(color.FgHiBlack).Printf("watching %s (ctrl-c to stop)\n", activity.Channel(args[0]))
	for rec := range mirror.Follow(ctx, args[0]) {
		printRecord(rec)
	}
	return nil
}

func printRecord(rec activity.Record) {
	var tag string
	switch store.ActivityType(rec.Type) {
	case store.ActivityError:
		tag = color.RedString("%-10s", rec.Type)
	case store.ActivityCompletion:
		tag = color.GreenString("%-10s", rec.Type)
	case store.ActivityThinking:
		tag = color.MagentaString("%-10s", rec.Type)
	default:
		tag = color.CyanString("%-10s", rec.Type)
	}
	fmt.Printf("%s %s %s", color.HiBlackString(rec.Timestamp.Local().Format("15:04:05")), tag, rec.Message)
	if rec.AgentName != "" {
		fmt.Print(color.HiBlackString(" (" + rec.AgentName + ")"))
	}
	fmt.Println()
}
