// Package chatdbctl implements the chatdbctl command against the JSON API.
package chatdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type runner struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	sessionID string
	format    string
	stdout    io.Writer
	stderr    io.Writer
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("chatdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8501"), "ChatDB API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	sessionID := fs.String("session", defaults.SessionID, "session id returned by new-session")
	format := fs.String("format", "table", "output format: table or json")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	if *format != "table" && *format != "json" {
		_, _ = fmt.Fprintf(stderr, "invalid -format %q\n", *format)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	r := &runner{
		client:    client,
		baseURL:   strings.TrimRight(*baseURL, "/"),
		apiKey:    strings.TrimSpace(*apiKey),
		sessionID: strings.TrimSpace(*sessionID),
		format:    *format,
		stdout:    stdout,
		stderr:    stderr,
	}

	err := r.dispatch(ctx, strings.TrimSpace(fs.Arg(0)), fs.Args()[1:])
	if err == nil {
		return 0
	}
	if usage, ok := err.(usageError); ok {
		_, _ = fmt.Fprintf(stderr, "%s\n\n", usage.msg)
		writeUsage(stderr)
		return 2
	}
	_, _ = fmt.Fprintln(stderr, err)
	return 1
}

func (r *runner) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "health":
		return r.printJSON(ctx, http.MethodGet, "/v1/health", nil)
	case "ready":
		return r.printJSON(ctx, http.MethodGet, "/v1/ready", nil)
	case "new-session":
		return r.newSession(ctx)
	case "connect":
		return r.connect(ctx, args)
	case "ask":
		return r.ask(ctx, args)
	case "schema":
		return r.schema(ctx)
	case "history":
		return r.history(ctx)
	case "audit":
		return r.audit(ctx)
	case "reset":
		if err := r.requireSession(); err != nil {
			return err
		}
		_, err := r.call(ctx, http.MethodPost, r.sessionPath("/reset"), nil)
		if err == nil {
			_, _ = fmt.Fprintln(r.stdout, "history cleared")
		}
		return err
	case "close":
		if err := r.requireSession(); err != nil {
			return err
		}
		_, err := r.call(ctx, http.MethodDelete, r.sessionPath(""), nil)
		if err == nil {
			_, _ = fmt.Fprintln(r.stdout, "session closed")
		}
		return err
	default:
		return usageError{fmt.Sprintf("unknown command %q", command)}
	}
}

func (r *runner) newSession(ctx context.Context) error {
	body, err := r.call(ctx, http.MethodPost, "/v1/sessions", nil)
	if err != nil {
		return err
	}
	if r.format == "json" {
		return r.writePretty(body)
	}
	var view struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	_, _ = fmt.Fprintln(r.stdout, view.SessionID)
	return nil
}

func (r *runner) connect(ctx context.Context, args []string) error {
	if err := r.requireSession(); err != nil {
		return err
	}
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	fs.SetOutput(r.stderr)
	desc := map[string]any{}
	driver := fs.String("driver", "sqlite", "sqlite or mysql")
	path := fs.String("path", "", "SQLite database file (server default when empty)")
	host := fs.String("host", "", "MySQL host")
	port := fs.Int("port", 0, "MySQL port")
	user := fs.String("user", "", "MySQL user")
	password := fs.String("password", "", "MySQL password")
	database := fs.String("database", "", "MySQL database name")
	if err := fs.Parse(args); err != nil {
		return usageError{"invalid connect flags"}
	}
	desc["driver"] = *driver
	for key, value := range map[string]string{"path": *path, "host": *host, "user": *user, "password": *password, "database": *database} {
		if value != "" {
			desc[key] = value
		}
	}
	if *port != 0 {
		desc["port"] = *port
	}

	body, err := r.call(ctx, http.MethodPost, r.sessionPath("/connect"), desc)
	if err != nil {
		return err
	}
	if r.format == "json" {
		return r.writePretty(body)
	}
	_, _ = fmt.Fprintf(r.stdout, "connected (%s)\n", *driver)
	return nil
}

func (r *runner) ask(ctx context.Context, args []string) error {
	if err := r.requireSession(); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return usageError{"ask needs a question"}
	}
	body, err := r.call(ctx, http.MethodPost, r.sessionPath("/ask"), map[string]any{"question": question})
	if err != nil {
		return err
	}
	if r.format == "json" {
		return r.writePretty(body)
	}
	var turn turnView
	if err := json.Unmarshal(body, &turn); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	renderTurn(r.stdout, turn)
	return nil
}

func (r *runner) schema(ctx context.Context) error {
	if err := r.requireSession(); err != nil {
		return err
	}
	body, err := r.call(ctx, http.MethodGet, r.sessionPath("/schema"), nil)
	if err != nil {
		return err
	}
	if r.format == "json" {
		return r.writePretty(body)
	}
	var snap struct {
		Markdown string `json:"markdown"`
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	_, _ = io.WriteString(r.stdout, snap.Markdown)
	return nil
}

func (r *runner) history(ctx context.Context) error {
	if err := r.requireSession(); err != nil {
		return err
	}
	body, err := r.call(ctx, http.MethodGet, r.sessionPath("/history"), nil)
	if err != nil {
		return err
	}
	if r.format == "json" {
		return r.writePretty(body)
	}
	var payload struct {
		History []recordView `json:"history"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	renderHistory(r.stdout, payload.History)
	return nil
}

func (r *runner) audit(ctx context.Context) error {
	if err := r.requireSession(); err != nil {
		return err
	}
	body, err := r.call(ctx, http.MethodGet, r.sessionPath("/audit"), nil)
	if err != nil {
		return err
	}
	if r.format == "json" {
		return r.writePretty(body)
	}
	var payload struct {
		Events []auditView `json:"events"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode audit: %w", err)
	}
	renderAudit(r.stdout, payload.Events)
	return nil
}

func (r *runner) printJSON(ctx context.Context, method, path string, payload any) error {
	body, err := r.call(ctx, method, path, payload)
	if err != nil {
		return err
	}
	return r.writePretty(body)
}

func (r *runner) writePretty(body []byte) error {
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(r.stdout, string(body))
	}
	return nil
}

func (r *runner) requireSession() error {
	if r.sessionID == "" {
		return usageError{"this command needs -session (see new-session)"}
	}
	return nil
}

func (r *runner) sessionPath(suffix string) string {
	return "/v1/sessions/" + r.sessionID + suffix
}

// call sends the request and returns the body of a 2xx response. Error
// envelopes are turned into errors carrying the server's message.
func (r *runner) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Code    string `json:"error_code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Message != "" {
			return nil, fmt.Errorf("http %d %s: %s", resp.StatusCode, envelope.Code, envelope.Message)
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: chatdbctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  new-session            create a session and print its id")
	_, _ = fmt.Fprintln(w, "  connect [flags]        connect the session (-driver, -path, -host, -port, -user, -password, -database)")
	_, _ = fmt.Fprintln(w, "  ask <question...>      generate and run SQL for a question")
	_, _ = fmt.Fprintln(w, "  schema                 print the database schema")
	_, _ = fmt.Fprintln(w, "  history                list past questions")
	_, _ = fmt.Fprintln(w, "  audit                  list the durable audit trail, newest first")
	_, _ = fmt.Fprintln(w, "  reset                  clear the session history")
	_, _ = fmt.Fprintln(w, "  close                  delete the session")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
