package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/bugradar/bugradar/pkg/agent"
	apiclient "github.com/bugradar/bugradar/pkg/api/client"
	"github.com/bugradar/bugradar/pkg/logger"
)

const defaultAPIBase = "http://localhost:4000"

type cliConfig struct {
	APIBaseURL   string `json:"api_base_url"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "signup":
		err = commandAuth("signup", args)
	case "login":
		err = commandAuth("login", args)
	case "project":
		err = commandProject(args)
	case "metrics":
		err = commandMetrics(args)
	case "events":
		err = commandEvents(args)
	case "resolve", "ignore":
		err = commandTransition(cmd, args)
	case "recurrence":
		err = commandRecurrence(args)
	case "send-test-event":
		err = commandSendTestEvent(args)
	case "agent":
		err = commandAgent(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandAuth(mode string, args []string) error {
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPIBase+")")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var resp apiclient.SessionResponse
	if mode == "signup" {
		resp, err = client.Signup(ctx, *email, secret)
	} else {
		resp, err = client.Login(ctx, *email, secret)
	}
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Tokens.AccessToken
	cfg.RefreshToken = resp.Tokens.RefreshToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("%s successful: %s\n", mode, resp.User.Email)
	return nil
}

// session returns a client and a valid access token, refreshing the stored
// session once when the access token has been rejected.
func session(ctx context.Context) (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'bugradar login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	_, err = client.ListProjects(ctx, token)
	if err == nil {
		return client, token, nil
	}
	var apiErr apiclient.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || cfg.RefreshToken == "" {
		return nil, "", err
	}
	resp, err := client.Refresh(ctx, cfg.RefreshToken)
	if err != nil {
		return nil, "", fmt.Errorf("session expired, please login again: %w", err)
	}
	cfg.AccessToken = resp.Tokens.AccessToken
	cfg.RefreshToken = resp.Tokens.RefreshToken
	if err := saveConfig(cfg); err != nil {
		return nil, "", err
	}
	return client, cfg.AccessToken, nil
}

func commandProject(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: bugradar project [list|create|show|delete]")
	}
	sub := args[0]
	switch sub {
	case "list":
		return projectList(args[1:])
	case "create":
		return projectCreate(args[1:])
	case "show":
		return projectShow(args[1:])
	case "delete":
		return projectDelete(args[1:])
	default:
		return fmt.Errorf("unknown project command: %s", sub)
	}
}

func projectList(args []string) error {
	fs := flag.NewFlagSet("project list", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Maximum number of projects to display")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, token, err := session(ctx)
	if err != nil {
		return err
	}
	projects, err := client.ListProjects(ctx, token)
	if err != nil {
		return err
	}
	count := len(projects)
	if *limit > 0 && *limit < count {
		count = *limit
	}
	for i := 0; i < count; i++ {
		p := projects[i]
		fmt.Printf("%s\t%s\t%s\t%d endpoints\n", p.ID, p.Name, p.APIKeyHint, len(p.Endpoints))
	}
	return nil
}

type endpointFlags []apiclient.Endpoint

func (e *endpointFlags) String() string {
	parts := make([]string, 0, len(*e))
	for _, ep := range *e {
		parts = append(parts, ep.Method+" "+ep.Path)
	}
	return strings.Join(parts, ",")
}

func (e *endpointFlags) Set(value string) error {
	method, path, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		method, path = "GET", method
	}
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("endpoint path must start with /: %q", value)
	}
	*e = append(*e, apiclient.Endpoint{Method: strings.ToUpper(method), Path: path})
	return nil
}

func projectCreate(args []string) error {
	fs := flag.NewFlagSet("project create", flag.ExitOnError)
	name := fs.String("name", "", "Project name")
	var endpoints endpointFlags
	fs.Var(&endpoints, "endpoint", "Endpoint to monitor, e.g. \"GET /health\" (repeatable)")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, token, err := session(ctx)
	if err != nil {
		return err
	}
	created, err := client.CreateProject(ctx, token, apiclient.CreateProjectInput{Name: *name, Endpoints: endpoints})
	if err != nil {
		return err
	}
	fmt.Printf("project created: %s (%s)\n", created.Project.ID, created.Project.Name)
	fmt.Printf("api key: %s\n", created.APIKey)
	fmt.Println("store this key now; it cannot be shown again")
	return nil
}

func projectShow(args []string) error {
	fs := flag.NewFlagSet("project show", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	fs.Parse(args)
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, token, err := session(ctx)
	if err != nil {
		return err
	}
	project, err := client.GetProject(ctx, token, *projectID)
	if err != nil {
		return err
	}
	fmt.Printf("id:      %s\nname:    %s\nkey:     %s\ncreated: %s\n", project.ID, project.Name, project.APIKeyHint, project.CreatedAt.Format(time.RFC3339))
	for _, ep := range project.Endpoints {
		fmt.Printf("  %s %s\n", ep.Method, ep.Path)
	}
	return nil
}

func projectDelete(args []string) error {
	fs := flag.NewFlagSet("project delete", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	fs.Parse(args)
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, token, err := session(ctx)
	if err != nil {
		return err
	}
	if err := client.DeleteProject(ctx, token, *projectID); err != nil {
		return err
	}
	fmt.Println("project deleted")
	return nil
}

func commandMetrics(args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	noisy := fs.Bool("noisy", false, "Show the seven-day reliability summary")
	fs.Parse(args)
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, token, err := session(ctx)
	if err != nil {
		return err
	}
	if !*noisy {
		m, err := client.Metrics(ctx, token, *projectID)
		if err != nil {
			return err
		}
		fmt.Printf("active errors:   %d\nwarnings today:  %d\nlogs last hour:  %d\n", m.ActiveErrors, m.WarningsToday, m.LogsLastHour)
		return nil
	}
	s, err := client.NoisyAppStats(ctx, token, *projectID)
	if err != nil {
		return err
	}
	fmt.Printf("events:       %d (errors %d, warnings %d)\n", s.TotalEvents, s.TotalErrors, s.TotalWarnings)
	fmt.Printf("error rate:   %.2f%%\nwarning rate: %.2f%%\n", s.ErrorRate, s.WarningRate)
	fmt.Printf("uptime:       %.2f%%\nmtbf:         %.1f min\np95 latency:  %.1f ms\n", s.UptimePercentage, s.MTBFMinutes, s.P95LatencyMS)
	for _, day := range s.LogVolume {
		fmt.Printf("  %s\t%d\n", day.Date, day.Count)
	}
	return nil
}

func commandEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	severity := fs.String("severity", "", "Filter by severity (error|warning|info|debug)")
	status := fs.String("status", "", "Filter by status (open|resolved|ignored)")
	limit := fs.Int("limit", 20, "Maximum number of events")
	fs.Parse(args)
	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, token, err := session(ctx)
	if err != nil {
		return err
	}
	events, err := client.ListEvents(ctx, token, *projectID, apiclient.EventQuery{Severity: *severity, Status: *status, Limit: *limit})
	if err != nil {
		return err
	}
	for _, e := range events {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", e.ID, e.CreatedAt.Format(time.RFC3339), e.Severity, e.Status, e.Message)
	}
	return nil
}

func commandTransition(action string, args []string) error {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	eventID := fs.String("event", "", "Event identifier")
	fs.Parse(args)
	if strings.TrimSpace(*eventID) == "" {
		return errors.New("--event is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, token, err := session(ctx)
	if err != nil {
		return err
	}
	event, err := client.TransitionEvent(ctx, token, *eventID, action)
	if err != nil {
		return err
	}
	fmt.Printf("event %s is now %s\n", event.ID, event.Status)
	return nil
}

func commandRecurrence(args []string) error {
	fs := flag.NewFlagSet("recurrence", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	message := fs.String("message", "", "Log message to trace")
	fs.Parse(args)
	if strings.TrimSpace(*projectID) == "" || strings.TrimSpace(*message) == "" {
		return errors.New("--project and --message are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, token, err := session(ctx)
	if err != nil {
		return err
	}
	series, err := client.Recurrence(ctx, token, *projectID, *message)
	if err != nil {
		return err
	}
	for _, day := range series {
		fmt.Printf("%s\t%d\n", day.Date, day.Count)
	}
	return nil
}

func commandSendTestEvent(args []string) error {
	fs := flag.NewFlagSet("send-test-event", flag.ExitOnError)
	key := fs.String("key", os.Getenv("BUGRADAR_API_KEY"), "Project API key (or BUGRADAR_API_KEY)")
	message := fs.String("message", "bugradar test event", "Log message")
	severity := fs.String("severity", agent.SeverityInfo, "Severity (error|warning|info|debug)")
	container := fs.String("container", "", "Container name")
	fs.Parse(args)

	cfg, _ := loadConfig()
	client, err := agent.New(cfg.APIBaseURL, *key, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.SendLog(ctx, agent.Log{Message: *message, Severity: *severity, Container: *container}); err != nil {
		return err
	}
	fmt.Println("event sent")
	return nil
}

func commandAgent(args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	key := fs.String("key", os.Getenv("BUGRADAR_API_KEY"), "Project API key (or BUGRADAR_API_KEY)")
	target := fs.String("target", "", "Base URL of the monitored application")
	interval := fs.Duration("interval", time.Minute, "Probe interval")
	concurrency := fs.Int("concurrency", 4, "Concurrent probes")
	container := fs.String("container", "", "Container name to report heartbeats for")
	level := fs.String("log-level", "info", "Log level")
	fs.Parse(args)

	cfg, _ := loadConfig()
	client, err := agent.New(cfg.APIBaseURL, *key, nil)
	if err != nil {
		return err
	}
	log := logger.New("agent", logger.ParseLevel(*level))
	prober, err := agent.NewProber(client, agent.ProberOptions{
		Target:      *target,
		Interval:    *interval,
		Concurrency: *concurrency,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if name := strings.TrimSpace(*container); name != "" {
		if err := client.SendStatus(ctx, name, agent.StateUp); err != nil {
			log.Warn("status report failed", "error", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.SendStatus(shutdownCtx, name, agent.StateDown); err != nil {
				log.Warn("status report failed", "error", err)
			}
		}()
	}
	prober.Run(ctx)
	return nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{APIBaseURL: defaultAPIBase}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{APIBaseURL: defaultAPIBase}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{APIBaseURL: defaultAPIBase}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("BUGRADAR_CONFIG_DIR")); dir != "" {
		return filepath.Join(dir, "config.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".bugradar", "config.json"), nil
}

func printUsage() {
	fmt.Printf("bugradar CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	bugradar signup --email user@example.com [--password secret] [--api http://localhost:4000]
	bugradar login --email user@example.com [--password secret] [--api http://localhost:4000]
	bugradar project list [--limit N]
	bugradar project create --name <name> [--endpoint "GET /health"]...
	bugradar project show --project <project-id>
	bugradar project delete --project <project-id>
	bugradar metrics --project <project-id> [--noisy]
	bugradar events --project <project-id> [--severity error] [--status open] [--limit N]
	bugradar resolve --event <event-id>
	bugradar ignore --event <event-id>
	bugradar recurrence --project <project-id> --message <log message>
	bugradar send-test-event --key proj_... [--message text] [--severity info]
	bugradar agent --key proj_... --target https://app.example.com [--interval 1m] [--container web]
	bugradar version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
