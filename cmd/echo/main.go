package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zhuqingxun/echo/internal/agent"
	"github.com/zhuqingxun/echo/internal/config"
	"github.com/zhuqingxun/echo/internal/cron"
	"github.com/zhuqingxun/echo/internal/gateway"
)

// Agent is the part of agent.Agent the commands call (allows mocking in tests)
type Agent interface {
	Chat(ctx context.Context, message string) string
	BuildKnowledgeGraph(ctx context.Context, topic string) map[string]any
	CreateLearningPath(ctx context.Context, topic, level string) (*agent.Path, error)
	AddResource(ctx context.Context, url, category string, tags []string) agent.Resource
	GetLearningProgress(ctx context.Context) (*agent.Progress, error)
	UpdateProfile(ctx context.Context) string
	ProfilePath() string
	ProfileContent() string
	UserID() string
	Close() error
}

// AgentFactory creates an Agent for userID. Empty userID and userName fall
// back to the config.
type AgentFactory func(cfg *config.Config, userID, userName string) (Agent, error)

// DefaultAgentFactory builds the agent on the configured memory backend and
// model provider.
func DefaultAgentFactory(cfg *config.Config, userID, userName string) (Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gw, err := gateway.NewWithOptions(cfg, gateway.Options{UserID: userID, UserName: userName})
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return gw.Agent(), nil
}

// Options for running commands with custom dependencies
type Options struct {
	AgentFactory AgentFactory
	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
	Render       func(markdown string) string
}

func (o Options) withDefaults() Options {
	if o.AgentFactory == nil {
		o.AgentFactory = DefaultAgentFactory
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Render == nil {
		o.Render = renderMarkdown
	}
	return o
}

var rootCmd = &cobra.Command{
	Use:   "echo",
	Short: "echo - personal AI learning assistant",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Echo in single message or REPL mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChatWithOptions(Options{})
	},
}

var learnCmd = &cobra.Command{
	Use:   "learn <topic>",
	Short: "Build a knowledge graph and learning path for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLearnWithOptions(Options{}, args[0])
	},
}

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a learning resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAddWithOptions(Options{}, args[0])
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show learning progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProgressWithOptions(Options{})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the user profile document",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfileWithOptions(Options{})
	},
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and profile directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnboardWithOptions(Options{})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show echo status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatusWithOptions(Options{})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled jobs (periodic profile refresh) until interrupted",
	RunE:  runServe,
}

var (
	userFlag     string
	messageFlag  string
	levelFlag    string
	tagsFlag     string
	categoryFlag string
	nameFlag     string
	updateFlag   bool
	showFlag     bool
	pathFlag     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "User ID (defaults to agent.userId)")
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	learnCmd.Flags().StringVar(&levelFlag, "level", "beginner", "Current level (beginner/intermediate/advanced)")
	addCmd.Flags().StringVar(&tagsFlag, "tags", "", "Comma-separated tags")
	addCmd.Flags().StringVar(&categoryFlag, "category", "", "Resource category")
	profileCmd.Flags().StringVar(&nameFlag, "name", "", "User display name")
	profileCmd.Flags().BoolVarP(&updateFlag, "update", "u", false, "Rebuild the profile from memory")
	profileCmd.Flags().BoolVarP(&showFlag, "show", "s", true, "Show profile content")
	profileCmd.Flags().BoolVarP(&pathFlag, "path", "p", false, "Show only the profile path")
	rootCmd.AddCommand(chatCmd, learnCmd, addCmd, progressCmd, profileCmd, onboardCmd, statusCmd, serveCmd)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[echo] warning: load .env: %v", err)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Quiet() {
		log.SetOutput(io.Discard)
	}
	return cfg, nil
}

func newAgent(opts Options, userName string) (Agent, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return opts.AgentFactory(cfg, userFlag, userName)
}

func runChatWithOptions(opts Options) error {
	opts = opts.withDefaults()
	a, err := newAgent(opts, "")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		fmt.Fprintln(opts.Stdout, opts.Render(a.Chat(ctx, messageFlag)))
		return nil
	}

	// REPL mode
	fmt.Fprintf(opts.Stdout, "echo - personal AI learning assistant (user: %s)\n", a.UserID())
	fmt.Fprintln(opts.Stdout, "Type 'exit', 'quit' or 'bye' to end the session")
	scanner := bufio.NewScanner(opts.Stdin)
	for {
		fmt.Fprint(opts.Stdout, "\nYou: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch strings.ToLower(input) {
		case "exit", "quit", "bye":
			fmt.Fprintln(opts.Stdout, "\nGoodbye! Keep learning!")
			return nil
		}
		fmt.Fprintln(opts.Stdout, "Echo:")
		fmt.Fprintln(opts.Stdout, opts.Render(a.Chat(ctx, input)))
	}
	return scanner.Err()
}

func runLearnWithOptions(opts Options, topic string) error {
	opts = opts.withDefaults()
	a, err := newAgent(opts, "")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	fmt.Fprintf(opts.Stdout, "Creating learning path for: %s\n\n", topic)

	fmt.Fprintln(opts.Stdout, "Building knowledge graph...")
	if graph := a.BuildKnowledgeGraph(ctx, topic); graph["error"] != nil {
		fmt.Fprintf(opts.Stderr, "Knowledge graph failed: %v\n", graph["error"])
	}

	fmt.Fprintln(opts.Stdout, "Creating learning path...")
	path, err := a.CreateLearningPath(ctx, topic, levelFlag)
	if err != nil {
		if path == nil {
			return fmt.Errorf("create learning path: %w", err)
		}
		fmt.Fprintf(opts.Stderr, "Warning: %v\n", err)
	}

	fmt.Fprintf(opts.Stdout, "\nLearning path created!\nTopic: %s\nLevel: %s\n", path.Topic, path.Level)
	if path.TotalDuration != "" {
		fmt.Fprintf(opts.Stdout, "Duration: %s\n", path.TotalDuration)
	}
	fmt.Fprintln(opts.Stdout, "\nLearning stages:")
	for i, stage := range path.Stages {
		name := stage.Name
		if name == "" {
			name = fmt.Sprintf("Stage %d", i+1)
		}
		duration := stage.Duration
		if duration == "" {
			duration = "N/A"
		}
		fmt.Fprintf(opts.Stdout, "\n%d. %s\n   Duration: %s\n", i+1, name, duration)
		if len(stage.Objectives) > 0 {
			fmt.Fprintln(opts.Stdout, "   Objectives:")
			for _, obj := range stage.Objectives {
				fmt.Fprintf(opts.Stdout, "   - %s\n", obj)
			}
		}
	}
	return nil
}

func runAddWithOptions(opts Options, url string) error {
	opts = opts.withDefaults()
	a, err := newAgent(opts, "")
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(opts.Stdout, "Adding resource: %s\n", url)
	res := a.AddResource(context.Background(), url, categoryFlag, splitTags(tagsFlag))
	if res.Error != "" {
		return fmt.Errorf("add resource: %s", res.Error)
	}
	title := res.Title
	if title == "" {
		title = "N/A"
	}
	fmt.Fprintf(opts.Stdout, "Resource added!\nTitle: %s\n", title)
	if len(res.Tags) > 0 {
		fmt.Fprintf(opts.Stdout, "Tags: %s\n", strings.Join(res.Tags, ", "))
	}
	return nil
}

func runProgressWithOptions(opts Options) error {
	opts = opts.withDefaults()
	a, err := newAgent(opts, "")
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.GetLearningProgress(context.Background())
	if err != nil {
		return fmt.Errorf("get progress: %w", err)
	}
	fmt.Fprintln(opts.Stdout, "Learning progress")
	fmt.Fprintf(opts.Stdout, "Topics: %d\n", len(p.Topics))
	fmt.Fprintf(opts.Stdout, "Resources: %d\n", p.ResourcesAdded)
	fmt.Fprintf(opts.Stdout, "Knowledge points: %d\n", p.KnowledgePoints)
	if len(p.RecentActivities) > 0 {
		fmt.Fprintln(opts.Stdout, "\nRecent activities:")
		for _, ep := range p.RecentActivities {
			fmt.Fprintf(opts.Stdout, "- %s\n", ep.Content)
		}
	}
	return nil
}

func runProfileWithOptions(opts Options) error {
	opts = opts.withDefaults()
	a, err := newAgent(opts, nameFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	if pathFlag {
		fmt.Fprintf(opts.Stdout, "Profile location: %s\n", a.ProfilePath())
		return nil
	}

	if updateFlag {
		fmt.Fprintln(opts.Stdout, "Updating profile from memory...")
		if path := a.UpdateProfile(context.Background()); path != "" {
			fmt.Fprintf(opts.Stdout, "Profile updated!\nLocation: %s\n", path)
		} else {
			fmt.Fprintln(opts.Stderr, "Profile update failed. See logs for details.")
		}
	}

	if showFlag {
		if content := a.ProfileContent(); content != "" {
			fmt.Fprintln(opts.Stdout, opts.Render(content))
		} else {
			fmt.Fprintln(opts.Stdout, "No profile found. Use --update to create one.")
		}
	}
	return nil
}

func runOnboardWithOptions(opts Options) error {
	opts = opts.withDefaults()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(opts.Stdout, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(opts.Stdout, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Agent.ProfileDir, 0755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	fmt.Fprintf(opts.Stdout, "Profiles: %s\n", cfg.Agent.ProfileDir)
	fmt.Fprintln(opts.Stdout, "\nNext steps:")
	fmt.Fprintf(opts.Stdout, "  1. Edit %s to set your API key\n", cfgPath)
	fmt.Fprintln(opts.Stdout, "  2. Or set ANTHROPIC_API_KEY / OPENAI_API_KEY (a .env file works too)")
	fmt.Fprintln(opts.Stdout, "  3. Run 'echo chat -m \"Hello\"' to test")
	return nil
}

func runStatusWithOptions(opts Options) error {
	opts = opts.withDefaults()
	out := opts.Stdout

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "User: %s\n", cfg.Agent.UserID)
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))

	switch cfg.Memory.Backend {
	case config.MemoryBackendRemote:
		fmt.Fprintf(out, "Memory: remote (%s)\n", cfg.Memory.BaseURL)
	default:
		if _, err := os.Stat(cfg.Memory.DBPath); err != nil {
			fmt.Fprintf(out, "Memory: local (%s, not created yet)\n", cfg.Memory.DBPath)
		} else {
			fmt.Fprintf(out, "Memory: local (%s)\n", cfg.Memory.DBPath)
		}
	}
	fmt.Fprintf(out, "Auto extract: every %d messages\n", cfg.Memory.AutoExtract.Threshold)

	if _, err := os.Stat(cfg.Agent.ProfileDir); err != nil {
		fmt.Fprintln(out, "Profiles: not found (run 'echo onboard')")
	} else {
		fmt.Fprintf(out, "Profiles: %s\n", cfg.Agent.ProfileDir)
	}

	fmt.Fprintf(out, "Profile refresh: %s\n", cfg.Schedule.ProfileRefresh)
	jobs, err := cron.LoadJobs(gateway.CronStorePath())
	if err != nil {
		fmt.Fprintf(out, "Jobs: error (%v)\n", err)
		return nil
	}
	for _, job := range jobs {
		status := job.State.LastStatus
		if status == "" {
			status = "never run"
		}
		fmt.Fprintf(out, "Job %s (%s): %s\n", job.Name, job.Expr, status)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{UserID: userFlag})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(context.Background())
}

func renderMarkdown(markdown string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return markdown
	}
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(out, "\n")
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}
