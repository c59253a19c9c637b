// Package agent drives Echo's chat turns and learning operations on top of
// the memory and language model gateways.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/zhuqingxun/echo/internal/config"
	"github.com/zhuqingxun/echo/internal/llm"
	"github.com/zhuqingxun/echo/internal/memory"
	"github.com/zhuqingxun/echo/internal/profile"
)

// profileRefreshInterval is the number of turns between profile rebuilds.
const profileRefreshInterval = 10

// ProfileStore is the part of the profile synthesizer the agent uses.
type ProfileStore interface {
	Update(ctx context.Context, userName string) (string, error)
	Load() (string, error)
	Path() string
}

// Fetcher downloads a resource page as Markdown.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*memory.FetchedDocument, error)
}

type Options struct {
	Config  *config.Config
	Memory  memory.Gateway
	LLM     llm.Gateway
	Profile ProfileStore
	Fetcher Fetcher
	Intent  IntentDetector

	// UserID, UserName and ProfileDir override the config when set.
	UserID     string
	UserName   string
	ProfileDir string
}

// Agent holds the per-user session state. It is not safe for concurrent
// Chat calls; use one Agent per active user session.
type Agent struct {
	mem       memory.Gateway
	llm       llm.Gateway
	profile   ProfileStore
	fetcher   Fetcher
	intent    IntentDetector
	assembler *ContextAssembler

	userID    string
	userName  string
	maxTokens int

	sessionID      string
	turnCount      int
	profileContent string
	learningIntent bool
}

func New(opts Options) (*Agent, error) {
	if opts.Memory == nil {
		return nil, fmt.Errorf("agent: memory gateway is required")
	}
	if opts.LLM == nil {
		return nil, fmt.Errorf("agent: llm gateway is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	userID := firstNonEmpty(opts.UserID, cfg.Agent.UserID, config.DefaultUserID)
	a := &Agent{
		mem:       opts.Memory,
		llm:       opts.LLM,
		profile:   opts.Profile,
		fetcher:   opts.Fetcher,
		intent:    opts.Intent,
		assembler: NewContextAssembler(opts.Memory),
		userID:    userID,
		userName:  firstNonEmpty(opts.UserName, cfg.Agent.UserName, userID),
		maxTokens: cfg.Agent.MaxTokens,
	}
	if a.maxTokens <= 0 {
		a.maxTokens = config.DefaultMaxTokens
	}
	if a.intent == nil {
		a.intent = NewKeywordIntent()
	}
	if a.fetcher == nil {
		a.fetcher = memory.NewResourceFetcher()
	}
	if a.profile == nil {
		dir := firstNonEmpty(opts.ProfileDir, cfg.Agent.ProfileDir)
		p, err := profile.New(opts.Memory, userID, dir)
		if err != nil {
			return nil, err
		}
		a.profile = p
	}

	if content, err := a.profile.Load(); err != nil {
		report("load profile", err)
	} else if content != "" {
		a.profileContent = content
		log.Printf("[agent] loaded existing profile for %s", userID)
	}

	trigger := firstNonEmpty(cfg.Memory.AutoExtract.Trigger, config.DefaultAutoExtractTrigger)
	threshold := cfg.Memory.AutoExtract.Threshold
	if threshold <= 0 {
		threshold = config.DefaultAutoExtractLimit
	}
	report("enable auto extract", opts.Memory.EnableAutoExtract(context.Background(), userID, trigger, threshold))

	log.Printf("[agent] initialized for %s", userID)
	return a, nil
}

// Chat runs one turn: retrieve context, generate, persist, and refresh the
// profile every tenth turn. Failures before generation completes come back
// as an error reply and do not count as a turn.
func (a *Agent) Chat(ctx context.Context, message string) string {
	a.learningIntent = a.intent.IsLearningIntent(message)
	if a.learningIntent {
		log.Printf("[agent] learning intent detected; knowledge graph building is a candidate")
	}
	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}

	bundle, err := a.assembler.Assemble(ctx, a.userID, message)
	if err != nil {
		log.Printf("[agent] chat error: %v", err)
		return errorReply(err)
	}

	answer, err := a.llm.Complete(ctx, SystemPrompt, BuildContextPrompt(message, bundle), a.maxTokens)
	if err != nil {
		log.Printf("[agent] chat error: %v", err)
		return errorReply(err)
	}

	report("store conversation", a.mem.AppendConversation(ctx, a.userID, a.sessionID, []memory.Message{
		{Role: "user", Content: message},
		{Role: "assistant", Content: answer},
	}))
	a.turnCount++

	if a.turnCount%profileRefreshInterval == 0 {
		log.Printf("[agent] refreshing profile after %d turns", a.turnCount)
		a.UpdateProfile(ctx)
	}
	return answer
}

// UpdateProfile rebuilds the profile document and returns its path, or ""
// when it could not be written.
func (a *Agent) UpdateProfile(ctx context.Context) string {
	path, err := a.profile.Update(ctx, a.userName)
	if err != nil {
		log.Printf("[agent] update profile failed: %v", err)
		return ""
	}
	if content, err := a.profile.Load(); err == nil {
		a.profileContent = content
	}
	return path
}

func (a *Agent) ProfilePath() string {
	return a.profile.Path()
}

// ProfileContent is the profile text as of construction or the last update.
func (a *Agent) ProfileContent() string {
	return a.profileContent
}

func (a *Agent) UserID() string    { return a.userID }
func (a *Agent) UserName() string  { return a.userName }
func (a *Agent) SessionID() string { return a.sessionID }
func (a *Agent) TurnCount() int    { return a.turnCount }

// LearningIntent reports whether the last chat message showed learning intent.
func (a *Agent) LearningIntent() bool { return a.learningIntent }

func (a *Agent) Close() error {
	return a.mem.Close()
}

func errorReply(err error) string {
	return fmt.Sprintf("Sorry, something went wrong while handling your request: %v", err)
}

// report logs and discards the outcome of a best-effort side call.
func report(op string, err error) {
	if err != nil {
		log.Printf("[agent] warning: %s failed: %v", op, err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
