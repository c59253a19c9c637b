// Package gateway wires Echo's components together: the configured memory
// backend, the language model gateway, the agent and the cron scheduler used
// by `echo serve`.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/zhuqingxun/echo/internal/agent"
	"github.com/zhuqingxun/echo/internal/config"
	"github.com/zhuqingxun/echo/internal/cron"
	"github.com/zhuqingxun/echo/internal/llm"
	"github.com/zhuqingxun/echo/internal/memory"
)

const profileRefreshJob = "profile-refresh"

// Options for creating a Gateway. Zero values fall back to the configured
// components.
type Options struct {
	Memory        memory.Gateway
	LLM           llm.Gateway
	UserID        string
	UserName      string
	CronStorePath string
	SignalChan    chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	mem        memory.Gateway
	llm        llm.Gateway
	agent      *agent.Agent
	cron       *cron.Service
	signalChan chan os.Signal
}

// CronStorePath is where scheduled job state is kept.
func CronStorePath() string {
	return filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json")
}

// NewMemory opens the configured memory backend. The local engine extracts
// facts from stored conversations through gen when it is non-nil.
func NewMemory(cfg *config.Config, gen llm.Gateway) (memory.Gateway, error) {
	switch cfg.Memory.Backend {
	case config.MemoryBackendRemote:
		if strings.TrimSpace(cfg.Memory.BaseURL) == "" {
			return nil, fmt.Errorf("memory.baseUrl is required for the remote backend")
		}
		log.Printf("[gateway] using remote memory at %s", cfg.Memory.BaseURL)
		return memory.NewClient(cfg.Memory.BaseURL, cfg.Memory.APIKey), nil
	case config.MemoryBackendLocal, "":
		dbPath := strings.TrimSpace(cfg.Memory.DBPath)
		if dbPath == "" {
			dbPath = filepath.Join(config.ConfigDir(), "memory.db")
		}
		engine, err := memory.NewEngine(dbPath)
		if err != nil {
			return nil, fmt.Errorf("create memory engine: %w", err)
		}
		if gen != nil {
			engine.SetExtractor(memory.NewLLMExtractor(gen, 0))
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend)
	}
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	g.llm = opts.LLM
	if g.llm == nil {
		gen, err := llm.NewGateway(cfg)
		if err != nil {
			return nil, err
		}
		g.llm = gen
	}

	g.mem = opts.Memory
	if g.mem == nil {
		mem, err := NewMemory(cfg, g.llm)
		if err != nil {
			return nil, err
		}
		g.mem = mem
	}

	a, err := agent.New(agent.Options{
		Config:   cfg,
		Memory:   g.mem,
		LLM:      g.llm,
		UserID:   opts.UserID,
		UserName: opts.UserName,
	})
	if err != nil {
		_ = g.mem.Close()
		return nil, fmt.Errorf("create agent: %w", err)
	}
	g.agent = a

	storePath := opts.CronStorePath
	if storePath == "" {
		storePath = CronStorePath()
	}
	g.cron = cron.NewService(storePath)

	return g, nil
}

func (g *Gateway) Agent() *agent.Agent {
	return g.agent
}

func (g *Gateway) refreshProfile(ctx context.Context) (string, error) {
	path := g.agent.UpdateProfile(ctx)
	if path == "" {
		return "", fmt.Errorf("profile refresh for %s failed", g.agent.UserID())
	}
	return path, nil
}

// Run schedules the profile refresh and blocks until a signal arrives or ctx
// is done.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	expr := g.cfg.Schedule.ProfileRefresh
	if expr == "" {
		expr = config.DefaultProfileRefresh
	}
	if _, err := g.cron.AddJob(profileRefreshJob, expr, g.refreshProfile); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("schedule profile refresh: %w", err)
	}
	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	log.Printf("[gateway] serving %s, profile refresh %q", g.agent.UserID(), expr)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	if err := g.agent.Close(); err != nil {
		log.Printf("[gateway] close memory warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}
