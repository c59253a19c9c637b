// Package cron runs Echo's periodic jobs, such as the nightly profile refresh,
// on robfig/cron schedules. Job run state is kept in a JSON store so that
// `echo status` can report when a job last ran.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
)

// Handler is the body of a job. The returned string is logged.
type Handler func(ctx context.Context) (string, error)

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type Job struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Expr    string   `json:"expr"`
	Enabled bool     `json:"enabled"`
	State   JobState `json:"state"`
}

type Service struct {
	storePath string
	mu        sync.Mutex
	jobs      []Job
	handlers  map[string]Handler     // job ID -> handler
	entryMap  map[string]rcron.EntryID // job ID -> cron entry ID
	cron      *rcron.Cron
	runCtx    context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
}

// NewService creates a scheduler. An empty storePath disables persistence.
func NewService(storePath string) *Service {
	s := &Service{
		storePath: storePath,
		handlers:  make(map[string]Handler),
		entryMap:  make(map[string]rcron.EntryID),
	}
	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load jobs: %v", err)
	}
	return s
}

// AddJob schedules h under a standard five-field cron expression (or a
// descriptor such as "@daily"). A job stored earlier under the same name keeps
// its ID and run state.
func (s *Service) AddJob(name, expr string, h Handler) (*Job, error) {
	if _, err := rcron.ParseStandard(expr); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	if h == nil {
		return nil, fmt.Errorf("job %s: handler is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.jobs = append(s.jobs, Job{ID: uuid.NewString(), Name: name, Enabled: true})
		idx = len(s.jobs) - 1
	}
	job := &s.jobs[idx]
	if job.Expr != expr {
		s.unregister(job.ID)
		job.Expr = expr
	}
	s.handlers[job.ID] = h

	if job.Enabled && s.cron != nil {
		if _, ok := s.entryMap[job.ID]; !ok {
			s.register(job)
		}
	}

	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}
	out := *job
	return &out, nil
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New()
	for i := range s.jobs {
		if s.jobs[i].Enabled {
			s.register(&s.jobs[i])
		}
	}
	n := len(s.entryMap)
	s.cron.Start()
	s.mu.Unlock()

	log.Printf("[cron] started with %d jobs", n)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.entryMap = make(map[string]rcron.EntryID)
	s.cron = nil
	s.mu.Unlock()
	log.Printf("[cron] stopped")
}

// RunJob executes a job immediately, outside its schedule.
func (s *Service) RunJob(id string) error {
	s.mu.Lock()
	var job *Job
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			job = &s.jobs[i]
			break
		}
	}
	if job == nil {
		s.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	jobCopy := *job
	s.mu.Unlock()

	s.executeJob(jobCopy)
	return nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.unregister(id)
			delete(s.handlers, id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			_ = s.save()
			return true
		}
	}
	return false
}

func (s *Service) EnableJob(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = enabled
		if s.cron != nil {
			if enabled {
				if _, ok := s.entryMap[id]; !ok {
					s.register(&s.jobs[i])
				}
			} else {
				s.unregister(id)
			}
		}
		_ = s.save()
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	copy(result, s.jobs)
	return result
}

// LoadJobs reads the stored jobs without starting a scheduler.
func LoadJobs(storePath string) ([]Job, error) {
	s := &Service{storePath: storePath}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.jobs, nil
}

// register must be called with s.mu held.
func (s *Service) register(job *Job) {
	if _, ok := s.handlers[job.ID]; !ok {
		return
	}
	jobCopy := *job
	id, err := s.cron.AddFunc(job.Expr, func() {
		s.executeJob(jobCopy)
	})
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", job.Name, job.Expr, err)
		return
	}
	s.entryMap[job.ID] = id
}

// unregister must be called with s.mu held.
func (s *Service) unregister(id string) {
	if entryID, ok := s.entryMap[id]; ok {
		if s.cron != nil {
			s.cron.Remove(entryID)
		}
		delete(s.entryMap, id)
	}
}

func (s *Service) executeJob(job Job) {
	s.mu.Lock()
	h := s.handlers[job.ID]
	ctx := s.runCtx
	s.mu.Unlock()

	if h == nil {
		log.Printf("[cron] no handler for job %s", job.Name)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("[cron] executing job %s (%s)", job.Name, job.ID)
	result, err := h(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		s.jobs[i].State.LastRunAtMs = time.Now().UnixMilli()
		if err != nil {
			s.jobs[i].State.LastStatus = "error"
			s.jobs[i].State.LastError = err.Error()
			log.Printf("[cron] job %s error: %v", job.Name, err)
		} else {
			s.jobs[i].State.LastStatus = "ok"
			s.jobs[i].State.LastError = ""
			log.Printf("[cron] job %s result: %s", job.Name, truncate(result, 100))
		}
		break
	}

	if err := s.save(); err != nil {
		log.Printf("[cron] warning: failed to save jobs: %v", err)
	}
}

func (s *Service) load() error {
	if s.storePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.jobs)
}

func (s *Service) save() error {
	if s.storePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
