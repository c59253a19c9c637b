// Package profile builds the per-user ECHO.md learning profile from memory.
package profile

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhuqingxun/echo/internal/memory"
)

const (
	factLimit    = 50
	episodeLimit = 10
)

var focusKeywords = []string{"学习", "learn", "study"}

// Synthesizer regenerates a user's profile document from scratch on every
// update. Writes are not locked; callers serialize updates per user.
type Synthesizer struct {
	mem    memory.Gateway
	userID string
	path   string
	now    func() time.Time
}

func New(mem memory.Gateway, userID, dir string) (*Synthesizer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &Synthesizer{
		mem:    mem,
		userID: userID,
		path:   filepath.Join(dir, userID+"_ECHO.md"),
		now:    time.Now,
	}, nil
}

// SetClock replaces the time source used for dates in the document.
func (s *Synthesizer) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Synthesizer) Path() string {
	return s.path
}

// Generate renders the document from the current memory state. Gathering
// failures degrade to an empty document rather than an error.
func (s *Synthesizer) Generate(ctx context.Context, userName string) (string, error) {
	if strings.TrimSpace(userName) == "" {
		userName = s.userID
	}
	doc, err := s.gather(ctx)
	if err != nil {
		log.Printf("[profile] warning: gather profile data: %v", err)
		doc.CreatedDate = notAvailable
	} else {
		doc.CreatedDate = s.createdDate()
	}
	doc.UserName = userName
	doc.UserID = s.userID
	doc.LastUpdated = s.now().Format("2006-01-02 15:04")
	return Render(doc)
}

// Save replaces the profile file atomically.
func (s *Synthesizer) Save(content string) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+s.userID+"_ECHO-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write profile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close profile: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("chmod profile: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

// Load returns the saved document, or "" if none has been written yet.
func (s *Synthesizer) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read profile: %w", err)
	}
	return string(data), nil
}

// Update regenerates and saves the document and returns its path.
func (s *Synthesizer) Update(ctx context.Context, userName string) (string, error) {
	content, err := s.Generate(ctx, userName)
	if err != nil {
		return "", fmt.Errorf("render profile: %w", err)
	}
	if err := s.Save(content); err != nil {
		return "", err
	}
	return s.path, nil
}

// gather reads the backing data. On error the returned document is empty
// apart from placeholders.
func (s *Synthesizer) gather(ctx context.Context) (Document, error) {
	doc := Document{LastConversation: notAvailable}

	agg, err := s.mem.GetUserProfile(ctx, s.userID)
	if err != nil {
		return doc, err
	}
	prefs, err := s.mem.GetPreferences(ctx, s.userID)
	if err != nil {
		return doc, err
	}
	facts, err := s.mem.GetFacts(ctx, s.userID, "", factLimit)
	if err != nil {
		return doc, err
	}

	contents := make([]string, 0, len(facts))
	for _, f := range facts {
		contents = append(contents, f.Content)
	}
	skills := Categorize(contents)

	doc.Preferences = limit(prefs, maxPreferences)
	doc.SkillsMastered = limit(skills.Mastered, maxMastered)
	doc.SkillsLearning = limit(skills.Learning, maxLearning)
	doc.SkillsPlanned = limit(skills.Planned, maxPlanned)
	doc.Interests = limit(Interests(contents), maxInterests)
	doc.ResourcesCount = agg.DocumentsCount
	doc.KnowledgePoints = len(facts)
	doc.LearningDays = learningDays()
	doc.ImportantNotes = limit(importantNotes(), maxNotes)
	doc.CurrentFocus = s.currentFocus(ctx)
	return doc, nil
}

// learningDays has no agreed definition yet and always reports 0.
func learningDays() int {
	return 0
}

// importantNotes is an extension point; no note source exists yet.
func importantNotes() []string {
	return nil
}

func (s *Synthesizer) currentFocus(ctx context.Context) []string {
	eps, err := s.mem.GetEpisodes(ctx, s.userID, episodeLimit)
	if err != nil {
		log.Printf("[profile] warning: gather current focus: %v", err)
		return nil
	}
	var focus []string
	for _, ep := range limit(eps, maxFocus) {
		if containsAny(ep.Content, focusKeywords) {
			focus = append(focus, truncateRunes(ep.Content, focusRunes)+"...")
		}
	}
	return focus
}

// createdDate is the modification date of the profile file, or today when
// no file exists. The file content is never read.
func (s *Synthesizer) createdDate() string {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.now().Format("2006-01-02")
		}
		log.Printf("[profile] warning: stat profile: %v", err)
		return notAvailable
	}
	return info.ModTime().Format("2006-01-02")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
