package agent

import (
	"context"
	"fmt"

	"github.com/zhuqingxun/echo/internal/memory"
)

const contextSearchLimit = 5

// Context is the bounded background gathered for one message.
type Context struct {
	Memories    []memory.Record
	Preferences []memory.Preference
}

// ContextAssembler retrieves chat context from the memory backend. Records
// keep the backend's relevance order.
type ContextAssembler struct {
	mem memory.Gateway
}

func NewContextAssembler(mem memory.Gateway) *ContextAssembler {
	return &ContextAssembler{mem: mem}
}

func (a *ContextAssembler) Assemble(ctx context.Context, userID, query string) (Context, error) {
	records, err := a.mem.Search(ctx, userID, query, memory.ContextTypes, contextSearchLimit)
	if err != nil {
		return Context{}, fmt.Errorf("search memories: %w", err)
	}
	prefs, err := a.mem.GetPreferences(ctx, userID)
	if err != nil {
		return Context{}, fmt.Errorf("get preferences: %w", err)
	}
	return Context{Memories: records, Preferences: prefs}, nil
}
