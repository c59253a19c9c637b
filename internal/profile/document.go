package profile

import (
	"strings"
	"text/template"

	"github.com/zhuqingxun/echo/internal/memory"
)

const (
	NoData        = "(no data)"
	noNotes       = "(no important notes)"
	noFocus       = "(no current focus)"
	notAvailable  = "N/A"
	createdPrefix = "- **Profile created**: "
)

// Render caps, applied when the document is assembled.
const (
	maxPreferences = 5
	maxMastered    = 5
	maxLearning    = 3
	maxPlanned     = 3
	maxInterests   = 5
	maxNotes       = 5
	maxFocus       = 3
	focusRunes     = 50
)

// Document holds every field of a rendered profile.
type Document struct {
	UserName         string
	UserID           string
	CreatedDate      string
	LastUpdated      string
	Preferences      []memory.Preference
	SkillsMastered   []string
	SkillsLearning   []string
	SkillsPlanned    []string
	Interests        []string
	ResourcesCount   int
	KnowledgePoints  int
	LearningDays     int
	ImportantNotes   []string
	CurrentFocus     []string
	LastConversation string
}

var preferenceLabels = map[string]string{
	"learning_style":        "Learning style",
	"preferred_language":    "Preferred language",
	"daily_learning_time":   "Daily learning time",
	"learning_goal":         "Learning goal",
	"difficulty_preference": "Difficulty preference",
}

func preferenceLabel(key string) string {
	if label, ok := preferenceLabels[key]; ok {
		return label
	}
	return key
}

var documentTemplate = template.Must(template.New("echo.md").Funcs(template.FuncMap{
	"list":  bulletList,
	"prefs": preferenceList,
}).Parse(`# ECHO.md - Learning profile of {{.UserName}}

> Personal learning profile maintained by the Echo assistant.
> Details live in the memory backend; this file is a quick index.

---

## Basic information

- **User ID**: ` + "`{{.UserID}}`" + `
` + createdPrefix + `{{.CreatedDate}}
- **Last updated**: {{.LastUpdated}}

---

## Learning preferences

{{prefs .Preferences}}

---

## Skill tree

### Mastered
{{list .SkillsMastered "` + NoData + `"}}

### Learning
{{list .SkillsLearning "` + NoData + `"}}

### Planned
{{list .SkillsPlanned "` + NoData + `"}}

---

## Interests

{{list .Interests "` + NoData + `"}}

---

## Learning statistics

- **Resources collected**: {{.ResourcesCount}}
- **Knowledge points**: {{.KnowledgePoints}}
- **Learning days**: {{.LearningDays}}

---

## Where the details live

- Resources: memory type ` + "`document`" + `
- Knowledge points: memory type ` + "`fact`" + `, filter by category
- Learning history: memory type ` + "`episodic`" + `
- Knowledge graphs and plans: memory types ` + "`knowledge_graph`" + ` and ` + "`plan`" + `

---

## Important notes

{{list .ImportantNotes "` + noNotes + `"}}

---

## Current focus

{{list .CurrentFocus "` + noFocus + `"}}

---

**Last conversation**: {{.LastConversation}}

---

_This file is generated and maintained by Echo._
`))

// Render is a pure function of the document fields.
func Render(doc Document) (string, error) {
	var sb strings.Builder
	if err := documentTemplate.Execute(&sb, doc); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func bulletList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

func preferenceList(prefs []memory.Preference) string {
	if len(prefs) == 0 {
		return NoData
	}
	lines := make([]string, len(prefs))
	for i, p := range prefs {
		lines[i] = "- **" + preferenceLabel(p.Key) + "**: " + p.Value
	}
	return strings.Join(lines, "\n")
}
