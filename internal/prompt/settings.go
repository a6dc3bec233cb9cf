// Package prompt holds the teacher settings and renders them into the system
// instruction shared by chat mode and the live voice session.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// GeneralChapter is the chapter given to resources filed under no chapter.
const GeneralChapter = "Général"

// Role is the kind of user talking to the assistant.
type Role string

const (
	RoleStudent Role = "eleve"
	RoleTeacher Role = "professeur"
	RoleAdmin   Role = "admin"
)

// ParseRole validates s as a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("prompt: unknown role %q (want eleve, professeur or admin)", s)
	}
}

// Resource is a course document supplied by the teacher.
type Resource struct {
	ID      string `json:"id"      yaml:"id"`
	Title   string `json:"title"   yaml:"title"`
	Chapter string `json:"chapter" yaml:"chapter"`
	Content string `json:"content" yaml:"content"`
}

// chapter returns the grouping key for r.
func (r Resource) chapter() string {
	if c := strings.TrimSpace(r.Chapter); c != "" {
		return c
	}
	return GeneralChapter
}

// Settings is the teacher configuration that shapes every answer.
type Settings struct {
	Role               Role       `json:"role"`
	ClassLevel         string     `json:"class_level"`
	HomeworkHelp       bool       `json:"homework_help"`
	AssessmentHelp     bool       `json:"assessment_help"`
	ActiveChapter      string     `json:"active_chapter"`
	CustomInstructions string     `json:"custom_instructions"`
	Resources          []Resource `json:"resources"`
}

// Validate reports settings that cannot be rendered.
func (s Settings) Validate() error {
	var errs []error
	if _, err := ParseRole(string(s.Role)); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(s.Resources))
	for i, r := range s.Resources {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("prompt: resources[%d]: id is required", i))
		} else if seen[r.ID] {
			errs = append(errs, fmt.Errorf("prompt: resources[%d]: duplicate id %q", i, r.ID))
		}
		seen[r.ID] = true
		if strings.TrimSpace(r.Title) == "" {
			errs = append(errs, fmt.Errorf("prompt: resources[%d]: title is required", i))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	out := s
	if s.Resources != nil {
		out.Resources = make([]Resource, len(s.Resources))
		copy(out.Resources, s.Resources)
	}
	return out
}

// DefaultCustomInstructions are the behavioural rules a new installation
// starts with.
const DefaultCustomInstructions = `1. POLITESSE : Si l'élève ne commence pas la conversation par une formule de politesse (Bonjour, Salut, etc.), refuse poliment de répondre à sa question et demande-lui de reformuler avec politesse.

2. ORTHOGRAPHE : Si le message de l'élève contient beaucoup de fautes d'orthographe :
   - Demande-lui de se relire et de corriger son texte.
   - Si l'élève a fait un effort pour corriger (même s'il reste quelques fautes) ou si c'est la deuxième fois qu'il essaie, accepte sa réponse pour ne pas le bloquer et réponds à sa question.
   - Ne sois pas trop sévère, le but est pédagogique.`

// DefaultSettings returns the settings of a fresh installation.
func DefaultSettings() Settings {
	return Settings{
		Role:               RoleStudent,
		ClassLevel:         "Secondaire inférieur",
		HomeworkHelp:       true,
		AssessmentHelp:     false,
		CustomInstructions: DefaultCustomInstructions,
	}
}
