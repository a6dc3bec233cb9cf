// Package chat answers typed questions with the text model and runs the
// document tools (example generation and reformulation) over the teacher's
// resources.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tutorlive/internal/observe"
	"github.com/MrWong99/tutorlive/internal/prompt"
	"github.com/MrWong99/tutorlive/pkg/provider/llm"
)

// FallbackReply is returned when the model produced no text.
const FallbackReply = "Désolé, je n'ai pas pu générer de réponse."

// ExamplesMarker separates a resource's content from generated examples.
const ExamplesMarker = "\n\n--- EXEMPLES GÉNÉRÉS PAR L'IA ---\n"

// ThinkingEffort is the reasoning level requested by [ModeThinking].
const ThinkingEffort = llm.ReasoningHigh

// enrichConcurrency bounds parallel example generation.
const enrichConcurrency = 3

// Models names the model used by each mode. Empty entries use the
// provider's default model.
type Models struct {
	Standard string
	Lite     string
	Thinking string
}

func (m Models) forMode(mode Mode) string {
	switch mode {
	case ModeLite:
		return m.Lite
	case ModeThinking:
		if m.Thinking != "" {
			return m.Thinking
		}
		return m.Standard
	default:
		return m.Standard
	}
}

// Option is a functional option for [New].
type Option func(*Service)

// WithModels sets the per-mode model names.
func WithModels(m Models) Option {
	return func(s *Service) { s.models = m }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithTimeout bounds every model call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// Service is the chat and document-tool front end. It is safe for
// concurrent use.
type Service struct {
	llm     llm.Provider
	store   *prompt.Store
	models  Models
	metrics *observe.Metrics
	log     *slog.Logger
	timeout time.Duration
}

// New creates a Service that answers with p and reads settings from store.
func New(p llm.Provider, store *prompt.Store, opts ...Option) *Service {
	s := &Service{llm: p, store: store, timeout: 2 * time.Minute}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Reply answers message in the context of history using the model chosen
// by mode. Provider failures are returned as a classified [*Error].
func (s *Service) Reply(ctx context.Context, history []llm.Message, message string, mode Mode) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: llm.NormalizeRole(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})

	req := llm.CompletionRequest{
		Model:        s.models.forMode(mode),
		SystemPrompt: s.store.SystemInstruction(),
		Messages:     msgs,
	}
	if mode == ModeThinking {
		req.ReasoningEffort = ThinkingEffort
	}

	start := time.Now()
	text, err := s.complete(ctx, "reply", req)
	s.metrics.RecordChat(ctx, mode.String(), time.Since(start))
	if err != nil {
		return "", err
	}
	if text == "" {
		return FallbackReply, nil
	}
	return text, nil
}

func (s *Service) complete(ctx context.Context, op string, req llm.CompletionRequest) (text string, err error) {
	ctx, span := observe.StartSpan(ctx, "chat."+op)
	defer func() { observe.EndSpan(span, err) }()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		kind := ClassifyError(err)
		s.metrics.RecordProviderError(ctx, "llm", kind.String())
		observe.Logger(ctx, s.log).Warn("chat: completion failed", "op", op, "kind", kind.String(), "err", err)
		return "", &Error{Kind: kind, Err: err}
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}

// ── Document tools ───────────────────────────────────────────────────────────

// GenerateExamples asks the model for two or three concrete examples that
// illustrate content.
func (s *Service) GenerateExamples(ctx context.Context, content string) (string, error) {
	return s.complete(ctx, "examples", llm.CompletionRequest{
		Model: s.models.Standard,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(`Tu es un expert pédagogique. Voici un extrait de cours :

"%s"

Tâche : Génère 2 à 3 exemples concrets, variés et détaillés pour illustrer les concepts présents dans ce texte.
Ces exemples doivent aider un élève à mieux comprendre par la pratique ou l'analogie.

Format de sortie : Retourne uniquement les exemples, formatés clairement (ex: "Exemple concret 1 : ..."), sans texte d'introduction inutile.`, content)}},
	})
}

// Reformulate rewrites content for the given class level.
func (s *Service) Reformulate(ctx context.Context, content, level string) (string, error) {
	if strings.TrimSpace(level) == "" {
		return "", ErrEmptyLevel
	}
	return s.complete(ctx, "reformulate", llm.CompletionRequest{
		Model: s.models.Standard,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(`Tu es un expert pédagogique. Voici un contenu de cours :

"%s"

Tâche : Reformule et simplifie ce contenu pour le rendre accessible à un niveau "%s".
Utilise un langage clair, des phrases simples et une structure aérée. Conserve le sens original mais rend-le plus digeste.
Ajoute une mention "[Contenu reformulé pour niveau %s]" au début.`, content, level, level)}},
	})
}

// EnrichResource appends generated examples to the resource's content. The
// resource is returned unchanged when the model produced nothing.
func (s *Service) EnrichResource(ctx context.Context, id string) (prompt.Resource, error) {
	r, err := s.store.Resource(id)
	if err != nil {
		return prompt.Resource{}, err
	}
	examples, err := s.GenerateExamples(ctx, r.Content)
	if err != nil {
		return r, err
	}
	if examples == "" {
		return r, nil
	}
	return s.store.UpdateResource(id, func(r *prompt.Resource) {
		r.Content += ExamplesMarker + examples
	})
}

// EnrichResources enriches several resources concurrently. It stops at the
// first failure.
func (s *Service) EnrichResources(ctx context.Context, ids []string) ([]prompt.Resource, error) {
	out := make([]prompt.Resource, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			r, err := s.EnrichResource(gctx, id)
			if err != nil {
				return fmt.Errorf("resource %q: %w", id, err)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReformulateResource rewrites a resource for level. With apply set the
// stored content is replaced; otherwise only the text is returned.
func (s *Service) ReformulateResource(ctx context.Context, id, level string, apply bool) (string, error) {
	r, err := s.store.Resource(id)
	if err != nil {
		return "", err
	}
	text, err := s.Reformulate(ctx, r.Content, level)
	if err != nil || text == "" || !apply {
		return text, err
	}
	if _, err := s.store.UpdateResource(id, func(r *prompt.Resource) { r.Content = text }); err != nil {
		return "", err
	}
	return text, nil
}
