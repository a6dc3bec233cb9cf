package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/tutorlive/internal/chat"
	"github.com/MrWong99/tutorlive/internal/prompt"
	"github.com/MrWong99/tutorlive/internal/readaloud"
	"github.com/MrWong99/tutorlive/internal/session"
	"github.com/MrWong99/tutorlive/pkg/audio"
	"github.com/MrWong99/tutorlive/pkg/provider/llm"
)

// maxBodyBytes bounds request bodies; resources carry whole course texts.
const maxBodyBytes = 8 << 20

func (a *App) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /live", a.handleLiveInfo)
	mux.HandleFunc("POST /live/start", a.handleLiveStart)
	mux.HandleFunc("POST /live/stop", a.handleLiveStop)
	mux.HandleFunc("POST /live/mute", a.handleLiveMute)

	mux.HandleFunc("POST /chat", a.handleChat)
	mux.HandleFunc("POST /chat/speak", a.handleSpeak)
	mux.HandleFunc("POST /chat/speak/stop", a.handleSpeakStop)

	mux.HandleFunc("GET /settings", a.handleGetSettings)
	mux.HandleFunc("PUT /settings", a.handlePutSettings)
	mux.HandleFunc("GET /settings/instruction", a.handleInstruction)
	mux.HandleFunc("POST /settings/resources", a.handleAddResource)
	mux.HandleFunc("DELETE /settings/resources/{id}", a.handleRemoveResource)
	mux.HandleFunc("POST /settings/resources/enrich", a.handleEnrichResources)
	mux.HandleFunc("POST /settings/resources/{id}/enrich", a.handleEnrichResource)
	mux.HandleFunc("POST /settings/resources/{id}/reformulate", a.handleReformulate)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}

// writeError maps domain errors to HTTP statuses.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		serr *session.Error
		cerr *chat.Error
	)
	switch {
	case errors.Is(err, session.ErrAlreadyActive), errors.Is(err, session.ErrStartAborted), errors.Is(err, readaloud.ErrBusy):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.As(err, &serr):
		status := http.StatusBadGateway
		switch serr.Kind {
		case session.KindPermissionDenied:
			status = http.StatusForbidden
		case session.KindDeviceUnavailable:
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, errorBody{Error: serr.UserMessage(), Kind: serr.Kind.String(), Detail: serr.Err.Error()})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: cerr.UserMessage(), Kind: cerr.Kind.String(), Detail: cerr.Err.Error()})
	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, readaloud.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.Is(err, prompt.ErrResourceNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, prompt.ErrInvalidResource), errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrEmptyLevel),
		errors.Is(err, readaloud.ErrEmptyText):
		badRequest(w, err)
	default:
		a.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// chatService returns the chat service or answers 503 when it is disabled.
func (a *App) chatService(w http.ResponseWriter) (*chat.Service, bool) {
	if a.chat == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "chat mode is not configured"})
		return nil, false
	}
	return a.chat, true
}

// ─── Live ────────────────────────────────────────────────────────────────────

func (a *App) handleLiveInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.Info())
}

func (a *App) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Start(r.Context(), a.liveConfig()); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.sessions.Info())
}

func (a *App) handleLiveStop(w http.ResponseWriter, _ *http.Request) {
	a.sessions.Stop()
	writeJSON(w, http.StatusOK, a.sessions.Info())
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

func (a *App) handleLiveMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if req.Muted == nil {
		badRequest(w, errors.New("muted is required"))
		return
	}
	a.sessions.SetMuted(*req.Muted)
	writeJSON(w, http.StatusOK, a.sessions.Info())
}

// ─── Chat ────────────────────────────────────────────────────────────────────

type chatRequest struct {
	History []llm.Message `json:"history"`
	Message string        `json:"message"`
	Mode    chat.Mode     `json:"mode"`
}

type chatResponse struct {
	Reply string    `json:"reply"`
	Mode  chat.Mode `json:"mode"`
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.chatService(w)
	if !ok {
		return
	}
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	reply, err := svc.Reply(r.Context(), req.History, req.Message, req.Mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply, Mode: req.Mode})
}

type speakRequest struct {
	Text string `json:"text"`
}

type speakResponse struct {
	DurationMS int64 `json:"duration_ms"`
}

type speakStopResponse struct {
	Stopped int `json:"stopped"`
}

func (a *App) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if a.reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "read-aloud is not configured"})
		return
	}
	var req speakRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	d, err := a.reader.Speak(r.Context(), req.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, speakResponse{DurationMS: d.Milliseconds()})
}

func (a *App) handleSpeakStop(w http.ResponseWriter, _ *http.Request) {
	var n int
	if a.reader != nil {
		n = a.reader.Stop()
	}
	writeJSON(w, http.StatusOK, speakStopResponse{Stopped: n})
}

// ─── Settings ────────────────────────────────────────────────────────────────

func (a *App) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Get())
}

func (a *App) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var s prompt.Settings
	if err := decodeJSON(w, r, &s); err != nil {
		badRequest(w, err)
		return
	}
	if err := a.store.Replace(s); err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.store.Get())
}

type instructionResponse struct {
	System string `json:"system"`
	Live   string `json:"live"`
}

func (a *App) handleInstruction(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, instructionResponse{
		System: a.store.SystemInstruction(),
		Live:   a.liveConfig().Instructions,
	})
}

type resourceRequest struct {
	Title   string `json:"title"`
	Chapter string `json:"chapter"`
	Content string `json:"content"`
}

func (a *App) handleAddResource(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := a.store.AddResource(req.Title, req.Chapter, req.Content)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *App) handleRemoveResource(w http.ResponseWriter, r *http.Request) {
	if err := a.store.RemoveResource(r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleEnrichResource(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.chatService(w)
	if !ok {
		return
	}
	res, err := svc.EnrichResource(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type enrichRequest struct {
	IDs []string `json:"ids"`
}

func (a *App) handleEnrichResources(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.chatService(w)
	if !ok {
		return
	}
	var req enrichRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := svc.EnrichResources(r.Context(), req.IDs)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reformulateRequest struct {
	Level string `json:"level"`
	Apply bool   `json:"apply"`
}

type reformulateResponse struct {
	Content string `json:"content"`
	Applied bool   `json:"applied"`
}

func (a *App) handleReformulate(w http.ResponseWriter, r *http.Request) {
	svc, ok := a.chatService(w)
	if !ok {
		return
	}
	var req reformulateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	text, err := svc.ReformulateResource(r.Context(), r.PathValue("id"), req.Level, req.Apply)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reformulateResponse{Content: text, Applied: req.Apply && text != ""})
}
