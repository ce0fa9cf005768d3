package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/talkback/internal/chat"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/speech/session"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/types"
)

type textRequest struct {
	Text    string `json:"text"`
	Variant string `json:"variant,omitempty"`
}

type variantRequest struct {
	Variant string `json:"variant"`
}

type voiceRequest struct {
	Name string `json:"name"`
}

type messagesResponse struct {
	Messages []types.Message `json:"messages"`
}

type tokenResponse struct {
	Token session.Token `json:"token"`
}

type stopResponse struct {
	Stopped bool `json:"stopped"`
}

type sessionView struct {
	session.Session
	Tier string `json:"tier,omitempty"`
}

type sessionResponse struct {
	State   session.State `json:"state"`
	Current *sessionView  `json:"current,omitempty"`
	Last    *sessionView  `json:"last,omitempty"`
}

type voicesResponse struct {
	Voices []tts.Voice `json:"voices"`
}

type voiceResponse struct {
	Name string `json:"name"`
}

type variantResponse struct {
	Variant speech.Variant `json:"variant"`
	Changed bool           `json:"changed,omitempty"`
}

type normalizeStep struct {
	Rule     string `json:"rule"`
	Category string `json:"category"`
	Before   string `json:"before"`
	After    string `json:"after"`
}

type normalizeResponse struct {
	Variant speech.Variant  `json:"variant"`
	Text    string          `json:"text"`
	Steps   []normalizeStep `json:"steps"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	msgs, err := s.chat.Messages(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Messages: msgs})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	ex, err := s.chat.Send(r.Context(), req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		tok session.Token
		err error
	)
	if req.Variant == "" {
		tok, err = s.chat.SpeakText(r.Context(), req.Text)
	} else {
		var v speech.Variant
		if v, err = speech.ParseVariant(req.Variant); err == nil {
			tok, err = s.chat.SpeakAs(r.Context(), req.Text, v)
		}
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, tokenResponse{Token: tok})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stopResponse{Stopped: s.chat.Stop(r.Context())})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	res := sessionResponse{State: s.sessions.State()}
	if cur, ok := s.sessions.Current(); ok {
		res.Current = view(cur)
	}
	if last, ok := s.sessions.Last(); ok {
		res.Last = view(last)
	}
	writeJSON(w, http.StatusOK, res)
}

func view(sess session.Session) *sessionView {
	v := &sessionView{Session: sess}
	if sess.Voice != nil {
		v.Tier = sess.Tier.String()
	}
	return v
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.voices == nil {
		writeError(w, http.StatusNotFound, errors.New("voice catalog not available"))
		return
	}
	voices, err := s.voices.ListVoices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("voice catalog unavailable", "err", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, voicesResponse{Voices: voices})
}

func (s *Server) handleGetVoice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, voiceResponse{Name: s.sessions.PreferredVoice()})
}

func (s *Server) handlePutVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if !decode(w, r, &req) {
		return
	}
	s.sessions.SetPreferredVoice(req.Name)
	observe.Logger(r.Context()).Info("preferred voice changed", "voice", req.Name)
	writeJSON(w, http.StatusOK, voiceResponse{Name: s.sessions.PreferredVoice()})
}

func (s *Server) handleGetVariant(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, variantResponse{Variant: s.chat.Variant()})
}

func (s *Server) handlePutVariant(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := speech.ParseVariant(req.Variant)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	changed, err := s.chat.SetVariant(r.Context(), v)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, variantResponse{Variant: v, Changed: changed})
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if s.normalizer == nil {
		writeError(w, http.StatusNotFound, errors.New("normalizer not available"))
		return
	}
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	v := s.chat.Variant()
	if req.Variant != "" {
		var err error
		if v, err = speech.ParseVariant(req.Variant); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	out, steps := s.normalizer.Trace(req.Text, v)
	res := normalizeResponse{Variant: v, Text: out, Steps: make([]normalizeStep, len(steps))}
	for i, st := range steps {
		res.Steps[i] = normalizeStep{
			Rule:     st.Rule,
			Category: string(st.Category),
			Before:   st.Before,
			After:    st.After,
		}
	}
	writeJSON(w, http.StatusOK, res)
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrEmptyInput),
		errors.Is(err, session.ErrEmptyText),
		errors.Is(err, speech.ErrUnknownVariant):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrSpeechDisabled):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err)
}

// decode reads a JSON body into v. On failure it writes a 400 and returns
// false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("request body is empty")
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: strings.TrimSpace(err.Error())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
