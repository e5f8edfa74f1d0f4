package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/antoniostano/charbooth/internal/config"
	"github.com/antoniostano/charbooth/internal/engine"
	"github.com/antoniostano/charbooth/internal/generation"
	"github.com/antoniostano/charbooth/internal/logging"
	"github.com/antoniostano/charbooth/internal/observability"
	"github.com/antoniostano/charbooth/internal/policy"
	"github.com/antoniostano/charbooth/internal/protocol"
	"github.com/antoniostano/charbooth/internal/session"
)

type Server struct {
	cfg     config.Config
	coord   *generation.Coordinator
	metrics *observability.Metrics
	logger  *slog.Logger
}

func New(cfg config.Config, coord *generation.Coordinator, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		coord:   coord,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.cfg.AllowAnyOrigin {
		r.Use(allowAnyOrigin)
	}

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)
		r.Get("/personas", s.handleListPersonas)
		r.Get("/models", s.handleListModels)
		r.Get("/models/current", s.handleCurrentModel)

		r.Post("/session/start", s.handleStartSession)
		r.Post("/session/release", s.handleReleaseSession)
		r.Get("/session/{id}", s.handleGetSession)
		r.Post("/generate", s.handleGenerate)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, protocol.OKResponse{OK: true})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	catalog := s.coord.Catalog()
	out := protocol.PersonasResponse{Modes: append(catalog.Modes().Names(), "auto")}
	for _, p := range catalog.List() {
		out.Personas = append(out.Personas, protocol.PersonaInfo{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			DefaultVoice: p.DefaultVoice,
			ReplyLength:  p.ReplyLength,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCurrentModel(w http.ResponseWriter, _ *http.Request) {
	p := s.engineParams()
	eng := s.coord.Engine()
	respondJSON(w, http.StatusOK, protocol.ModelInfo{
		Engine:        eng.Name(),
		Model:         engine.ModelOf(eng),
		ContextLength: p.ContextLength,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		MaxTokens:     p.MaxTokens,
		GPULayers:     p.GPULayers,
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	eng := s.coord.Engine()
	models, err := engine.ListModels(r.Context(), eng)
	if err != nil {
		s.respondCoordinatorError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.ModelsResponse{
		Engine:       eng.Name(),
		CurrentModel: engine.ModelOf(eng),
		Models:       models,
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "request body must be a JSON object")
		return
	}
	if !validSessionID(req.SessionID) {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "session_id must be a UUID")
		return
	}

	sess, created, err := s.coord.Start(r.Context(), generation.StartRequest{
		SessionID:   req.SessionID,
		BoothID:     req.BoothID,
		Personality: req.Personality,
		Mode:        req.Mode,
	})
	if err != nil {
		s.respondCoordinatorError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, protocol.StartSessionResponse{
		SessionID:        sess.ID,
		Created:          created,
		ExpiresInSeconds: int64(s.coord.ExpiresIn(sess, s.cfg.SessionTTL).Seconds()),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req protocol.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "request body must be a JSON object")
		return
	}
	if !validSessionID(req.SessionID) {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "session_id must be a UUID")
		return
	}

	genReq := generation.Request{
		SessionID:   req.SessionID,
		Personality: req.Personality,
		Mode:        req.Mode,
		UserText:    req.UserText,
	}
	if req.Scene != nil {
		genReq.Scene = &policy.Scene{Caption: req.Scene.Caption, Tags: req.Scene.Tags}
	}

	res, err := s.coord.Generate(r.Context(), genReq)
	if err != nil {
		s.respondCoordinatorError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.GenerateResponse{
		Text:        res.Text,
		Personality: res.Personality,
		Mode:        res.Mode,
		Usage: protocol.Usage{
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		},
	})
}

func (s *Server) handleReleaseSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.ReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "request body must be a JSON object")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "session_id is required")
		return
	}
	if err := s.coord.Release(r.Context(), req.SessionID); err != nil {
		s.respondCoordinatorError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.OKResponse{OK: true})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validSessionID(id) {
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, "session id must be a UUID")
		return
	}
	sess, err := s.coord.Session(r.Context(), id)
	if err != nil {
		s.respondCoordinatorError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionView(sess))
}

// respondCoordinatorError maps domain errors onto status codes. Engine error
// text stays in the log.
func (s *Server) respondCoordinatorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, generation.ErrSessionExpired):
		respondError(w, http.StatusNotFound, protocol.CodeSessionExpired, "session expired or not found")
	case errors.Is(err, generation.ErrUnknownPersona):
		respondError(w, http.StatusBadRequest, protocol.CodeUnknownPersona, "unknown personality")
	case errors.Is(err, generation.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidRequest, err.Error())
	case errors.Is(err, generation.ErrPersonalityMismatch):
		respondError(w, http.StatusConflict, protocol.CodePersonalityMismatch, "personality does not match session")
	case errors.Is(err, engine.ErrEngineUnavailable):
		respondError(w, http.StatusServiceUnavailable, protocol.CodeEngineUnavailable, "engine unavailable")
	case errors.Is(err, engine.ErrGenerationTimeout):
		respondError(w, http.StatusGatewayTimeout, protocol.CodeGenerationTimeout, "generation timed out")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		respondError(w, http.StatusInternalServerError, protocol.CodeInternal, "internal error")
	}
}

func (s *Server) engineParams() engine.Params {
	return engine.Params{
		ContextLength: s.cfg.LLMContextLength,
		Temperature:   s.cfg.LLMTemperature,
		TopP:          s.cfg.LLMTopP,
		MaxTokens:     s.cfg.LLMMaxTokens,
		GPULayers:     s.cfg.LLMGPULayers,
	}
}

func validSessionID(id string) bool {
	_, err := uuid.Parse(strings.TrimSpace(id))
	return err == nil
}

func sessionView(sess *session.Session) protocol.SessionView {
	view := protocol.SessionView{
		SessionID:    sess.ID,
		BoothID:      sess.BoothID,
		Personality:  sess.Personality,
		Mode:         sess.Mode,
		History:      make([]protocol.Turn, 0, len(sess.History)),
		CreatedAt:    sess.CreatedAt,
		LastActiveAt: sess.LastActiveAt,
	}
	for _, t := range sess.History {
		view.History = append(view.History, protocol.Turn{Role: string(t.Role), Content: t.Content, At: t.At})
	}
	return view
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}
