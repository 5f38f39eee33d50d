// Package webapi provides the http inference service for a trained model:
// prediction, explanation, drift analysis and the model card.
package webapi

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth_chi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/umputun/spam-rectifier/lib/monitor"
	"github.com/umputun/spam-rectifier/lib/rectifier"
	"github.com/umputun/spam-rectifier/lib/report"
)

// Server is a web API server.
type Server struct {
	Config
	predCache cache.Cache[string, predictResp]
}

// Config defines server parameters
type Config struct {
	Version    string           // version to show in /ping and app-info headers
	ListenAddr string           // listen address
	Model      ModelProvider    // source of the current trained model
	Logger     PredictionLogger // optional log of served predictions
	AuthPasswd string           // basic auth password for user "spam-rectifier", disabled if empty
	CacheTTL   time.Duration    // prediction cache ttl, disabled if zero
	CacheKeys  int              // prediction cache max keys
	Dbg        bool             // debug mode
}

// ModelProvider gives read access to the current trained model.
type ModelProvider interface {
	Get() *rectifier.Model
}

// PredictionLogger records served predictions.
type PredictionLogger interface {
	Log(text, prediction string, probabilities map[string]float64)
}

// PredictionLoggerFunc is a func adapter for PredictionLogger
type PredictionLoggerFunc func(text, prediction string, probabilities map[string]float64)

// Log records a served prediction
func (f PredictionLoggerFunc) Log(text, prediction string, probabilities map[string]float64) {
	f(text, prediction, probabilities)
}

type predictResp struct {
	Prediction    string             `json:"prediction"`
	Probabilities map[string]float64 `json:"probabilities"`
}

type textRequest struct {
	Text string `json:"text"`
	TopN int    `json:"top_n"`
}

// NewServer creates a new web API server.
func NewServer(config Config) *Server {
	res := &Server{Config: config}
	if config.CacheTTL > 0 {
		keys := config.CacheKeys
		if keys <= 0 {
			keys = 1000
		}
		res.predCache = cache.NewCache[string, predictResp]().WithMaxKeys(keys).WithTTL(config.CacheTTL)
	}
	return res
}

// Run starts the server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	router := chi.NewRouter()
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(middleware.Throttle(1000), middleware.Timeout(60*time.Second))
	router.Use(rest.AppInfo("spam-rectifier", "umputun", s.Version), rest.Ping)
	router.Use(tollbooth_chi.LimitHandler(tollbooth.NewLimiter(50, nil)))
	router.Use(rest.SizeLimit(1024 * 1024)) // 1M max request size

	if s.AuthPasswd != "" {
		log.Printf("[INFO] basic auth enabled for webapi server")
	} else {
		log.Printf("[WARN] basic auth disabled, access to webapi is not protected")
	}

	router = s.routes(router)

	srv := &http.Server{Addr: s.ListenAddr, Handler: router, ReadTimeout: 5 * time.Second, WriteTimeout: 30 * time.Second}
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[WARN] failed to shutdown webapi server: %v", err)
		} else {
			log.Printf("[INFO] webapi server stopped")
		}
	}()

	log.Printf("[INFO] start webapi server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

func (s *Server) routes(router *chi.Mux) *chi.Mux {
	router.Group(func(api chi.Router) {
		api.Use(s.authMiddleware(rest.BasicAuthWithUserPasswd("spam-rectifier", s.AuthPasswd)))
		api.Post("/predict", s.predictHandler)     // classify a text
		api.Post("/explain", s.explainHandler)     // classify and rank token contributions
		api.Post("/drift", s.driftHandler)         // drift report for a batch of texts
		api.Get("/model-card", s.modelCardHandler) // markdown model card
		api.Get("/labels", s.labelsHandler)        // trained labels and metadata
	})
	return router
}

// predictHandler handles POST /predict request. It returns the predicted
// label with the full probability distribution. Served predictions are cached
// by text hash; the key includes the training timestamp so a model reload
// invalidates prior entries.
func (s *Server) predictHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTextRequest(w, r)
	if !ok {
		return
	}

	m := s.Model.Get()
	key := fmt.Sprintf("%x-%s", sha256.Sum256([]byte(req.Text)), m.TrainedAt)
	if s.predCache != nil {
		if resp, found := s.predCache.Get(key); found {
			rest.RenderJSON(w, resp)
			return
		}
	}

	probs, err := m.PredictProba(req.Text)
	if err != nil {
		s.sendError(w, "can't predict", err)
		return
	}
	prediction, err := m.Predict(req.Text)
	if err != nil {
		s.sendError(w, "can't predict", err)
		return
	}

	resp := predictResp{Prediction: prediction, Probabilities: probs}
	if s.predCache != nil {
		s.predCache.Set(key, resp, 0)
	}
	if s.Logger != nil {
		s.Logger.Log(req.Text, prediction, probs)
	}
	rest.RenderJSON(w, resp)
}

// explainHandler handles POST /explain request. It returns the prediction,
// probabilities and top token contributions.
func (s *Server) explainHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTextRequest(w, r)
	if !ok {
		return
	}
	topN := req.TopN
	if topN <= 0 {
		topN = 8
	}

	res, err := s.Model.Get().Explain(req.Text, topN)
	if err != nil {
		s.sendError(w, "can't explain", err)
		return
	}
	rest.RenderJSON(w, res)
}

// driftHandler handles POST /drift request with a batch of texts. It returns
// the divergence score and the most shifted tokens.
func (s *Server) driftHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Texts []string `json:"texts"`
		TopN  int      `json:"top_n"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}
	if req.TopN <= 0 {
		req.TopN = 10
	}
	rest.RenderJSON(w, monitor.DriftReport(s.Model.Get(), req.Texts, req.TopN))
}

// modelCardHandler handles GET /model-card request, returns rendered markdown.
func (s *Server) modelCardHandler(w http.ResponseWriter, _ *http.Request) {
	m := s.Model.Get()
	if m.DatasetSize == 0 {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "model metadata missing dataset size"})
		return
	}

	topTokens := map[string][]rectifier.TokenScore{}
	for _, label := range m.Labels() {
		tokens, err := m.TopTokens(label, 12)
		if err != nil {
			s.sendError(w, "can't get top tokens", err)
			return
		}
		topTokens[label] = tokens
	}

	card, err := report.ModelCard(report.CardInfo{
		Name:          "spam-rectifier",
		Version:       s.Version,
		Labels:        m.Labels(),
		DatasetSize:   m.DatasetSize,
		TrainedAt:     m.TrainedAt,
		PositiveLabel: "spam",
		TopTokens:     topTokens,
	})
	if err != nil {
		s.sendError(w, "can't render model card", err)
		return
	}
	rest.RenderJSON(w, rest.JSON{"card": card})
}

// labelsHandler handles GET /labels request, returns trained labels and model metadata.
func (s *Server) labelsHandler(w http.ResponseWriter, _ *http.Request) {
	m := s.Model.Get()
	rest.RenderJSON(w, rest.JSON{"labels": m.Labels(), "trained_at": m.TrainedAt, "dataset_size": m.DatasetSize})
}

// decodeTextRequest parses {"text": ..., "top_n": ...} and rejects empty text.
func (s *Server) decodeTextRequest(w http.ResponseWriter, r *http.Request) (req textRequest, ok bool) {
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return req, false
	}
	if req.Text == "" {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "text is required"})
		return req, false
	}
	return req, true
}

func (s *Server) sendError(w http.ResponseWriter, msg string, err error) {
	log.Printf("[WARN] %s: %v", msg, err)
	w.WriteHeader(http.StatusInternalServerError)
	rest.RenderJSON(w, rest.JSON{"error": msg, "details": err.Error()})
}

func (s *Server) authMiddleware(mw func(next http.Handler) http.Handler) func(next http.Handler) http.Handler {
	if s.AuthPasswd == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler { return mw(next) }
}
