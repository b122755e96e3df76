package digiscore

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed templates/styles.css
var cssStyles string

const missingDataMessage = "Processed data not found. Please run data processing scripts first."

// Server renders the dashboard and per-city policy briefs.
type Server struct {
	store       CityStore
	recommender *Recommender
	model       *ClusterModel
	cache       *gocache.Cache
	templates   *template.Template
	markdown    goldmark.Markdown
}

// NewServer builds a Server. model may be nil. A cacheTTL of zero disables
// recommendation caching.
func NewServer(store CityStore, recommender *Recommender, model *ClusterModel, cacheTTL time.Duration) (*Server, error) {
	tmpl, err := template.New("digiscore").
		Funcs(template.FuncMap{"pathEscape": url.PathEscape}).
		ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, eris.Wrap(err, "serve: parse templates")
	}

	s := &Server{
		store:       store,
		recommender: recommender,
		model:       model,
		templates:   tmpl,
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Linkify,
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
	}
	if cacheTTL > 0 {
		s.cache = gocache.New(cacheTTL, 2*cacheTTL)
	}
	return s, nil
}

// Routes returns the HTTP handler for the dashboard.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleDashboard)
	r.Get("/policy_brief/{city}", s.handlePolicyBrief)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

type dashboardPage struct {
	CSS         template.CSS
	Cities      []CityRecord
	Profiles    []ClusterProfile
	AIAvailable bool
	MaxScore    int
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	cities, err := s.store.Cities(r.Context())
	if err != nil {
		if eris.Is(err, ErrMissingInput) {
			http.Error(w, missingDataMessage, http.StatusBadRequest)
			return
		}
		zap.L().Error("failed to load cities", zap.Error(err))
		http.Error(w, "Failed to load cities", http.StatusInternalServerError)
		return
	}

	page := dashboardPage{
		CSS:         template.CSS(cssStyles),
		Cities:      cities,
		AIAvailable: s.recommender.AIAvailable(),
		MaxScore:    NumServices,
	}
	if s.model != nil {
		page.Profiles = s.model.Profiles()
	}
	s.render(w, http.StatusOK, "index.html", page)
}

type briefPage struct {
	CSS            template.CSS
	City           CityRecord
	Services       []ServiceStatus
	Recommendation template.HTML
	Source         string
	MaxScore       int
}

func (s *Server) handlePolicyBrief(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "city")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}

	cities, err := s.store.Cities(r.Context())
	if err != nil {
		zap.L().Error("failed to load cities", zap.String("city", name), zap.Error(err))
		page := briefPage{
			CSS:            template.CSS(cssStyles),
			City:           CityRecord{Name: name, ClusterLabel: "Error"},
			Recommendation: template.HTML(template.HTMLEscapeString(fmt.Sprintf("Error generating recommendations: %v", err))),
			MaxScore:       NumServices,
		}
		s.render(w, http.StatusInternalServerError, "policy_brief.html", page)
		return
	}

	city, ok := FindCity(cities, name)
	if !ok {
		s.render(w, http.StatusNotFound, "error.html", struct {
			CSS     template.CSS
			Message string
		}{
			CSS:     template.CSS(cssStyles),
			Message: fmt.Sprintf("City '%s' not found", name),
		})
		return
	}

	rec := s.recommend(r.Context(), city)
	s.render(w, http.StatusOK, "policy_brief.html", briefPage{
		CSS:            template.CSS(cssStyles),
		City:           city,
		Services:       city.ServiceFlags(),
		Recommendation: s.renderMarkdown(rec.Text),
		Source:         rec.Source.String(),
		MaxScore:       NumServices,
	})
}

func (s *Server) recommend(ctx context.Context, city CityRecord) Recommendation {
	if s.cache == nil {
		return s.recommender.Recommend(ctx, city)
	}

	key := strings.ToLower(strings.TrimSpace(city.Name))
	if cached, found := s.cache.Get(key); found {
		return cached.(Recommendation)
	}
	rec := s.recommender.Recommend(ctx, city)
	s.cache.SetDefault(key, rec)
	return rec
}

// renderMarkdown converts recommendation text to HTML. Raw HTML in the
// input is not passed through.
func (s *Server) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(text), &buf); err != nil {
		zap.L().Warn("failed to convert markdown, showing plain text", zap.Error(err))
		return template.HTML("<p>" + template.HTMLEscapeString(text) + "</p>")
	}
	return template.HTML(buf.String())
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		zap.L().Error("failed to execute template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		zap.L().Info("request completed",
			zap.String("req_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes_written", ww.BytesWritten()),
			zap.Duration("latency", time.Since(start)))
	})
}

// ServeCmd: Serves the dashboard and policy briefs from the configured city store
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the city dashboard and policy briefs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openStore(Config)
		if err != nil {
			return err
		}
		defer closeStore()

		model, err := LoadClusterModel(Config.Data.ModelPath)
		if err != nil {
			zap.L().Warn("cluster model not loaded, dashboard will omit cluster profiles", zap.Error(err))
			model = nil
		}

		recommender := NewRecommenderFromConfig(ctx, Config.OpenAI)
		server, err := NewServer(store, recommender, model, Config.Server.CacheTTL)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              Config.Server.Addr,
			Handler:           server.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server",
				zap.String("addr", srv.Addr),
				zap.String("store", Config.Store.Driver),
				zap.Bool("openai_available", recommender.AIAvailable()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "serve: listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

// openStore returns the CityStore selected by cfg.Store.Driver.
func openStore(cfg Settings) (CityStore, func(), error) {
	switch cfg.Store.Driver {
	case "", "csv":
		return CSVStore{Path: cfg.Data.ClusteredPath}, func() {}, nil
	case "sqlite":
		store, err := OpenSQLiteStore(cfg.Data.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				zap.L().Warn("failed to close database", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, eris.Errorf("serve: unknown store driver %q", cfg.Store.Driver)
	}
}
