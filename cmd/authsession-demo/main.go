// Command authsession-demo runs a guarded web app against a local auth backend.
//
// Two listeners are started: the backend (sign-in, refresh, session, sign-out) on
// -backend-addr and the app on -addr. The app keeps tokens in cookies through the
// engine middleware and redirects anonymous visitors to /login.
//
// Redis backs refresh tokens and sign-in throttling. When neither -redis-addr nor
// AUTHSESSION_REDIS_ADDR is set an in-process miniredis is used.
//
// Run:
//
//	go run ./cmd/authsession-demo
//
// Then:
//
//	curl -i localhost:8080/account                      # 302 to /login?redirect=%2Faccount
//	curl -i -c jar.txt -d 'username=alice&password=correct-horse' \
//	  'localhost:8080/login?redirect=%2Faccount'        # 302 to /account, sets auth cookies
//	curl -i -b jar.txt -c jar.txt localhost:8080/account # user JSON
//	curl -i -b jar.txt -c jar.txt -X POST localhost:8080/logout
//	curl -s localhost:8080/metrics | grep authsession_
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/guard"
	"github.com/MrEthical07/authsession/internal/demobackend"
	promexport "github.com/MrEthical07/authsession/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "app listen address")
		backendAddr = flag.String("backend-addr", "127.0.0.1:8081", "backend listen address")
		configPath  = flag.String("config", "", "optional YAML config file")
		redisAddr   = flag.String("redis-addr", "", "redis address; overrides AUTHSESSION_REDIS_ADDR")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := authsession.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://" + *backendAddr
	}
	cfg.Endpoints.SignUp = authsession.Endpoint{Path: "/register", Method: http.MethodPost}
	cfg.Endpoints.Refresh = authsession.Endpoint{Path: "/refresh", Method: http.MethodPost}
	cfg.Session.ResponseSessionPointer = "/user"
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	if *redisAddr != "" {
		cfg.Storage.Redis.Addr = *redisAddr
	}

	logger, err := authsession.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	rdb, closeRedis, err := openRedis(cfg.Storage.Redis, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer closeRedis()

	backend, err := demobackend.New(demobackend.Config{
		Redis:      rdb,
		SigningKey: []byte(envOr("DEMO_SIGNING_KEY", "authsession-demo-signing-key-change-me")),
		Issuer:     "authsession-demo",
		AccessTTL:  cfg.AccessToken.MaxAge,
		RefreshTTL: cfg.RefreshToken.MaxAge,
		Logger:     logger.Named("backend"),
	})
	if err != nil {
		logger.Fatal("backend", zap.Error(err))
	}
	if _, err := backend.AddUser("alice", "Alice", "correct-horse"); err != nil {
		logger.Fatal("seed user", zap.Error(err))
	}

	builder := authsession.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithHooks(authsession.Hooks{
			LoggedIn: func(_ context.Context, loggedIn bool) {
				logger.Debug("logged-in flag changed", zap.Bool("logged_in", loggedIn))
			},
		})
	if cfg.Events.Enabled {
		builder = builder.WithEventSink(authsession.NewJSONWriterSink(os.Stdout))
	}
	engine, err := builder.Build()
	if err != nil {
		logger.Fatal("engine build", zap.Error(err))
	}
	defer engine.Close()

	exporter := promexport.NewExporter(engine)

	servers := []*http.Server{
		{Addr: *backendAddr, Handler: backend.Routes(), ReadHeaderTimeout: 5 * time.Second},
		{Addr: *addr, Handler: newApp(engine, exporter.Handler()), ReadHeaderTimeout: 5 * time.Second},
	}
	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}(srv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case err := <-errc:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
}

func openRedis(cfg authsession.RedisConfig, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if cfg.Addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Addr},
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		logger.Info("using redis", zap.String("addr", cfg.Addr))
		return rdb, func() { _ = rdb.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	logger.Info("using miniredis", zap.String("addr", mr.Addr()))
	return rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

/*
====================================
APP
====================================
*/

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<title>Sign in</title>
{{if .Error}}<p>{{.Error}}</p>{{end}}
<form method="post" action="{{.Login}}?{{.Param}}={{.Redirect}}">
  <input name="username" placeholder="username">
  <input name="password" type="password" placeholder="password">
  <button>Sign in</button>
</form>`))

func newApp(engine *authsession.Engine, metrics http.Handler) http.Handler {
	gcfg := guard.FromEngine(engine.Config())
	logoutPath := engine.Config().Redirect.Logout

	public := map[string]bool{"/about": true, "/metrics": true, "/register": true}
	metaFor := func(r *http.Request) guard.Meta {
		if public[r.URL.Path] {
			return guard.Public()
		}
		return guard.Meta{}
	}

	r := chi.NewRouter()
	r.Use(engine.Middleware)
	r.Use(guard.Global(gcfg, r, metaFor))

	r.Handle("/metrics", metrics)
	r.Get("/about", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "authsession demo")
	})
	account := accountHandler(gcfg.LoginPath)
	r.Get("/", account)
	r.Get("/account", account)

	r.Group(func(r chi.Router) {
		r.Use(guard.GuestOnly(gcfg))
		r.Get("/login", func(w http.ResponseWriter, r *http.Request) {
			renderLogin(w, r, gcfg, http.StatusOK, "")
		})
		r.Post("/login", loginHandler(gcfg))
	})

	r.Post("/register", func(w http.ResponseWriter, r *http.Request) {
		m, _ := authsession.ManagerFromContext(r.Context())
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, err := m.Register(r.Context(), map[string]string{
			"username": r.PostForm.Get("username"),
			"password": r.PostForm.Get("password"),
			"name":     r.PostForm.Get("name"),
		})
		if err != nil {
			var te *authsession.TransportError
			if errors.As(err, &te) {
				http.Error(w, http.StatusText(te.StatusCode), te.StatusCode)
				return
			}
			http.Error(w, "backend unavailable", http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, gcfg.LoginPath, http.StatusSeeOther)
	})

	r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
		m, _ := authsession.ManagerFromContext(r.Context())
		m.Logout(r.Context())
		http.Redirect(w, r, logoutPath, http.StatusSeeOther)
	})

	return r
}

func renderLogin(w http.ResponseWriter, r *http.Request, gcfg guard.Config, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = loginPage.Execute(w, struct {
		Error    string
		Login    string
		Param    string
		Redirect string
	}{
		Error:    msg,
		Login:    gcfg.LoginPath,
		Param:    gcfg.RedirectQuery,
		Redirect: r.URL.Query().Get(gcfg.RedirectQuery),
	})
}

func loginHandler(gcfg guard.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, _ := authsession.ManagerFromContext(r.Context())
		if err := r.ParseForm(); err != nil {
			renderLogin(w, r, gcfg, http.StatusBadRequest, "bad request")
			return
		}
		_, err := m.Login(r.Context(), map[string]string{
			"username": r.PostForm.Get("username"),
			"password": r.PostForm.Get("password"),
		})
		if err != nil {
			var te *authsession.TransportError
			switch {
			case errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests:
				renderLogin(w, r, gcfg, http.StatusTooManyRequests, "too many attempts, try again later")
			case errors.As(err, &te):
				renderLogin(w, r, gcfg, http.StatusUnauthorized, "invalid credentials")
			default:
				renderLogin(w, r, gcfg, http.StatusBadGateway, "sign in is unavailable")
			}
			return
		}
		http.Redirect(w, r, m.RedirectAfterLogin(r.URL.Query()), http.StatusSeeOther)
	}
}

// accountHandler restores the session from the request cookies; the guard only
// checks that a token exists.
func accountHandler(loginPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, _ := authsession.ManagerFromContext(r.Context())
		if err := m.Restore(r.Context()); err != nil || !m.IsLoggedIn() {
			http.Redirect(w, r, loginPath, http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.State())
	}
}
