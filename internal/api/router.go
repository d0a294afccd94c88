package api

import (
	"net/http"
	"time"

	"tle_zone_contest/internal/api/handler"
	"tle_zone_contest/internal/api/middleware"
	"tle_zone_contest/internal/common/security"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
)

// Services are the application entry points served over HTTP.
type Services struct {
	Submissions    handler.SubmissionService
	Problems       handler.ProblemService
	Contests       handler.ContestJoiner
	Leaderboard    handler.LeaderboardReader
	Callbacks      handler.CallbackHandler
	Notifications  handler.NotificationServer
	CallbackSecret string
}

func NewRouter(svc Services, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.AccessLog)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Browsers cannot set headers on a websocket handshake, so the token may
	// also come as ?jwt=.
	r.Use(jwtauth.Verify(security.TokenAuth, jwtauth.TokenFromHeader, jwtauth.TokenFromQuery))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(v1 chi.Router) {
		// Long-lived; must stay outside the request timeout.
		v1.Route("/ws", handler.NewWSHandler(svc.Notifications).RegisterRoutes)

		v1.Group(func(api chi.Router) {
			api.Use(chiMiddleware.Timeout(60 * time.Second))

			api.Route("/problems", handler.NewProblemHandler(svc.Problems).RegisterRoutes)
			api.Route("/submissions", handler.NewSubmissionHandler(svc.Submissions).RegisterRoutes)
			api.Route("/contests", handler.NewContestHandler(svc.Contests, svc.Leaderboard).RegisterRoutes)
			api.Route("/webhook", handler.NewWebhookHandler(svc.Callbacks, svc.CallbackSecret).RegisterRoutes)
		})
	})

	return r
}
