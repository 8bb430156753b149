package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"studio_gateway/internal/auth"
	"studio_gateway/internal/middleware"
)

// NewRouter builds the HTTP handler for every studio endpoint.
func NewRouter(deps *Dependencies) http.Handler {
	authHandler := NewAuthHandler(deps.Auth, deps.Users)
	usersHandler := NewAdminUsersHandler(deps.Auth, deps.Users, deps.AdminUsername)
	settingsHandler := NewSettingsHandler(deps.Settings, deps.GlobalSettings, deps.Models)
	modelsHandler := NewModelsHandler(deps.Models, deps.GlobalSettings, deps.Logger)
	usageHandler := NewUsageHandler(deps.Usage, deps.Recorder, deps.UsageWorker)
	chatHandler := NewChatHandler(deps.Proxy, deps.ChatMaxBytes, deps.Logger)
	filesHandler := NewFilesHandler(deps.UploadMaxBytes)
	healthHandler := NewHealthHandler(deps.DB)

	authenticate := middleware.Authenticate(deps.Auth.Tokens())

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(deps.Logger))
	r.Use(middleware.CORS(deps.CORSOrigins))
	r.Use(chimw.Recoverer)

	r.Get("/", healthHandler.Check)
	r.Get("/health", healthHandler.Check)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Get("/models", modelsHandler.ListPublic)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/auth/me", authHandler.Me)
			r.Put("/auth/password", authHandler.ChangePassword)
			r.Post("/auth/password", authHandler.ChangePassword)

			r.Get("/settings", settingsHandler.Get)
			r.Put("/settings", settingsHandler.Update)

			r.Post("/chat/completions", chatHandler.Complete)
			r.Post("/usage/log", usageHandler.Log)

			r.Post("/parse-file", filesHandler.ParseFile)
			r.Post("/parse-base64", filesHandler.ParseBase64)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.RequireRole(auth.RoleAdmin))

			r.Get("/users", usersHandler.List)
			r.Post("/users", usersHandler.Create)
			r.Get("/users/{username}", usersHandler.Get)
			r.Put("/users/{username}", usersHandler.Update)
			r.Delete("/users/{username}", usersHandler.Delete)

			r.Get("/models", modelsHandler.List)
			r.Post("/models", modelsHandler.Create)
			r.Get("/models/{modelID}", modelsHandler.GetByID)
			r.Put("/models/{modelID}", modelsHandler.Update)
			r.Delete("/models/{modelID}", modelsHandler.Delete)

			r.Get("/default-model", modelsHandler.GetDefault)
			r.Put("/default-model", modelsHandler.SetDefault)
			r.Delete("/default-model", modelsHandler.ClearDefault)

			r.Get("/usage", usageHandler.Stats)
			r.Get("/usage/logs", usageHandler.Logs)
			r.Get("/usage/dead-letters", usageHandler.DeadLetters)
			r.Post("/usage/dead-letters/{id}/retry", usageHandler.RetryDeadLetter)
		})
	})

	return r
}
