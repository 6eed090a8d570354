package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/devhost/internal/httpserver/deps"
	"github.com/MrSnakeDoc/devhost/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/devhost/internal/httpserver/mw"
)

func init() { Register(registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	r.Route("/api", func(api chi.Router) {
		api.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))
		api.Get("/routes", handlers.Routes(d))
		api.Get("/instances", handlers.Instances(d))
		api.Get("/infra", handlers.Infra(d))
		api.Post("/reload", handlers.Reload(d))
	})
}
