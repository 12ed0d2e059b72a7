package controller

import (
	"encoding/json"
	"net/http"

	"marginBot/pkg/service/balancer"

	"github.com/go-chi/chi"
)

func InitControllers(balancerService *balancer.BalancerService) *chi.Mux {
	r := chi.NewRouter()

	InitHealthCheckEndpoints(r, balancerService)
	return r
}

func InitHealthCheckEndpoints(r *chi.Mux, balancerService *balancer.BalancerService) {
	r.Get("/healthcheck", func(res http.ResponseWriter, req *http.Request) {})

	r.Get("/status", func(res http.ResponseWriter, req *http.Request) {
		res.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(res).Encode(balancerService.GetStatus())
	})
}
