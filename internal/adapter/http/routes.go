package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the API routes on r. ws may be nil.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc) {
	r.Get("/health", h.Health)
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Decisions
		r.Post("/decisions", h.Decide)
		r.Get("/decisions", h.ListDecisions)

		// Admission queue
		r.Post("/queue", h.Enqueue)
		r.Post("/queue/dequeue", h.Dequeue)
		r.Get("/queue/stats", h.QueueStats)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Post("/agents", h.RegisterAgent)
		r.Patch("/agents/{id}", h.UpdateAgent)

		r.Post("/rewards/split", h.SplitReward)

		// Scaling
		r.Get("/scaling", h.ScalingStatus)
		r.Get("/scaling/decisions", h.ListScaling)
		r.Post("/scaling/recommend", h.RecommendScaling)
		r.Get("/scaling/loops", h.LoopHistory)
		r.Patch("/scaling/loops/{loop}", h.TuneLoop)

		r.Get("/queueing/metrics", h.QueueingMetrics)
	})
}
