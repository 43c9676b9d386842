package http

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Strob0t/agentgate/internal/domain"
	"github.com/Strob0t/agentgate/internal/domain/agent"
	"github.com/Strob0t/agentgate/internal/domain/control"
	"github.com/Strob0t/agentgate/internal/domain/decision"
	"github.com/Strob0t/agentgate/internal/domain/event"
	"github.com/Strob0t/agentgate/internal/domain/queueing"
	"github.com/Strob0t/agentgate/internal/port/database"
	"github.com/Strob0t/agentgate/internal/service"
)

const maxDequeueTimeout = 30 * time.Second

// Handlers holds the HTTP handler dependencies. Peers may be nil, in which
// case agents are registered in the market without a directory entry.
type Handlers struct {
	Admission *service.AdmissionService
	Scaler    *service.ScalerService
	Rewards   *service.RewardService
	Peers     *service.PeerDirectory
	Store     database.Store
	Model     queueing.Model
}

// Health reports liveness plus queue size and known agents.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"agent_id":   h.Admission.Engine().AgentID(),
		"queue_size": h.Admission.Queue().Size(),
		"agents":     len(h.Admission.Engine().Market().Agents()),
	})
}

// withID assigns a fresh id to items submitted without one.
func withID(item event.WorkItem) event.WorkItem {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	return item
}

// Decide runs the engine on an item synchronously without queueing it.
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	item, ok := readJSON[event.WorkItem](w, r)
	if !ok {
		return
	}
	d := h.Admission.Decide(r.Context(), withID(item))
	writeJSON(w, http.StatusOK, d)
}

// ListDecisions returns the audit log filtered by action, reason and since.
func (h *Handlers) ListDecisions(w http.ResponseWriter, r *http.Request) {
	f, err := decisionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.Store.ListDecisions(r.Context(), f)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if items == nil {
		items = []decision.ProcessingDecision{}
	}
	writeJSON(w, http.StatusOK, items)
}

func decisionFilter(r *http.Request) (decision.Filter, error) {
	q := r.URL.Query()
	f := decision.Filter{
		Action: decision.Action(q.Get("action")),
		Reason: decision.Reason(q.Get("reason")),
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("since must be RFC 3339")
		}
		f.Since = t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return f, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

// Enqueue submits an item to the admission queue.
func (h *Handlers) Enqueue(w http.ResponseWriter, r *http.Request) {
	item, ok := readJSON[event.WorkItem](w, r)
	if !ok {
		return
	}
	item = withID(item)
	if err := item.Validate(); err != nil {
		writeDomainError(w, err, "")
		return
	}
	if !h.Admission.Submit(r.Context(), item) {
		writeError(w, http.StatusServiceUnavailable, "queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": item.ID})
}

// Dequeue removes the next item, waiting up to ?timeout= (default 1s).
// Responds 204 when the queue stays empty.
func (h *Handlers) Dequeue(w http.ResponseWriter, r *http.Request) {
	timeout := time.Second
	if s := r.URL.Query().Get("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "timeout must be a positive duration")
			return
		}
		timeout = min(d, maxDequeueTimeout)
	}
	ev, ok := h.Admission.Queue().Dequeue(r.Context(), timeout)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// QueueStats returns admission queue counters.
func (h *Handlers) QueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Admission.Queue().Stats())
}

// ListAgents returns every registered agent snapshot.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Admission.Engine().Market().Agents())
}

// RegisterAgent adds or replaces an agent snapshot.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	s, ok := readJSON[agent.State](w, r)
	if !ok {
		return
	}
	var err error
	if h.Peers != nil && s.ID != h.Admission.Engine().AgentID() {
		err = h.Peers.Observe(r.Context(), &s)
	} else if err = s.Validate(); err == nil {
		h.Admission.Engine().Market().Register(s)
	}
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// UpdateAgent applies a partial update to a registered agent.
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, ok := readJSON[agent.StateUpdate](w, r)
	if !ok {
		return
	}
	s, err := h.Admission.Engine().Market().UpdateState(id, u)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// SplitReward computes a Shapley reward split.
func (h *Handlers) SplitReward(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.SplitRequest](w, r)
	if !ok {
		return
	}
	split, err := h.Rewards.Split(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, split)
}

type recommendRequest struct {
	Latency         float64 `json:"latency"` // seconds
	Utilization     float64 `json:"utilization"`
	CurrentReplicas int     `json:"current_replicas"`
}

// RecommendScaling runs the controller on caller-supplied observations.
func (h *Handlers) RecommendScaling(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[recommendRequest](w, r)
	if !ok {
		return
	}
	if req.Latency < 0 || req.Utilization < 0 || req.CurrentReplicas < 0 {
		writeDomainError(w, fmt.Errorf("observations must be >= 0: %w", domain.ErrValidation), "")
		return
	}
	replicas := req.CurrentReplicas
	if replicas == 0 {
		replicas = h.Scaler.Replicas()
	}
	latency := time.Duration(req.Latency * float64(time.Second))
	writeJSON(w, http.StatusOK, h.Scaler.Recommend(r.Context(), latency, req.Utilization, replicas))
}

// ScalingStatus returns the last controller tick, or 204 before the first.
func (h *Handlers) ScalingStatus(w http.ResponseWriter, _ *http.Request) {
	st, ok := h.Scaler.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListScaling returns recent persisted recommendations.
func (h *Handlers) ListScaling(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := h.Store.ListScaling(r.Context(), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if items == nil {
		items = []database.ScalingRecord{}
	}
	writeJSON(w, http.StatusOK, items)
}

type queueingResponse struct {
	Metrics queueing.Metrics `json:"metrics"`
	Advice  queueing.Advice  `json:"advice"`
}

// QueueingMetrics evaluates the M/M/c model. Without query parameters it
// uses the engine's live rates; ?lambda=&mu=&c= evaluate a what-if.
func (h *Handlers) QueueingMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var mt queueing.Metrics
	if q.Get("lambda") == "" && q.Get("mu") == "" {
		mt = h.Admission.Engine().QueueingMetrics()
	} else {
		lambda, err1 := strconv.ParseFloat(q.Get("lambda"), 64)
		mu, err2 := strconv.ParseFloat(q.Get("mu"), 64)
		c := 1
		var err3 error
		if s := q.Get("c"); s != "" {
			c, err3 = strconv.Atoi(s)
		}
		if err := errors.Join(err1, err2, err3); err != nil || lambda < 0 || mu <= 0 || c < 1 {
			writeError(w, http.StatusBadRequest, "lambda >= 0, mu > 0 and c >= 1 are required")
			return
		}
		if math.IsInf(lambda, 0) || math.IsInf(mu, 0) || math.IsNaN(lambda) || math.IsNaN(mu) {
			writeError(w, http.StatusBadRequest, "lambda and mu must be finite")
			return
		}
		if c > queueing.MaxServers {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("c must be <= %d", queueing.MaxServers))
			return
		}
		mt = h.Model.Calculate(lambda, mu, c)
	}
	writeJSON(w, http.StatusOK, queueingResponse{Metrics: mt, Advice: h.Model.RecommendScaling(mt)})
}

// TuneLoop retunes one of the autoscaler's PID loops.
func (h *Handlers) TuneLoop(w http.ResponseWriter, r *http.Request) {
	t, ok := readJSON[control.Tuning](w, r)
	if !ok {
		return
	}
	if err := h.Scaler.Scaler().Tune(chi.URLParam(r, "loop"), t); err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, h.Scaler.Scaler().Config())
}

// LoopHistory returns the recent PID samples of both loops.
func (h *Handlers) LoopHistory(w http.ResponseWriter, _ *http.Request) {
	latency, utilization := h.Scaler.Scaler().LoopHistory()
	writeJSON(w, http.StatusOK, map[string][]control.Sample{
		control.LoopLatency:     latency,
		control.LoopUtilization: utilization,
	})
}
