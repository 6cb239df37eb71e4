package api

import (
	"net/http"

	"github.com/jordanhubbard/sentinel/internal/replan"
	"github.com/jordanhubbard/sentinel/internal/thresholds"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// handleLoop routes /api/v1/loops/{loopID}/{action}.
func (s *Server) handleLoop(w http.ResponseWriter, r *http.Request) {
	segments := extractPath(r.URL.Path, "/api/v1/loops")
	if len(segments) < 2 {
		s.respondError(w, http.StatusNotFound, "Expected /api/v1/loops/{loopID}/{action}")
		return
	}
	loopID := segments[0]
	action := segments[1]

	switch {
	case action == "can-execute" && r.Method == http.MethodPost:
		s.handleCanExecute(w, r, loopID)
	case action == "process" && r.Method == http.MethodPost:
		s.handleProcess(w, r, loopID)
	case action == "reflection" && len(segments) == 3 && r.Method == http.MethodPost:
		s.handleReflectionAction(w, r, loopID, segments[2])
	case action == "freeze" && r.Method == http.MethodGet:
		s.handleGetFreeze(w, loopID)
	case action == "unfreeze" && r.Method == http.MethodPost:
		s.handleUnfreeze(w, r, loopID, false)
	case action == "override" && r.Method == http.MethodPost:
		s.handleUnfreeze(w, r, loopID, true)
	case action == "replan" && r.Method == http.MethodPost:
		s.handleReplan(w, r, loopID)
	default:
		s.respondError(w, http.StatusNotFound, "Unknown loop action")
	}
}

func (s *Server) handleCanExecute(w http.ResponseWriter, r *http.Request, loopID string) {
	var state types.LoopState
	if err := s.parseJSON(r, &state); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid loop state")
		return
	}
	result, err := s.engine.CanExecute(r.Context(), loopID, state)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, loopID string) {
	var state types.LoopState
	if err := s.parseJSON(r, &state); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid loop state")
		return
	}
	outcome, err := s.engine.ProcessLoop(r.Context(), loopID, state)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleReflectionAction(w http.ResponseWriter, r *http.Request, loopID, verb string) {
	var body struct {
		ResultConfidence float64 `json:"result_confidence"`
		Reason           string  `json:"reason"`
	}
	if err := s.parseJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var err error
	switch verb {
	case "complete":
		err = s.engine.Reflections().Complete(r.Context(), loopID, body.ResultConfidence)
	case "cancel":
		err = s.engine.Reflections().Cancel(r.Context(), loopID, body.Reason)
	default:
		s.respondError(w, http.StatusNotFound, "Unknown reflection action")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetFreeze(w http.ResponseWriter, loopID string) {
	event := s.engine.Gate().Active(loopID)
	if event == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"frozen": false})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"frozen": true, "event": event})
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request, loopID string, manual bool) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := s.parseJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Reason == "" {
		s.respondError(w, http.StatusBadRequest, "Reason is required")
		return
	}
	if err := s.engine.Gate().Unfreeze(r.Context(), loopID, body.Reason, manual); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReplan(w http.ResponseWriter, r *http.Request, loopID string) {
	var body struct {
		NewLoopID         string `json:"new_loop_id"`
		AgentID           string `json:"agent_id"`
		ProjectID         string `json:"project_id"`
		Reason            string `json:"reason"`
		RevisedReflection string `json:"revised_reflection"`
	}
	if err := s.parseJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.engine.Replan(r.Context(), replan.Request{
		OriginalLoopID:    loopID,
		NewLoopID:         body.NewLoopID,
		AgentID:           body.AgentID,
		ProjectID:         body.ProjectID,
		Reason:            body.Reason,
		RevisedReflection: body.RevisedReflection,
	}, nil)
	if err != nil {
		// The result carries the failed status and the step context.
		s.respondJSON(w, http.StatusBadGateway, result)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleAgents lists agents known to the trust ledger.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.engine.Ledger().Agents())
}

// handleAgent serves /api/v1/agents/{agentID}[/trust|/effective].
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	segments := extractPath(r.URL.Path, "/api/v1/agents")
	if len(segments) == 0 {
		s.respondError(w, http.StatusNotFound, "Agent id required")
		return
	}
	agentID := segments[0]
	ledger := s.engine.Ledger()

	if len(segments) == 1 {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"agent_id":    agentID,
			"trust_score": ledger.Score(agentID),
			"trust_delta": ledger.Delta(agentID),
			"status":      ledger.Status(agentID),
			"demoted":     ledger.IsDemoted(agentID),
			"fallback":    ledger.Fallback(agentID),
		})
		return
	}

	switch segments[1] {
	case "trust":
		s.respondJSON(w, http.StatusOK, ledger.History(agentID))
	case "effective":
		s.respondJSON(w, http.StatusOK, map[string]string{
			"requested": agentID,
			"effective": s.engine.Rerouter().EffectiveAgent(agentID),
		})
	default:
		s.respondError(w, http.StatusNotFound, "Unknown agent resource")
	}
}

// handleEvaluate scores an agent's metrics through the trust ledger.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var body struct {
		AgentID string             `json:"agent_id"`
		LoopID  string             `json:"loop_id"`
		Metrics types.TrustMetrics `json:"metrics"`
	}
	if err := s.parseJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.AgentID == "" {
		s.respondError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	event, err := s.engine.Ledger().Evaluate(r.Context(), body.AgentID, body.Metrics, body.LoopID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, event)
}

// handleThresholdProjects lists projects carrying overrides.
func (s *Server) handleThresholdProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"projects": s.engine.Thresholds().Projects()})
}

// handleThresholds serves /api/v1/thresholds/{projectID}.
func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	segments := extractPath(r.URL.Path, "/api/v1/thresholds")
	projectID := thresholds.DefaultProject
	if len(segments) > 0 {
		projectID = segments[0]
	}
	ts := s.engine.Thresholds()

	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, ts.Get(projectID))
	case http.MethodPut, http.MethodPatch:
		var partial types.ThresholdSet
		if err := s.parseJSON(r, &partial); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid threshold set")
			return
		}
		if err := ts.Update(r.Context(), projectID, partial); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, ts.Get(projectID))
	case http.MethodDelete:
		if err := ts.Reset(r.Context(), projectID); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, ts.Get(projectID))
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleBeliefs lists or creates belief anchors.
func (s *Server) handleBeliefs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, s.engine.Monitor().Anchors())
	case http.MethodPost:
		var anchor types.BeliefAnchor
		if err := s.parseJSON(r, &anchor); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid belief anchor")
			return
		}
		if anchor.ID == "" || anchor.Content == "" {
			s.respondError(w, http.StatusBadRequest, "id and content are required")
			return
		}
		s.engine.Monitor().SetAnchor(anchor)
		s.respondJSON(w, http.StatusCreated, anchor)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleBelief deletes an anchor by id.
func (s *Server) handleBelief(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	segments := extractPath(r.URL.Path, "/api/v1/beliefs")
	if len(segments) == 0 {
		s.respondError(w, http.StatusNotFound, "Belief id required")
		return
	}
	s.engine.Monitor().RemoveAnchor(segments[0])
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleViolations returns the drift violation log.
func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.engine.Monitor().Violations())
}

// handleReroutes lists reroute records or performs a manual reroute.
func (s *Server) handleReroutes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, s.engine.Rerouter().Records())
	case http.MethodPost:
		var body struct {
			LoopID    string `json:"loop_id"`
			FromAgent string `json:"from_agent"`
			ToAgent   string `json:"to_agent"`
			Reason    string `json:"reason"`
		}
		if err := s.parseJSON(r, &body); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if body.LoopID == "" || body.FromAgent == "" {
			s.respondError(w, http.StatusBadRequest, "loop_id and from_agent are required")
			return
		}
		if err := s.engine.Rerouter().ManualReroute(r.Context(), body.LoopID, body.FromAgent, body.ToAgent, body.Reason); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleLogin issues a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := s.parseJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := s.auth.Login(body.Username, body.Password)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}
