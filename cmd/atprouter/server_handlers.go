package main

import (
	"encoding/json"
	"net/http"

	"github.com/atprouter/core/pkg/improvement"
	"github.com/atprouter/core/pkg/pipeline"
)

type admitRequest struct {
	RequestID     string                 `json:"request_id"`
	Tenant        string                 `json:"tenant"`
	User          string                 `json:"user"`
	Endpoint      string                 `json:"endpoint"`
	BearerToken   string                 `json:"bearer_token,omitempty"`
	Nonce         string                 `json:"nonce"`
	ModelFamily   string                 `json:"model_family"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	ClientAddress string                 `json:"client_address,omitempty"`
	EpsilonCost   float64                `json:"epsilon_cost"`
	Sensitivity   float64                `json:"sensitivity"`
}

type admitResponse struct {
	Allowed bool   `json:"allowed"`
	Stage   string `json:"stage"`
	Reason  string `json:"reason,omitempty"`
	Model   string `json:"model,omitempty"`
}

// handleAdmit runs a JSON-encoded admission request through the pipeline
// and reports the resulting Decision.
func handleAdmit(pipe *pipeline.Pipeline, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in admitRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	req := pipeline.Request{
		RequestID:     in.RequestID,
		Tenant:        in.Tenant,
		User:          in.User,
		Endpoint:      in.Endpoint,
		BearerToken:   in.BearerToken,
		Nonce:         in.Nonce,
		ModelFamily:   in.ModelFamily,
		Payload:       in.Payload,
		ClientAddress: in.ClientAddress,
		EpsilonCost:   in.EpsilonCost,
		Sensitivity:   in.Sensitivity,
	}

	decision, err := pipe.Admit(r.Context(), req)
	if err != nil {
		http.Error(w, "admission error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	out := admitResponse{
		Allowed: decision.Allowed,
		Stage:   string(decision.Stage),
		Reason:  decision.Reason,
		Model:   decision.Model.Name,
	}

	w.Header().Set("Content-Type", "application/json")
	if !decision.Allowed {
		w.WriteHeader(http.StatusForbidden)
	}
	_ = json.NewEncoder(w).Encode(out)
}

type improveRequest struct {
	Model string `json:"model"`
}

// handleImprove runs the seven-stage continuous-improvement pipeline
// (quality-check through deployment) against a shadow model named in the
// request body, and reports the resulting Execution.
func handleImprove(pipe *improvement.Pipeline, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in improveRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if in.Model == "" {
		http.Error(w, "bad request: model is required", http.StatusBadRequest)
		return
	}

	exec := pipe.Run(r.Context(), in.Model)

	w.Header().Set("Content-Type", "application/json")
	if exec.Status == improvement.StepFailed {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_ = json.NewEncoder(w).Encode(exec)
}
