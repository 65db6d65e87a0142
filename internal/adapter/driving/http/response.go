package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ericfisherdev/tako/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RepositoryResponse is the JSON representation of a managed repository.
// Topics is omitted for records whose topics were never fetched.
type RepositoryResponse struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	FullName string   `json:"full_name"`
	Topics   []string `json:"topics,omitempty"`
}

// RepositoryListResponse wraps the repository list.
type RepositoryListResponse struct {
	Repositories []RepositoryResponse `json:"repositories"`
}

// DeliveryResponse is the JSON representation of a recorded webhook delivery.
type DeliveryResponse struct {
	ID             string `json:"id"`
	Event          string `json:"event"`
	Action         string `json:"action,omitempty"`
	InstallationID int64  `json:"installation_id,omitempty"`
	Outcome        string `json:"outcome"`
	ReceivedAt     string `json:"received_at"`
}

// DeliveryListResponse wraps the delivery list.
type DeliveryListResponse struct {
	Deliveries []DeliveryResponse `json:"deliveries"`
}

// toRepositoryList converts domain repositories to their JSON representation.
// The result always holds a non-nil slice so it encodes as [].
func toRepositoryList(repos []model.Repository) RepositoryListResponse {
	resp := RepositoryListResponse{Repositories: make([]RepositoryResponse, 0, len(repos))}
	for _, repo := range repos {
		var topics []string
		if repo.TopicsKnown {
			topics = repo.Topics
		}
		resp.Repositories = append(resp.Repositories, RepositoryResponse{
			ID:       repo.ID,
			Name:     repo.Name,
			FullName: repo.FullName,
			Topics:   topics,
		})
	}
	return resp
}

// toDeliveryResponse converts a ledger entry to its JSON representation.
func toDeliveryResponse(d model.Delivery) DeliveryResponse {
	return DeliveryResponse{
		ID:             d.ID,
		Event:          d.Event,
		Action:         d.Action,
		InstallationID: d.InstallationID,
		Outcome:        string(d.Outcome),
		ReceivedAt:     d.ReceivedAt.UTC().Format(time.RFC3339),
	}
}

// errorStatus maps a read or purge failure onto an HTTP status and a
// client-safe message.
func errorStatus(err error) (int, string) {
	var (
		fetchErr *model.FetchError
		authErr  *model.AuthError
	)

	switch {
	case errors.As(err, &authErr):
		return http.StatusInternalServerError, "github authentication failed"
	case errors.As(err, &fetchErr):
		return http.StatusInternalServerError, "failed to fetch repositories"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
