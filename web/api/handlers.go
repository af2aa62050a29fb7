package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/streak-keeper/internal/backfill"
	"github.com/hochfrequenz/streak-keeper/internal/commitstore"
	"github.com/hochfrequenz/streak-keeper/internal/domain"
	"github.com/hochfrequenz/streak-keeper/internal/planner"
)

// CommitResponse is the API response for a commit record
type CommitResponse struct {
	ID            string  `json:"id"`
	BatchID       string  `json:"batch_id,omitempty"`
	Repository    string  `json:"repository"`
	RepositoryURL string  `json:"repository_url"`
	FilePath      string  `json:"file_path"`
	CommitMessage string  `json:"commit_message"`
	ScheduledAt   string  `json:"scheduled_at"`
	TimeAgo       string  `json:"time_ago"`
	Status        string  `json:"status"`
	ErrorMessage  string  `json:"error_message,omitempty"`
	FailureKind   string  `json:"failure_kind,omitempty"`
	AuthExpired   bool    `json:"auth_expired"`
	HashID        string  `json:"hash_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
	ProcessedAt   *string `json:"processed_at,omitempty"`
}

// StatusResponse is the API response for the overall status
type StatusResponse struct {
	Pending      int              `json:"pending"`
	Completed    int              `json:"completed"`
	Failed       int              `json:"failed"`
	Dispatcher   *DispatcherStats `json:"dispatcher,omitempty"`
	RecentFailed []CommitResponse `json:"recent_failed"`
}

// DispatcherStats mirrors the in-process dispatcher state
type DispatcherStats struct {
	Queued    int     `json:"queued"`
	InFlight  int     `json:"in_flight"`
	Available int     `json:"available"`
	Capacity  int     `json:"capacity"`
	NextDue   *string `json:"next_due,omitempty"`
}

// ScheduleRequest is the body of POST /api/schedule. Dates use YYYY-MM-DD.
type ScheduleRequest struct {
	Repository       string   `json:"repository"`
	RepositoryURL    string   `json:"repository_url,omitempty"`
	Dates            []string `json:"dates,omitempty"`
	From             string   `json:"from,omitempty"`
	To               string   `json:"to,omitempty"`
	Frequency        string   `json:"frequency,omitempty"`
	CustomDays       []string `json:"custom_days,omitempty"`
	WindowStart      string   `json:"window_start,omitempty"`
	WindowEnd        string   `json:"window_end,omitempty"`
	Times            []string `json:"times,omitempty"`
	MessageTemplates []string `json:"message_templates,omitempty"`
	Files            []string `json:"files,omitempty"`
}

// ScheduleResponse is the API response for a created batch
type ScheduleResponse struct {
	BatchID string           `json:"batch_id"`
	Commits []CommitResponse `json:"commits"`
}

func commitToResponse(c *domain.CommitRecord) CommitResponse {
	if c == nil {
		return CommitResponse{}
	}
	resp := CommitResponse{
		ID:            c.ID,
		BatchID:       c.BatchID,
		Repository:    c.Repository,
		RepositoryURL: c.RepositoryURL,
		FilePath:      c.FilePath,
		CommitMessage: c.CommitMessage,
		ScheduledAt:   c.ScheduledAt.Format(time.RFC3339),
		TimeAgo:       humanize.Time(c.ScheduledAt),
		Status:        string(c.Status),
		ErrorMessage:  c.ErrorMessage,
		FailureKind:   string(c.FailureKind),
		AuthExpired:   c.FailureKind == domain.FailureAuthExpired,
		HashID:        c.HashID,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
	}
	if c.ProcessedAt != nil {
		s := c.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &s
	}
	return resp
}

func commitsToResponse(recs []*domain.CommitRecord) []CommitResponse {
	out := make([]CommitResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, commitToResponse(r))
	}
	return out
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := s.svc.Summary(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := StatusResponse{
			Pending:      sum.Counts[domain.StatusPending],
			Completed:    sum.Counts[domain.StatusCompleted],
			Failed:       sum.Counts[domain.StatusFailed],
			RecentFailed: commitsToResponse(sum.RecentFailed),
		}
		if st := sum.Dispatcher; st != nil {
			resp.Dispatcher = &DispatcherStats{
				Queued:    st.Queued,
				InFlight:  st.InFlight,
				Available: st.Available,
				Capacity:  st.Capacity,
			}
			if !st.NextDue.IsZero() {
				next := st.NextDue.Format(time.RFC3339)
				resp.Dispatcher.NextDue = &next
			}
		}
		writeJSON(w, resp)
	}
}

func (s *Server) listCommitsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		status := q.Get("status")
		repo := q.Get("repository")
		batch := q.Get("batch")

		var (
			recs []*domain.CommitRecord
			err  error
		)
		if status == "" && repo == "" && batch == "" {
			recs, err = s.svc.ListRecentCommits(r.Context(), limit)
		} else {
			opts := commitstore.ListOptions{Limit: limit, Repository: repo, BatchID: batch}
			if status != "" {
				st, perr := domain.ParseCommitStatus(status)
				if perr != nil {
					writeError(w, http.StatusBadRequest, perr.Error())
					return
				}
				opts.Status = st
			}
			recs, err = s.svc.ListCommits(r.Context(), opts)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, commitsToResponse(recs))
	}
}

func (s *Server) getCommitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.svc.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, commitToResponse(rec))
	}
}

func (s *Server) cancelCommitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.svc.CancelCommit(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "cancelled", "id": id})
	}
}

func (s *Server) retryCommitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.svc.RetryCommit(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, commitToResponse(rec))
	}
}

func (s *Server) runCommitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.svc.RunNow(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "queued", "id": id})
	}
}

func (s *Server) cancelBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.svc.CancelBatch(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]int{"cancelled": n})
	}
}

func (s *Server) scheduleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		req, err := body.toServiceRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := s.svc.Schedule(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(ScheduleResponse{
			BatchID: result.BatchID,
			Commits: commitsToResponse(result.Records),
		})
	}
}

func (s *Server) suggestedFilesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, planner.SuggestedFiles())
	}
}

func (b ScheduleRequest) toServiceRequest() (backfill.ScheduleRequest, error) {
	req := backfill.ScheduleRequest{
		Repository:       b.Repository,
		RepositoryURL:    b.RepositoryURL,
		Frequency:        b.Frequency,
		WindowStart:      b.WindowStart,
		WindowEnd:        b.WindowEnd,
		Times:            b.Times,
		MessageTemplates: b.MessageTemplates,
		Files:            b.Files,
	}

	for _, raw := range b.Dates {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return req, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
		}
		req.Days = append(req.Days, d)
	}
	if b.From != "" || b.To != "" {
		from, err := time.Parse(time.DateOnly, b.From)
		if err != nil {
			return req, fmt.Errorf("invalid from date %q: expected YYYY-MM-DD", b.From)
		}
		to, err := time.Parse(time.DateOnly, b.To)
		if err != nil {
			return req, fmt.Errorf("invalid to date %q: expected YYYY-MM-DD", b.To)
		}
		req.From, req.To = from, to
	}
	for _, raw := range b.CustomDays {
		wd, err := planner.ParseWeekday(raw)
		if err != nil {
			return req, err
		}
		req.CustomDays = append(req.CustomDays, wd)
	}
	return req, nil
}
