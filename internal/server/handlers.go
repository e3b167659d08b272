package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/quiby-ai/review-search/internal/service"
)

type AddReviewRequest struct {
	Text     string `json:"text" validate:"required,min=3,max=5000"`
	Language string `json:"language" validate:"required,lowercase,alpha,min=2,max=8"`
	Stars    int    `json:"stars" validate:"required,min=1,max=5"`
}

type AddReviewResponse struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Stars    int    `json:"stars"`
	Text     string `json:"text"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) errorStatus(err error) int {
	if errors.Is(err, service.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// parseSearchRequest reads q, repeated lang and stars, and limit.
func parseSearchRequest(values url.Values) (service.SearchRequest, error) {
	req := service.SearchRequest{
		Query:     values.Get("q"),
		Languages: values["lang"],
	}

	for _, raw := range values["stars"] {
		stars, err := strconv.Atoi(raw)
		if err != nil {
			return req, fmt.Errorf("%w: invalid stars %q", service.ErrInvalidRequest, raw)
		}
		req.Stars = append(req.Stars, stars)
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return req, fmt.Errorf("%w: invalid limit %q", service.ErrInvalidRequest, raw)
		}
		req.Limit = limit
	}

	return req, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		code := s.errorStatus(err)
		if code == http.StatusInternalServerError {
			s.logger.Error("Search failed", "query", req.Query, "error", err)
		}
		writeError(w, code, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		s.writeCSV(w, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeCSV(w http.ResponseWriter, result service.SearchResult) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="results.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write([]string{"language", "stars", "score", "text", "id"})
	for _, hit := range result.Hits {
		cw.Write([]string{
			hit.Language,
			strconv.Itoa(hit.Stars),
			strconv.FormatFloat(hit.Score, 'f', 3, 64),
			hit.Text,
			hit.ID,
		})
	}
	cw.Flush()

	if err := cw.Error(); err != nil {
		s.logger.Error("Failed to write CSV", "error", err)
	}
}

func (s *Server) handleAddReview(w http.ResponseWriter, r *http.Request) {
	var req AddReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	point, err := s.searcher.AddReview(r.Context(), req.Text, req.Language, req.Stars)
	if err != nil {
		code := s.errorStatus(err)
		if code == http.StatusInternalServerError {
			s.logger.Error("Failed to add review", "language", req.Language, "error", err)
		}
		writeError(w, code, err)
		return
	}

	writeJSON(w, http.StatusCreated, AddReviewResponse{
		ID:       point.ID.String(),
		Language: point.Language,
		Stars:    int(point.Stars),
		Text:     point.Text,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.searcher.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type pageData struct {
	Query     string
	Languages []string
	Selected  map[string]bool
	Limit     int
	MaxLimit  int
	Result    *service.SearchResult
	Error     string
	CSVURL    template.URL
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	data := pageData{
		Languages: s.languages,
		Selected:  make(map[string]bool),
		MaxLimit:  s.cfg.MaxLimit,
	}

	req, err := parseSearchRequest(values)
	data.Query = req.Query
	data.Limit = req.Limit
	if data.Limit <= 0 || data.Limit > data.MaxLimit {
		data.Limit = data.MaxLimit
	}
	for _, lang := range req.Languages {
		data.Selected[lang] = true
	}

	switch {
	case err != nil:
		data.Error = err.Error()
	case req.Query != "":
		result, err := s.searcher.Search(r.Context(), req)
		if err != nil {
			data.Error = err.Error()
			break
		}
		data.Result = &result
		data.Limit = result.Limit
		csvValues := url.Values{}
		for k, v := range values {
			csvValues[k] = v
		}
		csvValues.Set("format", "csv")
		data.CSVURL = template.URL("/api/v1/search?" + csvValues.Encode())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		s.logger.Error("Failed to render page", "error", err)
	}
}
