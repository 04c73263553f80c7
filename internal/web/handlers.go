package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"dance-studio/internal/analysis"
	"dance-studio/internal/kie"
	"dance-studio/internal/model"
	"dance-studio/internal/studio"
)

const maxFormBytes = studio.MaxUploadBytes + 1<<20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "busy": s.studio.Busy()})
}

func (s *Server) handleGetKeys(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.studio.State().APIKeys().Masked())
}

func (s *Server) handlePutKeys(w http.ResponseWriter, r *http.Request) {
	var keys model.APIKeys
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&keys); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	keys = trimKeys(keys)
	if err := s.studio.State().SetAPIKeys(r.Context(), keys); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, keys.Masked())
}

func (s *Server) handleDeleteKeys(w http.ResponseWriter, r *http.Request) {
	if err := s.studio.State().ClearAPIKeys(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createJobJSON struct {
	ImageData string `json:"imageData"`
	Count     int    `json:"count"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req, err := readImageRequest(w, r)
	if err != nil {
		writeStudioError(w, err)
		return
	}
	run, err := s.studio.StartImages(req)
	if err != nil {
		writeStudioError(w, err)
		return
	}
	s.accept(w, "images", run)
}

func readImageRequest(w http.ResponseWriter, r *http.Request) (studio.ImageRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body createJobJSON
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return studio.ImageRequest{}, bodyError(err)
		}
		return studio.ImageRequest{DataURI: body.ImageData, Count: body.Count}, nil
	}

	if err := r.ParseMultipartForm(maxFormBytes); err != nil {
		return studio.ImageRequest{}, bodyError(err)
	}
	var req studio.ImageRequest
	if raw := strings.TrimSpace(r.FormValue("count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, &studio.ValidationError{Err: studio.ErrInvalidCount}
		}
		req.Count = n
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return req, &studio.ValidationError{Err: studio.ErrMissingImage}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return req, bodyError(err)
	}
	req.Image = data
	req.MIMEType = strings.TrimSpace(strings.SplitN(header.Header.Get("Content-Type"), ";", 2)[0])
	return req, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &studio.ValidationError{Err: studio.ErrImageTooLarge}
	}
	return &studio.ValidationError{Err: fmt.Errorf("invalid request body: %w", err)}
}

func (s *Server) handleCurrentJob(w http.ResponseWriter, _ *http.Request) {
	job := s.studio.State().CurrentJob()
	if job == nil {
		writeError(w, http.StatusNotFound, studio.ErrNoCurrentJob.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type selectionRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var body selectionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := s.studio.SelectImages(body.URLs)
	if err != nil {
		writeStudioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type videosRequest struct {
	// Duration is accepted as a string or a number.
	Duration   any    `json:"duration"`
	Resolution string `json:"resolution"`
}

func (v videosRequest) options() kie.VideoOptions {
	opts := kie.VideoOptions{Resolution: v.Resolution}
	switch d := v.Duration.(type) {
	case nil:
	case string:
		opts.Duration = d
	case float64:
		opts.Duration = strconv.FormatFloat(d, 'f', -1, 64)
	default:
		opts.Duration = fmt.Sprint(d)
	}
	return opts
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	var body videosRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	run, err := s.studio.StartVideos(body.options())
	if err != nil {
		writeStudioError(w, err)
		return
	}
	s.accept(w, "videos", run)
}

// accept hands a started run to the background and answers 202. The run's
// job is already current, so GET /api/jobs/current reflects it.
func (s *Server) accept(w http.ResponseWriter, name string, run *studio.Run) {
	jobID := run.Job().ID
	s.background(name, func(ctx context.Context) error {
		_, err := run.Execute(ctx)
		return err
	})
	w.Header().Set("Location", "/api/jobs/current")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "jobId": jobID})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.studio.State().History())
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.studio.State().ClearHistory(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.studio.State().RemoveFromHistory(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type analyzeRequest struct {
	ImageData string `json:"imageData"`
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
}

func (s *Server) handleAnalyzeOptions(w http.ResponseWriter, _ *http.Request) {
	setCORS(w)
	w.WriteHeader(http.StatusOK)
}

// handleAnalyze serves the image analysis function the remote analyzer
// calls: {imageData} in, attribute profile out.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	setCORS(w)

	var body analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes*2)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.ImageData) == "" {
		writeError(w, http.StatusBadRequest, "imageData is required")
		return
	}

	apiKey := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	profile, err := s.analyzer.Analyze(r.Context(), body.ImageData, apiKey)
	if err != nil {
		s.logger.Warn("analyze-image failed", "error", err)
		var ae *analysis.Error
		switch {
		case errors.Is(err, analysis.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
		case errors.Is(err, analysis.ErrQuotaExhausted):
			writeError(w, http.StatusPaymentRequired, "AI credits exhausted. Please add credits to continue.")
		case errors.As(err, &ae) && ae.StatusCode >= 400 && ae.StatusCode < 600:
			writeError(w, ae.StatusCode, ae.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, analysis.WithDefaults(profile))
}

func trimKeys(k model.APIKeys) model.APIKeys {
	k.Kie = strings.TrimSpace(k.Kie)
	k.Analysis = strings.TrimSpace(k.Analysis)
	k.N8NWebhook = strings.TrimSpace(k.N8NWebhook)
	k.GoogleDriveFolderID = strings.TrimSpace(k.GoogleDriveFolderID)
	k.FacebookPageID = strings.TrimSpace(k.FacebookPageID)
	k.FacebookAccessToken = strings.TrimSpace(k.FacebookAccessToken)
	return k
}
