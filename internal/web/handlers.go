package web

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sitemirror/sitemirror/internal/compare"
	"github.com/sitemirror/sitemirror/internal/fault"
	"github.com/sitemirror/sitemirror/internal/version"
)

// --- pipeline ---

type startPipelineRequest struct {
	WebsiteID string `json:"website_id"`
	SourceURL string `json:"source_url"`
}

// handleStartPipeline creates a job and runs it in the background up to the
// approval gate. The response carries the job record; progress is observable
// on the events stream and the status endpoint.
func (s *Server) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	var req startPipelineRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WebsiteID == "" {
		writeError(w, fault.Validationf("website_id is required"))
		return
	}
	if req.SourceURL == "" {
		writeError(w, fault.Validationf("source_url is required"))
		return
	}

	job, err := s.orch.CreateJob(req.WebsiteID, req.SourceURL)
	if err != nil {
		writeError(w, err)
		return
	}

	go func() {
		if _, err := s.orch.Start(context.Background(), job.ID, nil); err != nil {
			s.log.Error().Str("job", job.ID).Err(err).Msg("pipeline start")
		}
	}()

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.orch.StatusAll()
	if err != nil {
		writeError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Status == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCheckpointInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.orch.GetCheckpointInfo(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleResume approves the paused job and drives it to completion. Runs
// synchronously; the remaining phases are local file and database work.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Resume(r.Context(), chi.URLParam(r, "jobID"), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	events, err := s.db.ListPipelineEvents(chi.URLParam(r, "jobID"), 200)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// --- versions ---

type createVersionRequest struct {
	SourceDir     string   `json:"source_dir"`
	VersionNumber string   `json:"version_number,omitempty"`
	TokensJSON    string   `json:"tokens_json,omitempty"`
	Changelog     string   `json:"changelog,omitempty"`
	AccuracyScore *float64 `json:"accuracy_score,omitempty"`
	SetActive     *bool    `json:"set_active,omitempty"`
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.versions.CreateNewVersion(version.CreateOpts{
		WebsiteID:     chi.URLParam(r, "websiteID"),
		VersionNumber: req.VersionNumber,
		SourceDir:     req.SourceDir,
		TokensJSON:    req.TokensJSON,
		Changelog:     req.Changelog,
		AccuracyScore: req.AccuracyScore,
		SetActive:     req.SetActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.versions.ListVersions(chi.URLParam(r, "websiteID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "versionID")
	ver, err := s.versions.GetVersion(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ver == nil {
		writeError(w, fault.NotFoundf("version %s", id))
		return
	}
	writeJSON(w, http.StatusOK, ver)
}

func (s *Server) handleVersionFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.versions.GetFilesForVersion(chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleActivateVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "versionID")
	ver, err := s.versions.GetVersion(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ver == nil {
		writeError(w, fault.NotFoundf("version %s", id))
		return
	}
	activated, err := s.versions.ActivateVersion(id, ver.WebsiteID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activated)
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	// Versions are immutable history; deletion is always refused.
	writeError(w, s.versions.DeleteVersion(chi.URLParam(r, "versionID")))
}

func (s *Server) handleRollbackCheck(w http.ResponseWriter, r *http.Request) {
	check, err := s.versions.CanRollback(chi.URLParam(r, "websiteID"), chi.URLParam(r, "targetID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

type rollbackRequest struct {
	TargetVersionID string `json:"target_version_id"`
	Changelog       string `json:"changelog,omitempty"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.versions.RollbackToVersion(version.RollbackOpts{
		WebsiteID:       chi.URLParam(r, "websiteID"),
		TargetVersionID: req.TargetVersionID,
		Changelog:       req.Changelog,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- comparison ---

type runComparisonRequest struct {
	GeneratedSiteURL string `json:"generated_site_url,omitempty"`
	AutoStartServer  bool   `json:"auto_start_server,omitempty"`
	ServeDir         string `json:"serve_dir,omitempty"`
	Force            bool   `json:"force,omitempty"`
}

type comparisonResponse struct {
	Report *compare.Report `json:"report"`
	Cached bool            `json:"cached"`
}

// handleRunComparison runs a comparison, serving a cached report when one is
// fresh within the configured TTL and force is not set.
func (s *Server) handleRunComparison(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")

	var req runComparisonRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if !req.Force {
		cached, err := compare.LoadReport(websiteID, s.cfg.WebsitesDir)
		if err != nil {
			writeError(w, err)
			return
		}
		if cached != nil && cached.FreshWithin(s.cfg.CacheTTL()) {
			writeJSON(w, http.StatusOK, comparisonResponse{Report: cached, Cached: true})
			return
		}
	}

	serveDir := req.ServeDir
	if serveDir == "" {
		if active, err := s.versions.GetActiveVersion(websiteID); err == nil && active != nil {
			serveDir = active.StoragePath
		}
	}

	report, err := s.engine.RunComparison(r.Context(), compare.RunOpts{
		WebsiteID:        websiteID,
		WebsitesDir:      s.cfg.WebsitesDir,
		GeneratedSiteURL: req.GeneratedSiteURL,
		AutoStartServer:  req.AutoStartServer || req.GeneratedSiteURL == "",
		ServeDir:         serveDir,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comparisonResponse{Report: report, Cached: false})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.GetExistingReport(chi.URLParam(r, "websiteID"), s.cfg.WebsitesDir)
	if err != nil {
		writeError(w, err)
		return
	}
	if report == nil {
		writeError(w, fault.NotFoundf("no comparison report for website %s", chi.URLParam(r, "websiteID")))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- static serving ---

// handleServeActiveSite serves files out of the active version's storage
// tree. No active version means nothing to serve.
func (s *Server) handleServeActiveSite(w http.ResponseWriter, r *http.Request) {
	websiteID := chi.URLParam(r, "websiteID")
	active, err := s.versions.GetActiveVersion(websiteID)
	if err != nil {
		writeError(w, err)
		return
	}
	if active == nil {
		writeError(w, fault.NotFoundf("no active version for website %s", websiteID))
		return
	}

	rel := chi.URLParam(r, "*")
	if rel == "" {
		rel = "index.html"
	}
	rel = filepath.Clean(filepath.FromSlash(rel))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		writeError(w, fault.Validationf("invalid path"))
		return
	}

	full := filepath.Join(active.StoragePath, rel)
	if fi, err := os.Stat(full); err != nil || fi.IsDir() {
		writeError(w, fault.NotFoundf("file %s not found in active version", rel))
		return
	}
	http.ServeFile(w, r, full)
}
