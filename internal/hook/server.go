package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/bconfig"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/capture"
	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
)

// Server is the loopback HTTP listener for the bridge's five endpoints,
// grounded on the teacher's http.ServeMux registration style.
type Server struct {
	Pipeline *Pipeline
	Store    model.StateStore
	Clients  capture.ClientResolver
	Config   *bconfig.Config

	httpServer *http.Server
}

// NewServer creates a Server bound to cfg.Hook.Host:Port.
func NewServer(pipeline *Pipeline, store model.StateStore, clients capture.ClientResolver, cfg *bconfig.Config) *Server {
	return &Server{Pipeline: pipeline, Store: store, Clients: clients, Config: cfg}
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /runtime-status", s.handleRuntimeStatus)
	mux.HandleFunc("POST /reload", s.handleReload)
	mux.HandleFunc("POST /send-files", s.handleSendFiles)
	mux.HandleFunc("POST /agent-event", s.handleEvent)
	mux.HandleFunc("POST /opencode-event", s.handleEvent)
	return mux
}

// Start binds the listener and serves until the returned server's Shutdown
// is called from Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Hook.Host, s.Config.Hook.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.buildMux()}
	slog.Info("hook: listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the listener within Config's shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.Config.ShutdownTimeoutDuration())
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event body"})
		return
	}
	result := s.Pipeline.Ingest(r.Context(), ev)
	if !result.Accepted {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": result.Reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "reason": result.Reason})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

type sendFilesRequest struct {
	ProjectName string   `json:"projectName"`
	AgentType   string   `json:"agentType"`
	InstanceID  string   `json:"instanceId"`
	Files       []string `json:"files"`
}

func (s *Server) handleSendFiles(w http.ResponseWriter, r *http.Request) {
	var req sendFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	proj, err := s.Store.Project(r.Context(), req.ProjectName)
	if err != nil || proj == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown project"})
		return
	}

	root, err := filepath.Abs(proj.Path)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "bad project path"})
		return
	}

	var resolved []string
	for _, f := range req.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file outside project path: " + f})
			return
		}
		resolved = append(resolved, abs)
	}
	if len(resolved) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no valid files"})
		return
	}

	var inst *model.Instance
	if req.InstanceID != "" {
		inst = proj.FindInstance(req.InstanceID)
	} else if req.AgentType != "" {
		inst = proj.PrimaryForAgent(model.AgentType(req.AgentType))
	}
	if inst == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown instance"})
		return
	}

	client, ok := s.Clients.ClientFor(proj.Name)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "no messaging client for project"})
		return
	}
	if err := client.SendAttachment(r.Context(), inst.DefaultChannelID, resolved, ""); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type runtimeStatusResponse struct {
	GeneratedAt time.Time                `json:"generatedAt"`
	Projects    []runtimeStatusProject   `json:"projects"`
}

type runtimeStatusProject struct {
	Name      string                  `json:"name"`
	Instances []runtimeStatusInstance `json:"instances"`
}

type runtimeStatusInstance struct {
	ID           string `json:"id"`
	AgentType    string `json:"agentType"`
	PendingDepth int    `json:"pendingDepth"`
	OldestStage  string `json:"oldestStage"`
	LatestStage  string `json:"latestStage"`
}

func (s *Server) handleRuntimeStatus(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Store.Projects(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := runtimeStatusResponse{GeneratedAt: time.Now()}
	for _, proj := range projects {
		rp := runtimeStatusProject{Name: proj.Name}
		for _, inst := range proj.Instances {
			snap := s.Pipeline.Tracker.GetRuntimeSnapshot(proj.Name, string(inst.AgentType), inst.ID)
			rp.Instances = append(rp.Instances, runtimeStatusInstance{
				ID:           inst.ID,
				AgentType:    string(inst.AgentType),
				PendingDepth: snap.PendingDepth,
				OldestStage:  string(snap.OldestStage),
				LatestStage:  string(snap.LatestStage),
			})
		}
		resp.Projects = append(resp.Projects, rp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
