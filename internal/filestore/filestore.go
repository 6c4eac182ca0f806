// Package filestore implements model.StateStore as one JSON file per
// project on disk, atomically written with the teacher's temp-file+rename
// idiom (sessions.Manager.Save).
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw-bridge/internal/model"
)

// Store persists projects as <dir>/projects/<name>.json.
type Store struct {
	dir string

	mu       sync.RWMutex
	projects map[string]*model.Project
}

// New creates a Store rooted at dir (created if absent) and loads any
// existing project files.
func New(dir string) (*Store, error) {
	projectsDir := filepath.Join(dir, "projects")
	if err := os.MkdirAll(projectsDir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	s := &Store{dir: projectsDir, projects: make(map[string]*model.Project)}
	s.loadAll()
	return s, nil
}

func (s *Store) loadAll() {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	loaded := make(map[string]*model.Project, len(files))
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, f.Name()))
		if err != nil {
			continue
		}
		var p model.Project
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		loaded[p.Name] = &p
	}

	s.mu.Lock()
	s.projects = loaded
	s.mu.Unlock()
}

// Projects returns a snapshot of all known projects.
func (s *Store) Projects(ctx context.Context) ([]*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

// Project looks up one project by name.
func (s *Store) Project(ctx context.Context, name string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projects[name], nil
}

// RemoveInstance deletes an instance from a project, removing the project
// entirely (and its file) if it becomes empty.
func (s *Store) RemoveInstance(ctx context.Context, project, instance string) error {
	s.mu.Lock()
	p, ok := s.projects[project]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(p.Instances, instance)
	empty := len(p.Instances) == 0
	if empty {
		delete(s.projects, project)
	}
	s.mu.Unlock()

	if empty {
		return s.removeFile(project)
	}
	return s.save(p)
}

// TouchProject updates a project's LastActive timestamp and persists it.
func (s *Store) TouchProject(ctx context.Context, project string) error {
	s.mu.Lock()
	p, ok := s.projects[project]
	if ok {
		p.LastActive = time.Now()
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.save(p)
}

// Reload re-reads all project files from disk, replacing the in-memory
// snapshot. Used by the /reload endpoint.
func (s *Store) Reload(ctx context.Context) error {
	s.loadAll()
	return nil
}

// Save persists a full project definition (used by whatever creates/updates
// projects outside this package, e.g. onboarding).
func (s *Store) Save(project *model.Project) error {
	s.mu.Lock()
	s.projects[project.Name] = project
	s.mu.Unlock()
	return s.save(project)
}

func (s *Store) save(p *model.Project) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	filename := sanitizeFilename(p.Name)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}
	path := filepath.Join(s.dir, filename+".json")

	tmpFile, err := os.CreateTemp(s.dir, "project-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (s *Store) removeFile(name string) error {
	filename := sanitizeFilename(name)
	err := os.Remove(filepath.Join(s.dir, filename+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func sanitizeFilename(name string) string {
	return strings.ReplaceAll(name, string(filepath.Separator), "_")
}

var _ model.StateStore = (*Store)(nil)
