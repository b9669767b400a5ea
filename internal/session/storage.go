package session

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/kakaiking/anita/internal/logger"
)

// Storage format version for forward compatibility.
const storageVersion = 1

// Record is the persisted form of a session: one JSON object per file.
type Record struct {
	ID              string     `json:"id"`
	Goal            string     `json:"goal"`
	Plan            string     `json:"plan,omitempty"`
	Thoughts        string     `json:"thoughts,omitempty"`
	Tasks           []*Task    `json:"tasks"`
	History         []*Message `json:"history,omitempty"`
	Logs            []string   `json:"logs,omitempty"`
	Status          Status     `json:"status"`
	Error           string     `json:"error,omitempty"`
	PendingQuestion string     `json:"pending_question,omitempty"`
	WorkingDir      string     `json:"working_dir"`
	TokensUsed      int        `json:"tokens_used,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     time.Time  `json:"completed_at,omitempty"`
}

type storedEnvelope struct {
	Version int     `json:"version"`
	Session *Record `json:"session"`
}

// Record snapshots the session for persistence.
func (s *Session) Record() *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*Task, len(s.tasks))
	for i, t := range s.tasks {
		copied := *t
		tasks[i] = &copied
	}
	history := make([]*Message, len(s.history))
	for i, m := range s.history {
		copied := *m
		history[i] = &copied
	}

	return &Record{
		ID:              s.id,
		Goal:            s.goal,
		Plan:            s.plan,
		Thoughts:        s.thoughts,
		Tasks:           tasks,
		History:         history,
		Logs:            append([]string(nil), s.logs...),
		Status:          s.status,
		Error:           s.statusErr,
		PendingQuestion: s.pendingQ,
		WorkingDir:      s.workingDir,
		TokensUsed:      s.tokensUsed,
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.updatedAt,
		CompletedAt:     s.completedAt,
	}
}

// FromRecord rebuilds a live session from its persisted form.
func FromRecord(rec *Record) *Session {
	s := &Session{
		id:          rec.ID,
		goal:        rec.Goal,
		plan:        rec.Plan,
		thoughts:    rec.Thoughts,
		tasks:       rec.Tasks,
		history:     rec.History,
		logs:        rec.Logs,
		status:      rec.Status,
		statusErr:   rec.Error,
		pendingQ:    rec.PendingQuestion,
		workingDir:  rec.WorkingDir,
		tokensUsed:  rec.TokensUsed,
		createdAt:   rec.CreatedAt,
		updatedAt:   rec.UpdatedAt,
		completedAt: rec.CompletedAt,
	}
	if s.status == "" {
		s.status = StatusCreated
	}
	return s
}

// Storage persists sessions under a base directory, one subdirectory per
// workspace.
type Storage struct {
	baseDir string
}

// NewStorage creates a Storage rooted at baseDir. An empty baseDir selects
// the platform default state directory.
func NewStorage(baseDir string) (*Storage, error) {
	if baseDir == "" {
		dir, err := defaultStorageDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session storage directory: %w", err)
	}
	return &Storage{baseDir: baseDir}, nil
}

func defaultStorageDir() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "anita", "sessions"), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, ".local", "state", "anita", "sessions"), nil
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "anita", "sessions"), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, "AppData", "Local", "anita", "sessions"), nil
	default:
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, ".config", "anita", "sessions"), nil
	}
}

// hashWorkspace derives a stable, filesystem-safe directory name from a
// workspace path.
func hashWorkspace(workingDir string) string {
	absPath := workingDir
	if !filepath.IsAbs(workingDir) {
		if abs, err := filepath.Abs(workingDir); err == nil {
			absPath = abs
		}
	}
	absPath = filepath.Clean(absPath)

	hash := sha256.Sum256([]byte(absPath))
	return fmt.Sprintf("%x", hash)[:16]
}

func (st *Storage) workspaceDir(workingDir string) string {
	return filepath.Join(st.baseDir, hashWorkspace(workingDir))
}

func (st *Storage) sessionPath(workingDir, sessionID string) string {
	return filepath.Join(st.workspaceDir(workingDir), sanitizeSessionID(sessionID)+".json")
}

var nonFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizeSessionID produces a filesystem-safe name. The session id is the
// single source of truth for the filename.
func sanitizeSessionID(sessionID string) string {
	id := strings.TrimSpace(sessionID)
	id = strings.ReplaceAll(id, string(os.PathSeparator), "-")
	id = nonFilenameChars.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")
	if id == "" {
		id = fmt.Sprintf("session-%d", time.Now().Unix())
	}
	return id
}

// Save writes the session to its workspace directory.
func (st *Storage) Save(s *Session) error {
	rec := s.Record()

	dir := st.workspaceDir(rec.WorkingDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	data, err := json.MarshalIndent(&storedEnvelope{Version: storageVersion, Session: rec}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", rec.ID, err)
	}

	path := st.sessionPath(rec.WorkingDir, rec.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize session %s: %w", rec.ID, err)
	}

	logger.Debug("storage: saved session %s (%s)", rec.ID, rec.Status)
	return nil
}

// Load reads one session of a workspace.
func (st *Storage) Load(workingDir, sessionID string) (*Session, error) {
	data, err := os.ReadFile(st.sessionPath(workingDir, sessionID))
	if err != nil {
		return nil, err
	}

	var envelope storedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	if envelope.Session == nil {
		return nil, fmt.Errorf("session %s has no payload", sessionID)
	}
	if envelope.Version > storageVersion {
		return nil, fmt.Errorf("session %s uses storage version %d, newer than supported %d", sessionID, envelope.Version, storageVersion)
	}

	return FromRecord(envelope.Session), nil
}

// List returns the persisted records of a workspace, newest first.
func (st *Storage) List(workingDir string) ([]*Record, error) {
	dir := st.workspaceDir(workingDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Warn("storage: cannot read %s: %v", entry.Name(), err)
			continue
		}
		var envelope storedEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Session == nil {
			logger.Warn("storage: skipping corrupt session file %s", entry.Name())
			continue
		}
		records = append(records, envelope.Session)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

// Delete removes a persisted session.
func (st *Storage) Delete(workingDir, sessionID string) error {
	return os.Remove(st.sessionPath(workingDir, sessionID))
}
