package writer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lamim/modeleur/pkg/models"
)

const (
	sessionPrefix   = "session_"
	sessionLayout   = "2006-01-02T15-04-05"
	runSummaryFile  = "run.json"
	sessionLogFile  = "session.log"
	stageFilePrefix = "stage_"
)

// SessionManager manages one session directory and the files written into it
type SessionManager struct {
	outputDir  string
	sessionDir string
	logger     *slog.Logger
}

// NewSessionManager creates a timestamped session directory under outputDir
func NewSessionManager(outputDir string, logger *slog.Logger) (*SessionManager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format(sessionLayout)
	sessionDir := filepath.Join(outputDir, sessionPrefix+timestamp)

	// Two runs in the same second get a numeric suffix
	for i := 1; ; i++ {
		err := os.Mkdir(sessionDir, 0755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		sessionDir = filepath.Join(outputDir, fmt.Sprintf("%s%s-%d", sessionPrefix, timestamp, i))
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Created new session directory", "path", sessionDir)

	return &SessionManager{
		outputDir:  outputDir,
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// SetLogger replaces the logger once the session log is open
func (sm *SessionManager) SetLogger(logger *slog.Logger) {
	sm.logger = logger
}

// GetSessionDir returns the session directory path
func (sm *SessionManager) GetSessionDir() string {
	return sm.sessionDir
}

// GetLogPath returns the full path to the session log file
func (sm *SessionManager) GetLogPath() string {
	return filepath.Join(sm.sessionDir, sessionLogFile)
}

// GetStageImagePath returns where a stage's PNG is written
func (sm *SessionManager) GetStageImagePath(id models.StageID) string {
	return filepath.Join(sm.sessionDir, fmt.Sprintf("%s%d.png", stageFilePrefix, int(id)))
}

// GetRunSummaryPath returns the full path to run.json
func (sm *SessionManager) GetRunSummaryPath() string {
	return filepath.Join(sm.sessionDir, runSummaryFile)
}

// BackupConfig copies the config file to the session directory
func (sm *SessionManager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := filepath.Join(sm.sessionDir, filepath.Base(configPath)+".bak")
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	sm.logger.Info("Backed up config file", "path", backupPath)
	return nil
}

// WriteStageImage writes a stage's image bytes as stage_N.png
func (sm *SessionManager) WriteStageImage(id models.StageID, data []byte) (string, error) {
	if !id.Valid() {
		return "", fmt.Errorf("unknown stage %d", id)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("stage %d has no image data", id)
	}

	path := sm.GetStageImagePath(id)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write stage %d image: %w", id, err)
	}

	sm.logger.Debug("Wrote stage image", "stage", int(id), "path", path, "bytes", len(data))
	return path, nil
}

// WriteRunSummary writes v as indented JSON into run.json
func (sm *SessionManager) WriteRunSummary(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	if err := os.WriteFile(sm.GetRunSummaryPath(), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}

// SessionInfo describes a past session directory
type SessionInfo struct {
	Name       string
	Path       string
	Images     []models.StageID
	HasSummary bool
}

// ListSessions returns the session directories under outputDir, newest first
func ListSessions(outputDir string) ([]SessionInfo, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var sessions []SessionInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), sessionPrefix) {
			continue
		}
		if err := ValidateSessionPath(outputDir, entry.Name()); err != nil {
			continue
		}

		info := SessionInfo{
			Name: entry.Name(),
			Path: filepath.Join(outputDir, entry.Name()),
		}
		for _, id := range models.AllStages {
			name := fmt.Sprintf("%s%d.png", stageFilePrefix, int(id))
			if _, err := os.Stat(filepath.Join(info.Path, name)); err == nil {
				info.Images = append(info.Images, id)
			}
		}
		if _, err := os.Stat(filepath.Join(info.Path, runSummaryFile)); err == nil {
			info.HasSummary = true
		}
		sessions = append(sessions, info)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Name > sessions[j].Name
	})
	return sessions, nil
}

// ReadRunSummary decodes a session's run.json into v
func ReadRunSummary(outputDir, sessionName string, v any) error {
	if err := ValidateSessionPath(outputDir, sessionName); err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(outputDir, sessionName, runSummaryFile))
	if err != nil {
		return fmt.Errorf("failed to read run summary: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse run summary: %w", err)
	}
	return nil
}
