package writer

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lamim/modeleur/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSessionManagerCreatesDirectory(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "output")

	sm, err := NewSessionManager(outputDir, discardLogger())
	if err != nil {
		t.Fatalf("NewSessionManager() error = %v", err)
	}

	info, err := os.Stat(sm.GetSessionDir())
	if err != nil || !info.IsDir() {
		t.Fatalf("session directory not created: %v", err)
	}
	if err := ValidateSessionPath(outputDir, filepath.Base(sm.GetSessionDir())); err != nil {
		t.Errorf("generated session name does not validate: %v", err)
	}
}

func TestNewSessionManagerSameSecond(t *testing.T) {
	outputDir := t.TempDir()

	first, err := NewSessionManager(outputDir, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewSessionManager(outputDir, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if first.GetSessionDir() == second.GetSessionDir() {
		t.Errorf("two sessions share directory %s", first.GetSessionDir())
	}
}

func TestWriteStageImage(t *testing.T) {
	sm, err := NewSessionManager(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	path, err := sm.WriteStageImage(models.StageFinal, []byte("png-bytes"))
	if err != nil {
		t.Fatalf("WriteStageImage() error = %v", err)
	}
	if filepath.Base(path) != "stage_4.png" {
		t.Errorf("path = %s, want stage_4.png", path)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "png-bytes" {
		t.Errorf("file content = %q", got)
	}

	if _, err := sm.WriteStageImage(models.StageRoughMass, nil); err == nil {
		t.Error("expected error for empty image")
	}
	if _, err := sm.WriteStageImage(models.StageID(9), []byte("x")); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestRunSummaryRoundTripAndListing(t *testing.T) {
	outputDir := t.TempDir()
	sm, err := NewSessionManager(outputDir, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	summary := map[string]any{"description": "a horse", "fatal": false}
	if err := sm.WriteRunSummary(summary); err != nil {
		t.Fatalf("WriteRunSummary() error = %v", err)
	}
	if _, err := sm.WriteStageImage(models.StageFinal, []byte("img")); err != nil {
		t.Fatal(err)
	}

	sessions, err := ListSessions(outputDir)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if !s.HasSummary {
		t.Error("summary not detected")
	}
	if len(s.Images) != 1 || s.Images[0] != models.StageFinal {
		t.Errorf("images = %v, want [stage-4]", s.Images)
	}

	var decoded map[string]any
	if err := ReadRunSummary(outputDir, s.Name, &decoded); err != nil {
		t.Fatalf("ReadRunSummary() error = %v", err)
	}
	if decoded["description"] != "a horse" {
		t.Errorf("description = %v", decoded["description"])
	}

	if err := ReadRunSummary(outputDir, "../"+s.Name, &decoded); err == nil {
		t.Error("expected traversal to be rejected")
	}
}

func TestListSessionsMissingDir(t *testing.T) {
	sessions, err := ListSessions(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("got %d sessions, want 0", len(sessions))
	}
}

func TestSetupLoggerWritesBothDestinations(t *testing.T) {
	sm, err := NewSessionManager(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	var console bytes.Buffer
	logger, logFile, err := SetupLogger(sm, &console, slog.LevelInfo)
	if err != nil {
		t.Fatalf("SetupLogger() error = %v", err)
	}
	logger.With("stage", 4).Info("Stage completed")
	logger.Debug("hidden")
	if err := logFile.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(console.String(), "Stage completed") {
		t.Errorf("console output missing record: %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Error("debug record written at info level")
	}

	data, err := os.ReadFile(sm.GetLogPath())
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("session log is not JSON: %v (%q)", err, data)
	}
	if rec["msg"] != "Stage completed" || rec["stage"] != float64(4) {
		t.Errorf("unexpected record: %v", rec)
	}
}
