package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/focusedad/internal/pipeline"
	"github.com/andresmejia3/focusedad/internal/types"
)

func TestVectorText(t *testing.T) {
	vec := []float64{0.5, -1.25, 3}
	s := vecToString(vec)
	if s != "[0.5,-1.25,3]" {
		t.Errorf("vecToString() = %q", s)
	}

	back, err := parseVector(s)
	if err != nil {
		t.Fatal(err)
	}
	for i := range vec {
		if back[i] != vec[i] {
			t.Errorf("element %d: got %v, want %v", i, back[i], vec[i])
		}
	}

	if _, err := parseVector("[1,x]"); err == nil {
		t.Error("expected error for non-numeric element")
	}
	if v, err := parseVector("[]"); err != nil || len(v) != 0 {
		t.Errorf("empty vector: got %v, %v", v, err)
	}
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	// Start Postgres Container with pgvector
	// We use the official pgvector image to ensure the extension is available.
	pgContainer, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("focusedad_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	// Get Connection String
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Gallery embedding cache ---

	vecA := make([]float64, 512)
	vecA[0] = 1.0
	if _, ok, err := s.GalleryEmbedding(ctx, "hash-a"); err != nil || ok {
		t.Fatalf("Expected cache miss, got ok=%v err=%v", ok, err)
	}
	if err := s.SaveGalleryEmbedding(ctx, "hash-a", "alice", vecA); err != nil {
		t.Fatalf("SaveGalleryEmbedding failed: %v", err)
	}
	// Saving twice is fine
	if err := s.SaveGalleryEmbedding(ctx, "hash-a", "alice", vecA); err != nil {
		t.Fatalf("SaveGalleryEmbedding (again) failed: %v", err)
	}
	got, ok, err := s.GalleryEmbedding(ctx, "hash-a")
	if err != nil || !ok {
		t.Fatalf("Expected cache hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 512 || got[0] != 1.0 || got[1] != 0 {
		t.Errorf("Embedding corrupted: len=%d first=%v", len(got), got[:2])
	}

	// Any embedding size is accepted
	vecB := []float64{0.25, -0.5, 1}
	if err := s.SaveGalleryEmbedding(ctx, "hash-b", "bob", vecB); err != nil {
		t.Fatalf("SaveGalleryEmbedding (3-d) failed: %v", err)
	}
	if got, ok, err := s.GalleryEmbedding(ctx, "hash-b"); err != nil || !ok || len(got) != 3 || got[1] != -0.5 {
		t.Errorf("3-d embedding round trip: got %v ok=%v err=%v", got, ok, err)
	}

	// --- Outcomes ---

	runID := uuid.NewString()
	if err := s.CreateRun(ctx, runID, RunConfig{SampleFrames: 32, DetectionThreshold: 0.7, MatchThreshold: 1.3}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	videoPath := filepath.Join(t.TempDir(), "s1.mp4")
	if err := os.WriteFile(videoPath, []byte("mp4"), 0644); err != nil {
		t.Fatal(err)
	}
	ok1 := pipeline.Outcome{
		Scene:        pipeline.Scene{ID: "s1", VideoPath: videoPath, TextPrior: "two friends"},
		State:        pipeline.StateDescribed,
		Resolution:   &types.Resolution{Height: 480, Width: 640},
		Matches:      []types.IdentityMatch{{Name: "alice", Box: types.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, Confidence: 0.9, Distance: 0.4}},
		Prompt:       types.PromptSpec{Text: "The character name of [<region>] is alice. Describe what alice is doing.", Regions: types.Regions{{Name: "alice", Box: types.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}}}},
		FrameIndices: []int{0, 4, 8},
		Description:  "Alice pours coffee.",
		Duration:     1500 * time.Millisecond,
	}
	if err := s.RecordOutcome(ctx, runID, ok1); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	failed := pipeline.Outcome{
		Scene: pipeline.Scene{ID: "gone", VideoPath: "/nonexistent/gone.mp4"},
		Err:   &pipeline.StageError{Stage: pipeline.StageLoad, VideoID: "gone", Err: types.ErrResourceUnavailable},
	}
	if err := s.RecordOutcome(ctx, runID, failed); err != nil {
		t.Fatalf("RecordOutcome (failed video) failed: %v", err)
	}

	rows, err := s.ListDescriptions(ctx, 10)
	if err != nil {
		t.Fatalf("ListDescriptions failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	// Newest first
	if rows[0].SceneID != "gone" || rows[0].Status != "failed" || rows[0].Stage != pipeline.StageLoad {
		t.Errorf("Unexpected failed row: %+v", rows[0])
	}
	if rows[1].Description != "Alice pours coffee." || rows[1].RunID != runID || rows[1].Duration != 1500*time.Millisecond {
		t.Errorf("Unexpected described row: %+v", rows[1])
	}

	// --- Reset ---

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListDescriptions(ctx, 10); err == nil {
		t.Error("Expected error listing after tables were dropped")
	}
}
