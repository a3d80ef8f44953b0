package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/glint/internal/geometry"
	"github.com/andresmejia3/glint/internal/store"
)

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil)
	if !strings.Contains(buf.String(), "No runs") {
		t.Errorf("Expected empty message, got %q", buf.String())
	}

	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	buf.Reset()
	printRuns(&buf, []store.Run{
		{ID: 2, ManifestPath: "/input/input.csv", StartedAt: done, Total: 10},
		{ID: 1, Name: "baseline", ManifestPath: "/input/input.csv", StartedAt: done, FinishedAt: &done, Total: 3, Processed: 2, Failed: 1},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected header, rule and 2 rows, got:\n%s", buf.String())
	}
	if !strings.Contains(lines[2], "running") {
		t.Errorf("Unfinished run should show as running: %q", lines[2])
	}
	if !strings.Contains(lines[3], "baseline") || !strings.Contains(lines[3], "/input/input.csv") {
		t.Errorf("Unexpected row: %q", lines[3])
	}
}

func TestPrintAnnotations(t *testing.T) {
	var buf bytes.Buffer
	printAnnotations(&buf, 4, nil)
	if !strings.Contains(buf.String(), "No annotations recorded for run 4") {
		t.Errorf("Expected empty message, got %q", buf.String())
	}

	buf.Reset()
	printAnnotations(&buf, 4, []store.Annotation{
		{Seq: 1, FileName: "a.jpg", MaskFileName: "image_0001_mask.png", FaceFound: true,
			Glints: []geometry.ImagePoint{{X: 82, Y: 98}, {X: 150, Y: 99}}},
		{Seq: 3, FileName: "c.jpg", MaskFileName: "image_0003_mask.png"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected header, rule and 2 rows, got:\n%s", buf.String())
	}
	for _, want := range []string{"a.jpg", "image_0001_mask.png", "yes", "(82,98) (150,99)"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("Expected %q in %q", want, lines[2])
		}
	}
	if !strings.Contains(lines[3], "no") || !strings.HasSuffix(strings.TrimSpace(lines[3]), "-") {
		t.Errorf("Unexpected row for image without a face: %q", lines[3])
	}
}

func TestResolveDBURL(t *testing.T) {
	old := dbURL
	defer func() { dbURL = old }()

	dbURL = ""
	t.Setenv("POSTGRES_HOST", "")
	if got := resolveDBURL(false); got != "" {
		t.Errorf("Expected no database, got %q", got)
	}
	if got := resolveDBURL(true); got != "postgres://localhost:5432/glint" {
		t.Errorf("Unexpected default: %q", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "glint")
	t.Setenv("POSTGRES_PORT", "")
	if got := resolveDBURL(false); got != "postgres://u:p@db:5432/glint" {
		t.Errorf("Unexpected env URL: %q", got)
	}

	dbURL = "postgres://flag/x"
	if got := resolveDBURL(false); got != dbURL {
		t.Errorf("Flag must win, got %q", got)
	}
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, sub := range rootCmd.Commands() {
		names[sub.Name()] = true
	}
	for _, expected := range []string{"annotate", "detect", "list", "label", "reset"} {
		if !names[expected] {
			t.Errorf("expected subcommand %q to be registered", expected)
		}
	}
}
