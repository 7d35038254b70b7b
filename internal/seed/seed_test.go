package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/ingest"
	"github.com/Alroma79/data-flywheel-chatbot/internal/testutil"
)

const manifest = `
configs:
  - name: default
    system_prompt: "You are the seeded assistant."
    model: gpt-4o-mini
    temperature: 0.3
files:
  - docs/policy.txt
`

func writeManifest(t *testing.T) (string, *testutil.MockStore, *ingest.Ingestor) {
	t.Helper()
	dir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(dir, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "docs", "policy.txt"), []byte("refunds take five days"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	ms := testutil.NewMockStore()
	in, err := ingest.New(ms, filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	return path, ms, in
}

func TestApply_SeedsConfigAndFiles(t *testing.T) {
	path, ms, in := writeManifest(t)

	if err := Apply(context.Background(), path, ms, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := ms.LatestConfig(context.Background())
	if err != nil || rec == nil {
		t.Fatalf("expected seeded config, got %v, %v", rec, err)
	}
	if rec.Name != "default" {
		t.Errorf("got config name %q", rec.Name)
	}
	if rec.Settings.SystemPrompt == nil || *rec.Settings.SystemPrompt != "You are the seeded assistant." {
		t.Errorf("unexpected prompt: %+v", rec.Settings)
	}
	if rec.Settings.Temperature == nil || *rec.Settings.Temperature != 0.3 {
		t.Errorf("unexpected temperature: %+v", rec.Settings)
	}

	if len(ms.Files) != 1 || ms.Files[0].Filename != "policy.txt" {
		t.Errorf("expected seeded file, got %+v", ms.Files)
	}
}

func TestApply_IsIdempotent(t *testing.T) {
	path, ms, in := writeManifest(t)
	ctx := context.Background()

	if err := Apply(ctx, path, ms, in); err != nil {
		t.Fatal(err)
	}
	if err := Apply(ctx, path, ms, in); err != nil {
		t.Fatal(err)
	}

	if len(ms.Configs) != 1 {
		t.Errorf("configs re-seeded: %d records", len(ms.Configs))
	}
	if len(ms.Files) != 1 {
		t.Errorf("files re-ingested: %d records", len(ms.Files))
	}
}

func TestApply_DoesNotOverrideExistingConfig(t *testing.T) {
	path, ms, in := writeManifest(t)
	ctx := context.Background()

	prompt := "operator tuned prompt"
	if _, err := ms.SaveConfig(ctx, "tuned", chat.ConfigSettings{SystemPrompt: &prompt}); err != nil {
		t.Fatal(err)
	}

	if err := Apply(ctx, path, ms, in); err != nil {
		t.Fatal(err)
	}

	rec, _ := ms.LatestConfig(ctx)
	if rec.Name != "tuned" {
		t.Errorf("seed replaced operator config: %+v", rec)
	}
}

func TestApply_SkipsMissingFiles(t *testing.T) {
	path, ms, in := writeManifest(t)

	// Point the manifest at a file that does not exist.
	bad := `
files:
  - docs/missing.txt
`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Apply(context.Background(), path, ms, in); err != nil {
		t.Fatalf("missing files must not fail the seed: %v", err)
	}
	if len(ms.Files) != 0 {
		t.Errorf("unexpected files: %+v", ms.Files)
	}
}

func TestLoad_RejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("configs: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
