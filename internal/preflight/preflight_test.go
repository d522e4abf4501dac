package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cubemill/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	result := CheckDiskSpace(t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp filesystem, got: %s", result.Detail)
	}
}

func TestCheckMemoryPlan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	result := CheckMemoryPlan(cfg)
	if !result.Passed {
		t.Fatalf("expected default plan to fit, got: %s", result.Detail)
	}

	tight := testsupport.NewConfig(t, testsupport.WithMemoryCeiling(0.001), testsupport.WithBlockShape(8192, 8192))
	result = CheckMemoryPlan(tight)
	if result.Passed {
		t.Fatalf("expected oversized block to fail: %s", result.Detail)
	}
}

func TestRunAllReportsEveryCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if !AllPassed(results) {
		for _, r := range results {
			t.Logf("%s: passed=%v detail=%s", r.Name, r.Passed, r.Detail)
		}
		t.Fatal("expected all checks to pass")
	}
}
