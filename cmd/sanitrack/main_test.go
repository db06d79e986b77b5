package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lox/sanitrack/internal/config"
	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/logging"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/proximity"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "sanitrack.db")
	return &App{Config: cfg, Logger: logging.Discard(), Grades: grading.Default()}
}

func TestSeedIsIdempotent(t *testing.T) {
	app := testApp(t)

	for i := 0; i < 2; i++ {
		if err := (&SeedCmd{}).Run(app); err != nil {
			t.Fatalf("seed run %d: %v", i+1, err)
		}
	}

	st, err := app.OpenStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	facilities, err := st.ListFacilities()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(facilities) != len(demoFacilities) {
		t.Fatalf("got %d facilities, want %d", len(facilities), len(demoFacilities))
	}

	wantGrades := []grading.Grade{grading.GradeA, grading.GradeC, grading.GradeB, grading.GradeF, grading.GradeD}
	for i, f := range facilities {
		if f.CleanlinessGrade != wantGrades[i] {
			t.Errorf("%s: grade %s, want %s", f.Name, f.CleanlinessGrade, wantGrades[i])
		}
	}
}

func TestGrantRole(t *testing.T) {
	app := testApp(t)

	if err := (&GrantRoleCmd{User: "u-1", Role: "admin", Name: "Asha"}).Run(app); err != nil {
		t.Fatalf("grant: %v", err)
	}

	st, err := app.OpenStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ok, err := st.HasRole("u-1", models.RoleAdmin)
	st.Close()
	if err != nil || !ok {
		t.Fatalf("HasRole after grant = %v, %v", ok, err)
	}

	if err := (&GrantRoleCmd{User: "u-1", Role: "admin", Revoke: true}).Run(app); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	st, err = app.OpenStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	if ok, _ := st.HasRole("u-1", models.RoleAdmin); ok {
		t.Error("role still held after revoke")
	}
}

func TestSyncRegistryFromFile(t *testing.T) {
	app := testApp(t)
	path := filepath.Join(t.TempDir(), "registry.csv")
	csv := "id,name,address,lat,lng,operational,water\n" +
		"NMC-1,Gandhibagh Toilet,Gandhibagh,21.1530,79.1000,yes,yes\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := (&SyncRegistryCmd{File: path}).Run(app); err != nil {
		t.Fatalf("sync: %v", err)
	}

	st, err := app.OpenStore()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	f, err := st.GetFacilityBySourceRef("NMC-1")
	if err != nil {
		t.Fatalf("imported facility: %v", err)
	}
	if f.CleanlinessScore != 100 {
		t.Errorf("score = %v, want 100", f.CleanlinessScore)
	}
}

func TestSyncRegistryRequiresSource(t *testing.T) {
	app := testApp(t)
	if err := (&SyncRegistryCmd{}).Run(app); err == nil {
		t.Fatal("expected error without host or file")
	}
}

func TestRenderReport(t *testing.T) {
	table := grading.Default()
	facilities := []models.Facility{
		{ID: 1, Name: "Zero Mile Public Toilet", CleanlinessScore: 92, CleanlinessGrade: grading.GradeA, IsOperational: true, WaterAvailable: true},
		{ID: 4, Name: "Vidhan Bhavan Toilet", CleanlinessScore: 22, CleanlinessGrade: grading.GradeF},
	}
	counts := map[grading.Grade]int{grading.GradeA: 1, grading.GradeF: 1}

	var buf bytes.Buffer
	renderReport(&buf, table, facilities, counts, 57)
	out := buf.String()

	for _, want := range []string{"2 facilities, average score 57.0", "Zero Mile Public Toilet", "closed", "92.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderNearby(t *testing.T) {
	table := grading.Default()

	var buf bytes.Buffer
	renderNearby(&buf, table, nil)
	if !strings.Contains(buf.String(), "no facilities found") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	renderNearby(&buf, table, []proximity.Alternative{
		{Facility: models.Facility{ID: 5, Name: "RBI Square Toilet", CleanlinessGrade: grading.GradeD}, DistanceKM: 0.3},
		{Facility: models.Facility{ID: 2, Name: "Sitabuldi Market Toilet", CleanlinessGrade: grading.GradeC}, DistanceKM: 0.55},
	})
	out := buf.String()
	if strings.Index(out, "RBI Square") > strings.Index(out, "Sitabuldi") {
		t.Errorf("results out of order:\n%s", out)
	}
	if !strings.Contains(out, "0.30km") {
		t.Errorf("distance missing:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("a very long facility name", 10); got != "a very ..." {
		t.Errorf("truncate long = %q", got)
	}
}
