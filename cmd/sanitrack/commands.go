package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/proximity"
	"github.com/lox/sanitrack/internal/registry"
	"github.com/lox/sanitrack/internal/store"
)

type MigrateCmd struct{}

func (c *MigrateCmd) Run(app *App) error {
	st, err := app.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	app.Logger.Info("database migrated", "driver", st.Dialect(), "version", version)
	return nil
}

// demoFacilities is a small set of central Nagpur toilets used for local
// development and demos.
var demoFacilities = []store.NewFacility{
	{Name: "Zero Mile Public Toilet", Address: "Zero Mile, Civil Lines, Nagpur", Latitude: 21.1498, Longitude: 79.0806, Score: ptr(92.0), IsOperational: true, WaterAvailable: true, SourceRef: "demo-zero-mile"},
	{Name: "Sitabuldi Market Toilet", Address: "Sitabuldi Main Road, Nagpur", Latitude: 21.1450, Longitude: 79.0820, Score: ptr(63.0), IsOperational: true, WaterAvailable: true, SourceRef: "demo-sitabuldi"},
	{Name: "Maharajbagh Garden Toilet", Address: "Maharajbagh Road, Nagpur", Latitude: 21.1400, Longitude: 79.0750, Score: ptr(81.0), IsOperational: true, WaterAvailable: true, SourceRef: "demo-maharajbagh"},
	{Name: "Vidhan Bhavan Toilet", Address: "Vidhan Bhavan Chowk, Nagpur", Latitude: 21.1550, Longitude: 79.0850, Score: ptr(22.0), IsOperational: false, WaterAvailable: false, SourceRef: "demo-vidhan-bhavan"},
	{Name: "RBI Square Toilet", Address: "RBI Square, Sadar, Nagpur", Latitude: 21.1510, Longitude: 79.0780, Score: ptr(44.0), IsOperational: true, WaterAvailable: true, SourceRef: "demo-rbi-square"},
}

func ptr[T any](v T) *T { return &v }

type SeedCmd struct{}

// Run inserts the demo facilities that are not already present, matched by
// source reference, so seeding twice is harmless.
func (c *SeedCmd) Run(app *App) error {
	st, err := app.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	created := 0
	for _, nf := range demoFacilities {
		_, err := st.GetFacilityBySourceRef(nf.SourceRef)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		f, err := st.CreateFacility(nf)
		if err != nil {
			return fmt.Errorf("seed %s: %w", nf.Name, err)
		}
		app.Logger.Debug("seeded facility", "toilet_id", f.ID, "name", f.Name, "grade", f.CleanlinessGrade)
		created++
	}
	app.Logger.Info("facilities seeded", "created", created, "skipped", len(demoFacilities)-created)
	return nil
}

type ReportCmd struct {
	Grade string `help:"Only show facilities with this grade."`
}

func (c *ReportCmd) Run(app *App) error {
	st, err := app.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	facilities, err := st.ListFacilities()
	if err != nil {
		return err
	}
	if c.Grade != "" {
		g, ok := grading.ParseGrade(c.Grade)
		if !ok {
			return fmt.Errorf("unknown grade %q", c.Grade)
		}
		facilities, err = st.ListFacilitiesByGrade(g)
		if err != nil {
			return err
		}
	}
	counts, err := st.GradeCounts()
	if err != nil {
		return err
	}
	avg, err := st.AverageScore()
	if err != nil {
		return err
	}

	renderReport(os.Stdout, app.Grades, facilities, counts, avg)
	return nil
}

type NearbyCmd struct {
	Lat      float64 `arg:"" help:"Latitude."`
	Lng      float64 `arg:"" help:"Longitude."`
	RadiusKM float64 `name:"radius" help:"Search radius in kilometres, defaults to ranking.nearby_radius_km."`
	Floor    string  `help:"Worst grade to include."`
	Limit    int     `help:"Maximum results." default:"10"`
}

func (c *NearbyCmd) Run(app *App) error {
	point := models.Coordinate{Lat: c.Lat, Lng: c.Lng}
	if !proximity.ValidCoordinate(point) {
		return fmt.Errorf("coordinate %.4f,%.4f out of range", c.Lat, c.Lng)
	}
	q := proximity.Query{
		MaxResults:      c.Limit,
		MaxRadiusKM:     c.RadiusKM,
		OperationalOnly: app.Config.Ranking.OperationalOnly,
	}
	if q.MaxRadiusKM <= 0 {
		q.MaxRadiusKM = app.Config.Ranking.NearbyRadiusKM
	}
	if c.Floor != "" {
		g, ok := grading.ParseGrade(c.Floor)
		if !ok {
			return fmt.Errorf("unknown grade %q", c.Floor)
		}
		q.Floor = g
	}

	st, err := app.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	all, err := st.ListFacilities()
	if err != nil {
		return err
	}
	renderNearby(os.Stdout, app.Grades, proximity.Nearby(point, all, q))
	return nil
}

type SyncRegistryCmd struct {
	File string `help:"Read the registry CSV from a local file instead of FTP." type:"existingfile"`
}

func (c *SyncRegistryCmd) Run(app *App) error {
	var src registry.Source
	if c.File != "" {
		src = &registry.FileSource{File: c.File}
	} else {
		rc := app.Config.Registry
		if rc.Host == "" || rc.Path == "" {
			return errors.New("registry.host and registry.path required (or pass --file)")
		}
		src = &registry.FTPSource{Host: rc.Host, User: rc.User, Password: rc.Password, File: rc.Path}
	}

	st, err := app.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sum, err := registry.NewSyncer(st, src, app.Logger).Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("parsed %d rows: %d created, %d updated, %d rejected\n",
		sum.Parsed, sum.Created, sum.Updated, sum.ParseErrors)
	return nil
}

type GrantRoleCmd struct {
	User   string `arg:"" help:"User id."`
	Role   string `arg:"" enum:"admin,maintenance_staff" help:"Role to grant (admin or maintenance_staff)."`
	Name   string `help:"Display name stored on the user's profile."`
	Revoke bool   `help:"Remove the role instead of granting it."`
}

func (c *GrantRoleCmd) Run(app *App) error {
	st, err := app.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	role := models.Role(c.Role)
	if c.Revoke {
		if err := st.RevokeRole(c.User, role); err != nil {
			return err
		}
		app.Logger.Info("role revoked", "user_id", c.User, "role", role)
		return nil
	}

	if err := st.UpsertProfile(models.Profile{ID: c.User, DisplayName: c.Name}); err != nil {
		return err
	}
	if err := st.GrantRole(c.User, role); err != nil {
		return err
	}
	app.Logger.Info("role granted", "user_id", c.User, "role", role)
	return nil
}
