// Package seed fills a fresh database with the data every install needs:
// subscription plans, the CRM entities, optional custom entities from a YAML
// file and a platform admin.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"saaskit/internal/service"
	"saaskit/pkg/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Options selects the optional seed steps
type Options struct {
	// EntitiesFile is a YAML list of entity definitions
	EntitiesFile  string
	AdminEmail    string
	AdminPassword string
}

// Report lists what a run created
type Report struct {
	Entities []string
	AdminID  uint
}

// Run seeds the database. Every step skips what already exists, so Run can be
// repeated.
func Run(ctx context.Context, svc *service.Services, opts Options) (*Report, error) {
	log := logger.FromCtx(ctx)
	report := &Report{}

	if err := svc.Billing.SeedDefaultPlans(ctx); err != nil {
		return nil, fmt.Errorf("seeding plans: %w", err)
	}

	created, err := svc.CRM.EnsureDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("seeding CRM entities: %w", err)
	}
	report.Entities = append(report.Entities, created...)

	if opts.EntitiesFile != "" {
		defs, err := LoadEntities(opts.EntitiesFile)
		if err != nil {
			return nil, err
		}
		created, err := svc.Entities.EnsureEntities(ctx, defs)
		report.Entities = append(report.Entities, created...)
		if err != nil {
			return report, fmt.Errorf("seeding entities from %s: %w", opts.EntitiesFile, err)
		}
	}

	if opts.AdminEmail != "" {
		if len(opts.AdminPassword) < 8 {
			return report, errors.New("admin password must be at least 8 characters")
		}
		admin, err := svc.Users.CreateAdmin(ctx, opts.AdminEmail, opts.AdminPassword)
		if err != nil {
			return report, fmt.Errorf("seeding admin: %w", err)
		}
		report.AdminID = admin.ID
	}

	log.Info("Seed completed",
		zap.Strings("entities_created", report.Entities),
		zap.Uint("admin_id", report.AdminID))
	return report, nil
}

// LoadEntities reads entity definitions from a YAML file
func LoadEntities(path string) ([]service.EntityInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseEntities(raw)
}

// ParseEntities decodes a YAML list of entity definitions, rejecting unknown
// keys
func ParseEntities(raw []byte) ([]service.EntityInput, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var defs []service.EntityInput
	if err := dec.Decode(&defs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing entity definitions: %w", err)
	}
	for i, def := range defs {
		if def.Name == "" || def.Prefix == "" {
			return nil, fmt.Errorf("entity definition %d: name and prefix are required", i+1)
		}
	}
	return defs, nil
}
