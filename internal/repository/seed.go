package repository

import (
	"context"
	"fmt"

	ssi "github.com/viper1331/Simulateur-SSI"
	"golang.org/x/crypto/bcrypt"
)

// Demo accounts created on an empty database.
var demoUsers = []struct {
	username string
	password string
	role     string
}{
	{"formateur.demo", "Formateur!2024", "TRAINER"},
	{"apprenant.demo", "Apprenant!2024", "TRAINEE"},
}

// SeedDefaults populates an empty database with the built-in scenarios
// and the demo trainer/trainee accounts. Existing rows are left alone.
func SeedDefaults(ctx context.Context, repos *Repository) error {
	existing, err := repos.Scenarios.List(ctx)
	if err != nil {
		return fmt.Errorf("list scenarios before seeding: %w", err)
	}
	if len(existing) == 0 {
		for _, s := range ssi.DefaultScenarios {
			if err := repos.Scenarios.Upsert(ctx, s); err != nil {
				return fmt.Errorf("seed scenario %q: %w", s.ID, err)
			}
		}
	}

	for _, u := range demoUsers {
		found, err := repos.Auth.GetByUsername(u.username)
		if err != nil {
			return fmt.Errorf("lookup demo user %q: %w", u.username, err)
		}
		if found != nil {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash demo password for %q: %w", u.username, err)
		}
		if _, err := repos.Auth.Create(u.username, string(hash), u.role); err != nil {
			return fmt.Errorf("seed demo user %q: %w", u.username, err)
		}
	}
	return nil
}
