package servercmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	usersgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/users"
)

// SeedFile lists accounts provisioned on first boot.
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

type SeedUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	FullName string `yaml:"full_name"`
	Role     string `yaml:"role"`
	// Completed marks the role's onboarding flow as already done.
	Completed bool `yaml:"completed"`
}

func LoadSeed(path string) (*SeedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf SeedFile
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &sf, nil
}

// Seed provisions every listed account that does not exist yet. Existing
// emails are left untouched.
func Seed(ctx context.Context, repo *usersgorm.Repo, sf *SeedFile) (int, error) {
	created := 0
	for _, su := range sf.Users {
		role, err := domain.ParseRole(su.Role)
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", su.Email, err)
		}
		u := &usersgorm.UserRecord{Email: su.Email, Metadata: map[string]any{"role": string(role), "seeded": true}}
		err = repo.Provision(ctx, u, su.Password, role, su.FullName)
		if errors.Is(err, usersgorm.ErrEmailTaken) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", su.Email, err)
		}
		if su.Completed {
			switch role {
			case domain.RoleUser:
				err = repo.SetOnboardingCompleted(ctx, u.ID, true)
			case domain.RoleAssist:
				err = repo.SetOrientationCompleted(ctx, u.ID, true)
			}
			if err != nil {
				return created, fmt.Errorf("seed %s: %w", su.Email, err)
			}
		}
		slog.Info("seeded user", "email", u.Email, "role", role)
		created++
	}
	return created, nil
}
