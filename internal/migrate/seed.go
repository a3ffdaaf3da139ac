package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/auth"
)

// SeedUser is one account in a seed file.
type SeedUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// SeedFile is the YAML document accepted by SeedUsers.
//
//	users:
//	  - username: maria
//	    password: change-me-now
//	    role: manager
type SeedFile struct {
	Users []SeedUser `yaml:"users"`
}

// UserCreator is satisfied by auth.Manager.
type UserCreator interface {
	CreateUser(ctx context.Context, username, password string, role access.Role) (auth.User, error)
}

// LoadSeed decodes and validates a seed file. Unknown keys are rejected.
func LoadSeed(r io.Reader) (SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return SeedFile{}, fmt.Errorf("%w: seed file: %v", apperrors.ErrInvalidInput, err)
	}
	seen := make(map[string]struct{}, len(f.Users))
	for i, u := range f.Users {
		name := strings.TrimSpace(u.Username)
		if name == "" {
			return SeedFile{}, fmt.Errorf("%w: seed user %d has no username", apperrors.ErrInvalidInput, i)
		}
		if _, dup := seen[name]; dup {
			return SeedFile{}, fmt.Errorf("%w: seed user %q listed twice", apperrors.ErrInvalidInput, name)
		}
		seen[name] = struct{}{}
		if _, err := access.ParseRole(u.Role); err != nil {
			return SeedFile{}, fmt.Errorf("seed user %q: %w", name, err)
		}
	}
	return f, nil
}

// SeedUsers creates every account in f that does not exist yet and returns
// how many were created.
func SeedUsers(ctx context.Context, users UserCreator, f SeedFile, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	created := 0
	for _, u := range f.Users {
		role, err := access.ParseRole(u.Role)
		if err != nil {
			return created, err
		}
		_, err = users.CreateUser(ctx, u.Username, u.Password, role)
		switch {
		case errors.Is(err, apperrors.ErrConflict):
			log.Debug("seed user exists", zap.String("username", u.Username))
		case err != nil:
			return created, fmt.Errorf("seed user %q: %w", u.Username, err)
		default:
			created++
			log.Info("seed user created", zap.String("username", u.Username), zap.String("role", string(role)))
		}
	}
	return created, nil
}
