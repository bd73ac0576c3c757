// Package db selects the concrete storage driver for a profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/store"
	"github.com/hrygo/valet/store/db/postgres"
	"github.com/hrygo/valet/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
