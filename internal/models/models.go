// Package models provides data model definitions for the fieldsync engine.
package models

import (
	"database/sql/driver"
	"fmt"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Scope identifies who owns a captured item and which project it belongs to.
// It is resolved by the host application's identity context; the engine never
// authenticates, it only carries the scope through to the remote records.
type Scope struct {
	ProjectID string `db:"project_id" json:"project_id"`
	OrgID     string `db:"org_id" json:"org_id"`
	UserID    string `db:"user_id" json:"user_id"`
}

// Validate checks that all partition keys are present.
func (s Scope) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("scope missing project id")
	}
	if s.OrgID == "" {
		return fmt.Errorf("scope missing org id")
	}
	if s.UserID == "" {
		return fmt.Errorf("scope missing user id")
	}
	return nil
}
