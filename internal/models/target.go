// Package models defines GORM data models for NetGaze.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTarget is returned when a target fails validation.
var ErrInvalidTarget = errors.New("invalid target")

// DefaultIcon is the display hint used when none is given.
const DefaultIcon = "bi-hdd-network"

// Target is a remote device watched by the monitor loop.
// ProbePort selects TCP-connect probing when set; otherwise the device is pinged.
type Target struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Address   string    `gorm:"not null" json:"address"`
	ProbePort *int      `json:"probe_port,omitempty"`
	Icon      string    `gorm:"default:'bi-hdd-network'" json:"icon"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the invariants a target must satisfy before it is stored.
func (t *Target) Validate() error {
	t.Name = strings.TrimSpace(t.Name)
	t.Address = strings.TrimSpace(t.Address)
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTarget)
	}
	if t.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidTarget)
	}
	if t.ProbePort != nil && (*t.ProbePort < 1 || *t.ProbePort > 65535) {
		return fmt.Errorf("%w: probe port %d out of range", ErrInvalidTarget, *t.ProbePort)
	}
	if t.Icon == "" {
		t.Icon = DefaultIcon
	}
	return nil
}

// UsesTCP reports whether the target is probed by TCP connect.
func (t *Target) UsesTCP() bool {
	return t.ProbePort != nil
}
