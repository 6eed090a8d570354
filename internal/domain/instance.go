package domain

import (
	"encoding/json"
	"time"
)

// ServiceType identifies a service family (see internal/services).
type ServiceType string

const (
	ServicePHP         ServiceType = "php"
	ServiceMariaDB     ServiceType = "mariadb"
	ServicePostgreSQL  ServiceType = "postgresql"
	ServiceRedis       ServiceType = "redis"
	ServiceValkey      ServiceType = "valkey"
	ServiceMeilisearch ServiceType = "meilisearch"
	ServiceTypesense   ServiceType = "typesense"
	ServiceMailpit     ServiceType = "mailpit"
	ServiceFrpc        ServiceType = "frpc"
	ServiceNodeRED     ServiceType = "nodered"
)

// Instance is a configured, possibly running, service.
//
// The on-disk data directory of an instance is named by its ID and
// exists from the moment the instance is persisted, whether or not a
// process is running.
type Instance struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	ID   string `json:"id" validate:"required,uuid"`
	Name string `json:"name" validate:"required,max=64"`

	// ─────────────────────────────
	// Runtime
	// ─────────────────────────────

	// Port is unique among all instances.
	Port        int         `json:"port" validate:"min=1,max=65535"`
	ServiceType ServiceType `json:"service_type" validate:"required"`
	Version     string      `json:"version" validate:"required"`

	// Config is free-form, service specific.
	Config json.RawMessage `json:"config,omitempty"`

	AdminKey string `json:"admin_key,omitempty"`

	// MasterKey is the pre-admin_key field name. It is only ever read,
	// migrated into AdminKey on load and never written back.
	MasterKey string `json:"master_key,omitempty"`

	// ─────────────────────────────
	// Routing & grouping
	// ─────────────────────────────

	// Domain is the instance's own subdomain slug (without TLD).
	Domain        string `json:"domain,omitempty" validate:"omitempty,hostname_rfc1123"`
	DomainEnabled bool   `json:"domain_enabled"`
	StackID       string `json:"stack_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ConfigValue extracts a top-level string from the free-form config.
// Missing keys and non-string values yield "".
func (i *Instance) ConfigValue(key string) string {
	if len(i.Config) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(i.Config, &m); err != nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// BinaryInfo records one installed version of a service binary.
type BinaryInfo struct {
	Version     string    `json:"version"`
	Path        string    `json:"path"`
	InstalledAt time.Time `json:"installed_at"`
	Virtual     bool      `json:"virtual,omitempty"`
}

type Stack struct {
	ID        string    `json:"id" validate:"required,uuid"`
	Name      string    `json:"name" validate:"required,max=64"`
	CreatedAt time.Time `json:"created_at"`
}
