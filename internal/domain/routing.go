package domain

import "time"

// TargetType tags the DomainTarget union.
type TargetType string

const (
	TargetInstance TargetType = "instance"
	TargetPort     TargetType = "port"
	TargetStatic   TargetType = "static"
)

// DomainTarget is a tagged union; only the fields matching Type are meaningful.
type DomainTarget struct {
	Type       TargetType `json:"type" validate:"oneof=instance port static"`
	InstanceID string     `json:"instance_id,omitempty" validate:"required_if=Type instance"`
	Port       int        `json:"port,omitempty" validate:"required_if=Type port,min=0,max=65535"`
	Path       string     `json:"path,omitempty" validate:"required_if=Type static"`
	Browse     bool       `json:"browse,omitempty"`
}

type DomainSource string

const (
	SourceManual DomainSource = "manual"
	SourceParked DomainSource = "parked"
)

// Domain is a routing rule. Subdomain labels are globally unique.
type Domain struct {
	ID        string       `json:"id" validate:"required,uuid"`
	Subdomain string       `json:"subdomain" validate:"required,hostname_rfc1123"`
	SSL       bool         `json:"ssl"`
	Target    DomainTarget `json:"target"`

	// Provenance. ParkedDirID is set for domains generated from a parked directory.
	Source      DomainSource `json:"source,omitempty"`
	ParkedDirID string       `json:"parked_dir_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ParkedDirectory is a watched directory whose subfolders become domains.
type ParkedDirectory struct {
	ID        string    `json:"id" validate:"required,uuid"`
	Path      string    `json:"path" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

type RouteKind string

const (
	RouteProxy  RouteKind = "proxy"
	RouteStatic RouteKind = "static"
)

// Route is the proxy's working-set entry. It is derived from Domain and
// Instance data and never persisted.
type Route struct {
	Domain     string    `json:"domain"` // subdomain label, TLD stripped
	Kind       RouteKind `json:"kind"`
	Port       int       `json:"port,omitempty"`
	Path       string    `json:"path,omitempty"`
	Browse     bool      `json:"browse,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	SSL        bool      `json:"ssl"`
}
