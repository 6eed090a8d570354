package domain

import "time"

// FrpServer is a remote frps endpoint tunnels connect through.
type FrpServer struct {
	ID         string    `json:"id" validate:"required,uuid"`
	Name       string    `json:"name" validate:"required,max=64"`
	ServerAddr string    `json:"server_addr" validate:"required"`
	ServerPort int       `json:"server_port" validate:"min=1,max=65535"`
	Token      string    `json:"token,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type TunnelType string

const (
	TunnelHTTP TunnelType = "http"
	TunnelTCP  TunnelType = "tcp"
)

// Tunnel exposes a local port through an FrpServer.
type Tunnel struct {
	ID         string     `json:"id" validate:"required,uuid"`
	Name       string     `json:"name" validate:"required,max=64"`
	ServerID   string     `json:"server_id" validate:"required"`
	Type       TunnelType `json:"type" validate:"oneof=http tcp"`
	LocalPort  int        `json:"local_port" validate:"min=1,max=65535"`
	Subdomain  string     `json:"subdomain,omitempty" validate:"required_if=Type http"`
	RemotePort int        `json:"remote_port,omitempty" validate:"required_if=Type tcp"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
}
