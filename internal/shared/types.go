package shared

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Role is the marketplace-facing account type. Clients request services,
// providers offer them. Response metrics are tracked for providers only.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

func (r Role) String() string {
	return string(r)
}

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProvider
}

type OnlineStatus string

const (
	StatusOnline  OnlineStatus = "online"
	StatusAway    OnlineStatus = "away"
	StatusDND     OnlineStatus = "dnd"
	StatusOffline OnlineStatus = "offline"
)

func (s OnlineStatus) String() string {
	return string(s)
}

func (s OnlineStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusDND, StatusOffline:
		return true
	}
	return false
}

type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceMobile  DeviceType = "mobile"
	DeviceDesktop DeviceType = "desktop"
	DeviceUnknown DeviceType = "unknown"
)
