package common

import (
	"errors"

	"opensky/crypto"
)

// Role names recognised by the access control registry.
const (
	RoleGovernance          = "governance"
	RoleLiquidationOperator = "liquidation_operator"
	RoleEmergencyAdmin      = "emergency_admin"
)

// ErrUnauthorized is returned when a caller lacks the role required for a
// privileged operation.
var ErrUnauthorized = errors.New("caller lacks required role")

// RoleRegistry gates privileged ledger operations. Implementations decide how
// role membership is sourced (static config, tokens, upstream identity).
type RoleRegistry interface {
	HasRole(role string, addr crypto.Address) bool
}

// RequireRole returns ErrUnauthorized unless the registry confirms membership.
// A nil registry denies every privileged call so misconfiguration fails closed.
func RequireRole(reg RoleRegistry, role string, addr crypto.Address) error {
	if reg == nil || !reg.HasRole(role, addr) {
		return ErrUnauthorized
	}
	return nil
}

// StaticRoles is a RoleRegistry backed by fixed membership lists, typically
// loaded from configuration at startup.
type StaticRoles struct {
	members map[string]map[string]struct{}
}

// NewStaticRoles builds a registry from role name to member addresses.
func NewStaticRoles(assignments map[string][]crypto.Address) *StaticRoles {
	members := make(map[string]map[string]struct{}, len(assignments))
	for role, addrs := range assignments {
		set := make(map[string]struct{}, len(addrs))
		for _, addr := range addrs {
			set[string(addr.Bytes())] = struct{}{}
		}
		members[role] = set
	}
	return &StaticRoles{members: members}
}

// Grant adds an address to a role, creating the role set when missing.
func (s *StaticRoles) Grant(role string, addr crypto.Address) {
	if s.members == nil {
		s.members = make(map[string]map[string]struct{})
	}
	set, ok := s.members[role]
	if !ok {
		set = make(map[string]struct{})
		s.members[role] = set
	}
	set[string(addr.Bytes())] = struct{}{}
}

// HasRole implements the RoleRegistry interface.
func (s *StaticRoles) HasRole(role string, addr crypto.Address) bool {
	if s == nil || s.members == nil {
		return false
	}
	set, ok := s.members[role]
	if !ok {
		return false
	}
	_, ok = set[string(addr.Bytes())]
	return ok
}
