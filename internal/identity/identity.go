// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package identity resolves who is calling and what they may do.
//
// Roles form a ladder: user < manager < administrator. Reading is open to
// every user, changing tickets and RelVals needs a manager, and reporting
// workflow progress on behalf of the batch system needs an administrator.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role is a rung on the permission ladder.
type Role int

const (
	RoleUser Role = iota
	RoleManager
	RoleAdministrator
)

var roleNames = []string{"user", "manager", "administrator"}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// ParseRole maps a role name to its Role.
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if strings.EqualFold(s, name) {
			return Role(i), nil
		}
	}
	return RoleUser, fmt.Errorf("unknown role %q", s)
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("no authenticated user")
	ErrForbidden       = errors.New("forbidden")
)

// User is an authenticated caller.
type User struct {
	Login    string `json:"username"`
	Name     string `json:"fullname,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"-"`
	RoleName string `json:"role"`
	// RoleIndex mirrors Role for clients that compare numerically.
	RoleIndex int `json:"role_index"`
}

// NewUser builds a User with consistent role fields.
func NewUser(login string, role Role) User {
	return User{Login: login, Role: role, RoleName: role.String(), RoleIndex: int(role)}
}

// Has reports whether u is at least at role r.
func (u User) Has(r Role) bool {
	return u.Role >= r
}

type ctxKey struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user carried by ctx.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// Require returns the caller if they hold at least role r.
func Require(ctx context.Context, r Role) (User, error) {
	u, ok := FromContext(ctx)
	if !ok {
		return User{}, ErrUnauthenticated
	}
	if !u.Has(r) {
		return u, fmt.Errorf("%w: %s needs role %s, has %s", ErrForbidden, u.Login, r, u.Role)
	}
	return u, nil
}
