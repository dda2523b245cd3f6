// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
)

// Directory looks up the role of a login.
type Directory interface {
	Lookup(ctx context.Context, login string) (User, error)
}

// StaticDirectory assigns roles from fixed lists. Unlisted logins are users.
type StaticDirectory struct {
	roles map[string]Role
}

// NewStaticDirectory builds a directory from manager and administrator
// logins. A login in both lists is an administrator.
func NewStaticDirectory(managers, administrators []string) *StaticDirectory {
	d := &StaticDirectory{roles: make(map[string]Role)}
	for _, m := range managers {
		d.roles[m] = RoleManager
	}
	for _, a := range administrators {
		d.roles[a] = RoleAdministrator
	}
	return d
}

// Lookup implements Directory.
func (d *StaticDirectory) Lookup(_ context.Context, login string) (User, error) {
	if login == "" {
		return User{}, ErrUnauthenticated
	}
	return NewUser(login, d.roles[login]), nil
}

// HTTPDirectory asks a user-info service. The service answers
// GET <base>?login=<login> with the JSON encoding of User.
type HTTPDirectory struct {
	base   string
	client *http.Client
}

// NewHTTPDirectory returns a directory backed by the service at base.
func NewHTTPDirectory(base string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPDirectory{base: base, client: client}
}

// Lookup implements Directory.
func (d *HTTPDirectory) Lookup(ctx context.Context, login string) (User, error) {
	if login == "" {
		return User{}, ErrUnauthenticated
	}
	u, err := url.Parse(d.base)
	if err != nil {
		return User{}, fmt.Errorf("user info url: %w", err)
	}
	q := u.Query()
	q.Set("login", login)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return User{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("fetching user info for %s: %w", login, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return User{}, fmt.Errorf("fetching user info for %s: status %d", login, resp.StatusCode)
	}

	var info User
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return User{}, fmt.Errorf("decoding user info for %s: %w", login, err)
	}
	role := Role(info.RoleIndex)
	if info.RoleName != "" {
		if parsed, err := ParseRole(info.RoleName); err == nil {
			role = parsed
		}
	}
	if role < RoleUser || role > RoleAdministrator {
		role = RoleUser
	}
	out := NewUser(login, role)
	out.Name, out.Email = info.Name, info.Email
	return out, nil
}

// CachedDirectory memoizes another directory for a fixed time.
type CachedDirectory struct {
	next  Directory
	cache *expirable.LRU[string, User]
}

// NewCachedDirectory wraps next with an LRU of at most size entries that
// expire after ttl.
func NewCachedDirectory(next Directory, size int, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		cache: expirable.NewLRU[string, User](size, nil, ttl),
	}
}

// Lookup implements Directory. Failed lookups are not cached.
func (d *CachedDirectory) Lookup(ctx context.Context, login string) (User, error) {
	if u, ok := d.cache.Get(login); ok {
		return u, nil
	}
	u, err := d.next.Lookup(ctx, login)
	if err != nil {
		return User{}, err
	}
	d.cache.Add(login, u)
	ctxlog.FromContext(ctx).Debug("Cached user role.", "login", login, "role", u.Role)
	return u, nil
}

// Purge drops every cached entry.
func (d *CachedDirectory) Purge() {
	d.cache.Purge()
}
