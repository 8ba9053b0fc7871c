// Package auth resolves API keys to principals. Sessions and exports are
// scoped to the principal that created them.
package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

const (
	// RoleAsker may create sessions, connect and ask questions.
	RoleAsker = "asker"
	// RoleExporter may additionally write and read exports.
	RoleExporter = "exporter"

	AnonymousPrincipal = "anonymous"
)

type Identity struct {
	Principal string
	Roles     []string
}

// Anonymous is the identity used when authentication is disabled.
func Anonymous() Identity {
	return Identity{Principal: AnonymousPrincipal, Roles: []string{RoleAsker, RoleExporter}}
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses "key:principal:role|role,..." entries.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:principal:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		principal := strings.TrimSpace(parts[1])
		if key == "" || principal == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/principal", entry)
		}
		if strings.ContainsAny(principal, "/ \t") {
			return nil, fmt.Errorf("invalid static key entry %q: principal must not contain '/' or spaces", entry)
		}
		if _, dup := validator.keys[key]; dup {
			return nil, fmt.Errorf("duplicate static key for principal %q", principal)
		}

		var roles []string
		for _, role := range strings.Split(parts[2], "|") {
			role = strings.TrimSpace(role)
			switch role {
			case "":
				continue
			case RoleAsker, RoleExporter:
				roles = append(roles, role)
			default:
				return nil, fmt.Errorf("invalid static key entry %q: unknown role %q", entry, role)
			}
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		slices.Sort(roles)
		validator.keys[key] = Identity{Principal: principal, Roles: slices.Compact(roles)}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
