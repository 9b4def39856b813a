// Package security implements CLASP capability-based authorization: actions,
// scopes, and pluggable token validators.
package security

import (
	"fmt"
	"strings"

	"github.com/lumencanvas/clasp/pkg/address"
)

// Action is a permission level: Read < Write < Admin (higher implies lower).
type Action uint8

const (
	ActionRead Action = iota
	ActionWrite
	ActionAdmin
)

// Allows reports whether an Action of this level permits the requested one.
func (a Action) Allows(requested Action) bool {
	return a >= requested
}

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseAction parses "read"/"write"/"admin" (and their single-letter/"*" aliases).
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "read", "r":
		return ActionRead, nil
	case "write", "w":
		return ActionWrite, nil
	case "admin", "a", "*":
		return ActionAdmin, nil
	default:
		return 0, fmt.Errorf("clasp: unknown action %q", s)
	}
}

// Scope is a granted permission pair (action, pattern): "action:pattern".
type Scope struct {
	action  Action
	pattern *address.Pattern
	raw     string
}

// NewScope constructs a scope from an action and a pattern string.
func NewScope(action Action, pattern string) (Scope, error) {
	p, err := address.Compile(pattern)
	if err != nil {
		return Scope{}, err
	}
	return Scope{action: action, pattern: p, raw: fmt.Sprintf("%s:%s", action, pattern)}, nil
}

// ParseScope parses the "action:pattern" wire format.
func ParseScope(s string) (Scope, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Scope{}, fmt.Errorf("clasp: scope must be 'action:pattern', got %q", s)
	}
	action, err := ParseAction(parts[0])
	if err != nil {
		return Scope{}, err
	}
	p, err := address.Compile(parts[1])
	if err != nil {
		return Scope{}, err
	}
	return Scope{action: action, pattern: p, raw: s}, nil
}

// Allows reports whether this scope permits the requested action on addr.
func (s Scope) Allows(requested Action, addr string) bool {
	return s.action.Allows(requested) && s.pattern.Matches(addr)
}

// String returns the "action:pattern" wire representation.
func (s Scope) String() string { return s.raw }

// Permits reports whether any scope in scopes allows the requested action on addr.
func Permits(scopes []Scope, requested Action, addr string) bool {
	for _, s := range scopes {
		if s.Allows(requested, addr) {
			return true
		}
	}
	return false
}
