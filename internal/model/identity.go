package model

import (
	"strings"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
)

// Scope says whether a counter is shared fleet-wide or tied to a host/instance
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeScoped
)

// String returns the scope name
func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeScoped:
		return "scoped"
	default:
		return "unknown"
	}
}

// Wildcard is the glob segment accepted in counter type and name
const Wildcard = "*"

const globChars = "*?[]"

// CounterIdentity is the logical identity of a counter. It is immutable
// once built; use NewGlobal or NewScoped to get a validated value.
type CounterIdentity struct {
	scope       Scope
	counterType string
	counterName string
	host        string
	localHost   bool
	instanceID  string
}

// IdentityOption configures a scoped identity
type IdentityOption func(*CounterIdentity)

// WithHost pins the identity to an explicit host. Hosts are folded to
// lower case, so "H1" and "h1" name the same key.
func WithHost(host string) IdentityOption {
	return func(id *CounterIdentity) {
		id.host = strings.ToLower(host)
		id.localHost = false
	}
}

// WithLocalHost pins the identity to the hostname of the resolving namespace
func WithLocalHost() IdentityOption {
	return func(id *CounterIdentity) {
		id.host = ""
		id.localHost = true
	}
}

// WithInstance pins the identity to an application instance
func WithInstance(instanceID string) IdentityOption {
	return func(id *CounterIdentity) {
		id.instanceID = instanceID
	}
}

// NewGlobal builds a fleet-wide counter identity
func NewGlobal(counterType, counterName string) (CounterIdentity, error) {
	id := CounterIdentity{
		scope:       ScopeGlobal,
		counterType: counterType,
		counterName: counterName,
	}
	if err := id.validate(); err != nil {
		return CounterIdentity{}, err
	}
	return id, nil
}

// NewScoped builds a host and/or instance scoped counter identity
func NewScoped(counterType, counterName string, opts ...IdentityOption) (CounterIdentity, error) {
	id := CounterIdentity{
		scope:       ScopeScoped,
		counterType: counterType,
		counterName: counterName,
	}
	for _, opt := range opts {
		opt(&id)
	}
	if err := id.validate(); err != nil {
		return CounterIdentity{}, err
	}
	return id, nil
}

// MustGlobal is NewGlobal for identities known at compile time
func MustGlobal(counterType, counterName string) CounterIdentity {
	id, err := NewGlobal(counterType, counterName)
	if err != nil {
		panic(err)
	}
	return id
}

// MustScoped is NewScoped for identities known at compile time
func MustScoped(counterType, counterName string, opts ...IdentityOption) CounterIdentity {
	id, err := NewScoped(counterType, counterName, opts...)
	if err != nil {
		panic(err)
	}
	return id
}

func (id CounterIdentity) validate() error {
	if err := validateSegment("counter type", id.counterType, true); err != nil {
		return err
	}
	if err := validateSegment("counter name", id.counterName, true); err != nil {
		return err
	}
	if id.host != "" {
		if err := validateSegment("host", id.host, false); err != nil {
			return err
		}
	}
	if id.instanceID != "" {
		if err := validateSegment("instance id", id.instanceID, false); err != nil {
			return err
		}
	}
	return nil
}

func validateSegment(field, value string, allowGlob bool) error {
	if value == "" {
		return serrors.InvalidIdentity(field, "must not be empty")
	}
	if strings.Contains(value, ":") {
		return serrors.InvalidIdentity(value, field+" must not contain ':'")
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return serrors.InvalidIdentity(value, field+" must not contain whitespace")
	}
	if !allowGlob && strings.ContainsAny(value, globChars) {
		return serrors.InvalidIdentity(value, field+" must not contain glob characters")
	}
	return nil
}

// Scope returns whether the identity is global or scoped
func (id CounterIdentity) Scope() Scope { return id.scope }

// CounterType returns the type segment, for example "count" or "hash"
func (id CounterIdentity) CounterType() string { return id.counterType }

// CounterName returns the name segment
func (id CounterIdentity) CounterName() string { return id.counterName }

// Host returns the explicit host, lowercased. It is empty when the
// identity has no host or uses the local one.
func (id CounterIdentity) Host() string { return id.host }

// UsesLocalHost reports whether the host is taken from the resolving namespace
func (id CounterIdentity) UsesLocalHost() bool { return id.localHost }

// InstanceID returns the instance segment, or "" when unset
func (id CounterIdentity) InstanceID() string { return id.instanceID }

// IsZero reports whether id is the zero value
func (id CounterIdentity) IsZero() bool { return id.counterType == "" }

// IsPattern reports whether the identity resolves to a glob pattern
func (id CounterIdentity) IsPattern() bool {
	return ContainsGlob(id.counterType) || ContainsGlob(id.counterName)
}

// ContainsGlob reports whether s contains a glob metacharacter
func ContainsGlob(s string) bool {
	return strings.ContainsAny(s, globChars)
}
