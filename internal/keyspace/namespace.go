// Package keyspace turns counter identities into store keys and scan
// patterns. Everything here is pure; the only environment read is the
// machine hostname, captured once when a KeyNamespace is built.
package keyspace

import (
	"os"
	"strings"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
	"github.com/MDrooker/rna-stat-manager/internal/model"
)

// KeyNamespace resolves identities under one fixed namespace prefix
type KeyNamespace struct {
	prefix   string
	hostname string
}

// Option configures a KeyNamespace
type Option func(*KeyNamespace)

// WithHostname overrides the hostname used for WithLocalHost identities
func WithHostname(hostname string) Option {
	return func(k *KeyNamespace) {
		k.hostname = strings.ToLower(hostname)
	}
}

// New builds a KeyNamespace for the given namespace and variant
func New(ns model.Namespace, variant model.KeyVariant, opts ...Option) (*KeyNamespace, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if variant == "" {
		variant = model.VariantStat
	}

	k := &KeyNamespace{
		prefix: ns.String() + ":" + string(variant),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.hostname == "" {
		k.hostname = localHostname()
	}
	return k, nil
}

// localHostname returns the lowercase machine hostname, or "localhost"
// when the OS cannot report one.
func localHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return strings.ToLower(h)
}

// Prefix returns app:{system}:{product}:{environment}:{variant}
func (k *KeyNamespace) Prefix() string {
	return k.prefix
}

// Hostname returns the host used for WithLocalHost identities
func (k *KeyNamespace) Hostname() string {
	return k.hostname
}

// Resolve builds the store key for an identity.
//
//	global:  prefix:{type}:{name}
//	scoped:  prefix:{type}:{name}[:{host}][:{instance}]
func (k *KeyNamespace) Resolve(id model.CounterIdentity) string {
	var b strings.Builder
	b.Grow(len(k.prefix) + 64)
	b.WriteString(k.prefix)
	b.WriteByte(':')
	b.WriteString(id.CounterType())
	b.WriteByte(':')
	b.WriteString(id.CounterName())

	if id.Scope() == model.ScopeGlobal {
		return b.String()
	}

	host := id.Host()
	if id.UsesLocalHost() {
		host = k.hostname
	}
	if host != "" {
		b.WriteByte(':')
		b.WriteString(host)
	}
	if inst := id.InstanceID(); inst != "" {
		b.WriteByte(':')
		b.WriteString(inst)
	}
	return b.String()
}

// Key resolves an identity that must name exactly one key
func (k *KeyNamespace) Key(id model.CounterIdentity) (string, error) {
	if id.IsZero() {
		return "", serrors.InvalidIdentity("identity", "must not be empty")
	}
	key := k.Resolve(id)
	if model.ContainsGlob(key) {
		return "", serrors.InvalidIdentity(key, "wildcards are only valid for scans")
	}
	return key, nil
}

// Pattern resolves an identity that must be a glob pattern
func (k *KeyNamespace) Pattern(id model.CounterIdentity) (string, error) {
	if id.IsZero() {
		return "", serrors.InvalidIdentity("identity", "must not be empty")
	}
	p := k.Resolve(id)
	if !model.ContainsGlob(p) {
		return "", serrors.InvalidIdentity(p, "scan pattern needs a wildcard")
	}
	return p, nil
}

// InstancePattern matches every key scoped to instanceID
func (k *KeyNamespace) InstancePattern(instanceID string) (string, error) {
	if instanceID == "" || strings.Contains(instanceID, ":") || model.ContainsGlob(instanceID) {
		return "", serrors.InvalidIdentity(instanceID, "instance id must be a plain non-empty segment")
	}
	return k.prefix + ":*:*:" + instanceID, nil
}

// OnlinePattern matches every per-host online marker
func (k *KeyNamespace) OnlinePattern() string {
	return k.prefix + ":" + OnlineType + ":" + OnlineName + ":*"
}

// Owns reports whether a pattern or key lives under this namespace
func (k *KeyNamespace) Owns(s string) bool {
	return strings.HasPrefix(s, k.prefix+":")
}

// Counter type and name of the per-host online markers
const (
	OnlineType = "count"
	OnlineName = "online"
)
