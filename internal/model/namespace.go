package model

import (
	"fmt"
	"strings"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
)

// KeyVariant selects the record-kind suffix of the namespace prefix
type KeyVariant string

const (
	// VariantStat is the default prefix suffix for stat counters
	VariantStat KeyVariant = "stat"
	// VariantCount is the simplified counter suffix
	VariantCount KeyVariant = "cnt"
)

// Namespace is the fixed prefix identity of a client:
// app:{system}:{product}:{environment}
type Namespace struct {
	System      string
	Product     string
	Environment string
}

// Validate checks that every namespace segment is usable in a key
func (n Namespace) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"app.system", n.System},
		{"app.product", n.Product},
		{"app.environment", n.Environment},
	}
	for _, f := range fields {
		if f.value == "" {
			return serrors.Configuration(f.name, "is required")
		}
		if strings.Contains(f.value, ":") || ContainsGlob(f.value) {
			return serrors.Configuration(f.name, "must not contain ':' or glob characters")
		}
	}
	return nil
}

// String returns app:{system}:{product}:{environment}
func (n Namespace) String() string {
	return fmt.Sprintf("app:%s:%s:%s", n.System, n.Product, n.Environment)
}

// ParseVariant maps a configured variant name to a KeyVariant
func ParseVariant(s string) (KeyVariant, error) {
	switch KeyVariant(strings.ToLower(s)) {
	case "", VariantStat:
		return VariantStat, nil
	case VariantCount:
		return VariantCount, nil
	default:
		return "", serrors.Configuration("app.key_variant", fmt.Sprintf("unknown variant %q", s))
	}
}
