// Package gateway implements the edge pipeline: request classification
// against the public-route list, bearer-token enforcement with identity
// header enrichment, and proxying to the upstream services.
package gateway

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Identity headers set by the gateway and trusted downstream without
// re-verifying the token.
const (
	HeaderRequestType = "X-Request-Type"
	HeaderUserID      = "X-User-Id"
	HeaderUserEmail   = "X-User-Email"
	HeaderUserRole    = "X-User-Role"
)

type RequestType string

const (
	RequestTypePublic    RequestType = "PUBLIC"
	RequestTypeProtected RequestType = "PROTECTED"
	RequestTypeUndefined RequestType = "UNDEFINED"
)

// ParseRequestType maps a header value back to a verdict. Anything missing
// or unrecognized is UNDEFINED, which the auth stage treats as a broken
// pipeline rather than a public request.
func ParseRequestType(value string) RequestType {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(RequestTypePublic):
		return RequestTypePublic
	case string(RequestTypeProtected):
		return RequestTypeProtected
	default:
		return RequestTypeUndefined
	}
}

// Classifier matches request paths against the ordered public-route glob
// patterns from config. `*` stays within one path segment, `**` crosses
// segments.
type Classifier struct {
	patterns []glob.Glob
	sources  []string
}

func NewClassifier(patterns []string) (*Classifier, error) {
	c := &Classifier{}
	for _, p := range patterns {
		compiled, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile public route %q: %w", p, err)
		}
		c.patterns = append(c.patterns, compiled)
		c.sources = append(c.sources, p)
	}
	return c, nil
}

// Classify returns PUBLIC when any pattern matches, PROTECTED otherwise.
func (c *Classifier) Classify(path string) RequestType {
	for _, p := range c.patterns {
		if p.Match(path) {
			return RequestTypePublic
		}
	}
	return RequestTypeProtected
}

// Patterns returns the configured pattern sources, for startup logging.
func (c *Classifier) Patterns() []string {
	return c.sources
}
