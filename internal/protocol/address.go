package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidAddress is returned when an AMP address does not match
// "name@[scope.]tenant.provider".
var ErrInvalidAddress = errors.New("invalid amp address")

var agentNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidAgentName reports whether name is a legal AMP-registered agent name.
func ValidAgentName(name string) bool {
	return agentNamePattern.MatchString(name)
}

// Address is a parsed AMP address: name@[scope.]tenant.providerDomain.
type Address struct {
	Name     string
	Scope    string // empty when the address carries no scope segment
	Tenant   string
	Provider string
}

// String renders the address back to "name@[scope.]tenant.provider" form.
func (a Address) String() string {
	domain := a.Tenant + "." + a.Provider
	if a.Scope != "" {
		domain = a.Scope + "." + domain
	}
	return a.Name + "@" + domain
}

// ParseAddress parses "name@[scope.]tenant.provider". The provider root is
// always two labels ("aimaestro.local", or "{org}.aimaestro.local"), so
// Provider takes the trailing two labels, Tenant the label before those,
// and any labels left over fold into Scope. The domain after '@' must
// therefore have at least three labels.
func ParseAddress(raw string) (Address, error) {
	at := strings.LastIndex(raw, "@")
	if at <= 0 || at == len(raw)-1 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	name := raw[:at]
	domain := raw[at+1:]

	labels := strings.Split(domain, ".")
	if len(labels) < 3 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	for _, label := range labels {
		if label == "" {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
	}

	n := len(labels)
	provider := labels[n-2] + "." + labels[n-1]
	tenant := labels[n-3]
	scope := strings.Join(labels[:n-3], ".")

	return Address{Name: name, Scope: scope, Tenant: tenant, Provider: provider}, nil
}

// ProviderDomain returns "{organization}.aimaestro.local", or
// "aimaestro.local" when no organization has been set yet.
func ProviderDomain(organization string) string {
	if organization == "" {
		return "aimaestro.local"
	}
	return organization + ".aimaestro.local"
}

// BuildAddress constructs the address string for a freshly registered
// agent: "{name}@[scope.]{tenant}.{providerDomain}". providerDomain is
// opaque here (e.g. "acme.aimaestro.local"), so the string is assembled
// directly rather than through Address's Tenant/Provider split.
func BuildAddress(name, scope, tenant, providerDomain string) string {
	domain := tenant + "." + providerDomain
	if scope != "" {
		domain = scope + "." + domain
	}
	return name + "@" + domain
}
