package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/fleetdeck/hostagent/pkg/api"
	"go.uber.org/zap"
)

// hostResolver is the subset of net.Resolver used for FQDN discovery
type hostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// IdentityResolver determines the name under which this host is reported.
// It is independent of the sampler's IP field and the two may disagree.
type IdentityResolver struct {
	hostname func() (string, error)
	resolver hostResolver
	dial     dialFunc
	timeout  time.Duration
	logger   *zap.Logger
}

// NewIdentityResolver creates an identity resolver whose lookups are bounded by timeout
func NewIdentityResolver(timeout time.Duration, logger *zap.Logger) *IdentityResolver {
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	return &IdentityResolver{
		hostname: os.Hostname,
		resolver: net.DefaultResolver,
		dial:     defaultDial,
		timeout:  timeout,
		logger:   logger,
	}
}

// ResolveIdentity returns the fully qualified name when it is meaningful,
// otherwise the outbound route address, otherwise api.NotAvailable
func (r *IdentityResolver) ResolveIdentity(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fqdn, err := r.fqdn(ctx)
	if err == nil && fqdn != "" && !isLocalhost(fqdn) {
		return fqdn
	}

	ip, routeErr := outboundIP(ctx, r.dial)
	if routeErr == nil {
		return ip
	}

	r.logger.Debug("Could not resolve network identity",
		zap.NamedError("fqdn_error", err),
		zap.NamedError("route_error", routeErr),
	)
	return api.NotAvailable
}

// fqdn resolves the hostname forward, then each address back, and returns
// the first name containing a dot. If none qualifies the plain hostname is
// returned, so a lookup failure is not an error.
func (r *IdentityResolver) fqdn(ctx context.Context) (string, error) {
	name, err := r.hostname()
	if err != nil {
		return "", fmt.Errorf("hostname: %w", err)
	}
	name = strings.TrimSpace(name)
	if strings.Contains(name, ".") {
		return name, nil
	}

	addrs, err := r.resolver.LookupHost(ctx, name)
	if err != nil {
		return name, nil
	}

	for _, addr := range addrs {
		names, err := r.resolver.LookupAddr(ctx, addr)
		if err != nil {
			continue
		}
		for _, candidate := range names {
			candidate = strings.TrimSuffix(candidate, ".")
			if strings.Contains(candidate, ".") {
				return candidate, nil
			}
		}
	}
	return name, nil
}

func isLocalhost(name string) bool {
	return strings.EqualFold(name, "localhost") || strings.EqualFold(name, "localhost.localdomain")
}
