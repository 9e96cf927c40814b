package agent

import (
	"context"
	"fmt"
	"net"
)

// outboundProbeAddr is only used to select a route; no packet is sent to it
const outboundProbeAddr = "8.8.8.8:80"

// dialFunc matches net.Dialer.DialContext
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func defaultDial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// outboundIP returns the local address the kernel would pick to reach the
// public internet. Connecting a UDP socket performs route selection without
// sending anything.
func outboundIP(ctx context.Context, dial dialFunc) (string, error) {
	if dial == nil {
		dial = defaultDial
	}

	conn, err := dial(ctx, "udp4", outboundProbeAddr)
	if err != nil {
		return "", fmt.Errorf("outbound route probe: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil || addr.IP.IsUnspecified() {
		return "", fmt.Errorf("outbound route probe: no usable local address (%v)", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
