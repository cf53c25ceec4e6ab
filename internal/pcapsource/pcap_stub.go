//go:build !pcap
// +build !pcap

package pcapsource

import (
	"context"
	"fmt"
)

// ReplayPCAP is a stub when PCAP support is disabled.
// Build with -tags=pcap to enable datagram replay.
func ReplayPCAP(ctx context.Context, pcapFile string, udpPort int, handle func(payload []byte) error) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable datagram replay")
}
