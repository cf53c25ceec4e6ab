//go:build pcap
// +build pcap

package pcapsource

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/gridframe-data/gridframe/internal/monitoring"
)

// ReplayPCAP reads sensor datagrams from a capture file and hands each UDP
// payload on the given port to handle, usually a Replayer's HandleDatagram.
func ReplayPCAP(ctx context.Context, pcapFile string, udpPort int, handle func(payload []byte) error) error {
	h, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("open pcap file %s: %w", pcapFile, err)
	}
	defer h.Close()

	filter := fmt.Sprintf("udp port %d", udpPort)
	if err := h.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	packetSource := gopacket.NewPacketSource(h, h.LinkType())
	packets := 0
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				monitoring.Logf("[PCAP] replay complete: %d packets in %v", packets, time.Since(start))
				return nil
			}
			packets++

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp := udpLayer.(*layers.UDP)
			if err := handle(udp.Payload); err != nil {
				return err
			}
		}
	}
}
