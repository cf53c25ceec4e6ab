// Package pcapsource feeds recorded sensor datagrams into a capture
// barrier. Each UDP payload frames one sample: an 8-byte little-endian
// frame index, a length-prefixed sensor name, then the sample encoded in
// the store wire format. Reading capture files needs libpcap; build with
// -tags=pcap to enable it. The datagram framing and the replayer that
// drives the orchestrator are always available.
package pcapsource

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gridframe-data/gridframe/internal/capture"
	"github.com/gridframe-data/gridframe/internal/monitoring"
	"github.com/gridframe-data/gridframe/internal/rig"
	"github.com/gridframe-data/gridframe/internal/store"
)

// Replayer turns a stream of recorded datagrams back into orchestrator
// steps. Datagrams submit into the barrier as they arrive; when the frame
// index advances, the previous index is stepped. Undecodable payloads and
// unknown sensors are logged and skipped, matching live capture where a
// corrupt datagram must not stall the barrier.
//
// Recordings are assumed grouped by frame index, the order capture emits
// them in. A datagram for an already-stepped index is rejected by the
// barrier as stale and skipped.
type Replayer struct {
	orch     *capture.Orchestrator
	kinds    map[string]rig.SensorKind
	tickRate int

	current    uint64
	open       bool
	stepped    uint64
	anyStepped bool
}

// NewReplayer creates a replayer stepping orch. The orchestrator must have
// an active scene covering specs. tickRate reconstructs simulation time
// from frame indices; zero selects the default rate.
func NewReplayer(orch *capture.Orchestrator, specs []rig.SensorSpec, tickRate int) *Replayer {
	if tickRate <= 0 {
		tickRate = rig.DefaultTickRate
	}
	kinds := make(map[string]rig.SensorKind, len(specs))
	for _, spec := range specs {
		kinds[spec.Name] = spec.Kind
	}
	return &Replayer{orch: orch, kinds: kinds, tickRate: tickRate}
}

// HandleDatagram consumes one recorded payload. Decode failures skip the
// datagram; step failures abort the replay.
func (r *Replayer) HandleDatagram(payload []byte) error {
	sensor, index, sample, err := decodeDatagram(payload, r.kinds)
	if err != nil {
		monitoring.Logf("[PCAP] skipping datagram: %v", err)
		return nil
	}
	if r.anyStepped && index <= r.stepped {
		monitoring.Logf("[PCAP] skipping stale datagram: sensor=%s frame=%d (stepped through %d)",
			sensor, index, r.stepped)
		return nil
	}
	if r.open && index != r.current {
		if err := r.step(); err != nil {
			return err
		}
	}
	if !r.open {
		r.current = index
		r.open = true
	}
	if err := r.orch.Submit(sensor, sample, index); err != nil {
		monitoring.Logf("[PCAP] submit %s@%d rejected: %v", sensor, index, err)
	}
	return nil
}

// Finish steps the last in-flight frame. Call once after the final
// datagram.
func (r *Replayer) Finish() error {
	if !r.open {
		return nil
	}
	return r.step()
}

func (r *Replayer) step() error {
	index := r.current
	r.open = false
	r.stepped = index
	r.anyStepped = true
	simTime := float64(index) / float64(r.tickRate)
	if _, err := r.orch.Step(index, simTime); err != nil {
		return fmt.Errorf("pcapsource: step frame %d: %w", index, err)
	}
	return nil
}

func decodeDatagram(payload []byte, kinds map[string]rig.SensorKind) (string, uint64, rig.SensorSample, error) {
	if len(payload) < 9 {
		return "", 0, rig.SensorSample{}, fmt.Errorf("datagram too short (%d bytes)", len(payload))
	}
	index := binary.LittleEndian.Uint64(payload)
	nameLen := int(payload[8])
	if len(payload) < 9+nameLen {
		return "", 0, rig.SensorSample{}, fmt.Errorf("datagram truncated in sensor name")
	}
	sensor := string(payload[9 : 9+nameLen])

	kind, ok := kinds[sensor]
	if !ok {
		return "", 0, rig.SensorSample{}, fmt.Errorf("unknown sensor %q", sensor)
	}
	sample, err := store.DecodeSample(bytes.NewReader(payload[9+nameLen:]), kind)
	if err != nil {
		return "", 0, rig.SensorSample{}, fmt.Errorf("decode %s sample: %w", sensor, err)
	}
	return sensor, index, sample, nil
}

// EncodeDatagram frames one sample for transmission, the inverse of the
// replay decoder. Capture-side tooling uses it to mirror live callbacks
// onto the wire.
func EncodeDatagram(sensor string, sample rig.SensorSample, index uint64, timestampMs int64) ([]byte, error) {
	if len(sensor) > 255 {
		return nil, fmt.Errorf("sensor name too long (%d bytes)", len(sensor))
	}
	var buf bytes.Buffer
	var header [9]byte
	binary.LittleEndian.PutUint64(header[:8], index)
	header[8] = byte(len(sensor))
	buf.Write(header[:])
	buf.WriteString(sensor)
	if err := store.EncodeSample(&buf, sample, timestampMs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
