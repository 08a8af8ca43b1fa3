package uavnet

// metrics.go gathers the counters and per-packet samples from which
// network performance is derived: delivery ratio, end-to-end latency and
// jitter, throughput, hop count, routing load, MAC access delay,
// collision and drop counts, and energy consumption.

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics accumulates one run's statistics.  All mutation happens on
// the cooperative simulation thread.
type Metrics struct {
	sim *Simulator

	GeneratedNum   int
	ControlPcktNum int
	CollisionNum   int

	// drop counters by cause; delivery and drops are outcomes, not errors
	DroppedQueue   int
	DroppedTTL     int
	DroppedRetry   int
	DroppedChannel int

	arrived       map[int]bool    // data packet ids seen at their destination
	deliverTimeUs map[int]float64 // packet id -> end-to-end latency
	throughputBps map[int]float64 // packet id -> length / latency
	hopCnt        map[int]int     // packet id -> hops traversed
	payloadBits   int             // total delivered on-air bits

	macDelayUs []float64
}

// createMetrics is a constructor
func createMetrics(sim *Simulator) *Metrics {
	mtrc := new(Metrics)
	mtrc.sim = sim
	mtrc.arrived = make(map[int]bool)
	mtrc.deliverTimeUs = make(map[int]float64)
	mtrc.throughputBps = make(map[int]float64)
	mtrc.hopCnt = make(map[int]int)
	mtrc.macDelayUs = make([]float64, 0)
	return mtrc
}

// recordArrival registers the delivery of a data packet at its
// destination.  Duplicate deliveries of the same packet id are ignored.
func (mtrc *Metrics) recordArrival(pckt *Packet, nowUs float64) {
	if mtrc.arrived[pckt.PcktID] {
		return
	}
	latency := nowUs - pckt.CreationTime
	if latency <= 0.0 {
		panic(invariantErr(mtrc.sim.DroneByID[pckt.DstID], "arrival not after creation"))
	}
	mtrc.arrived[pckt.PcktID] = true
	mtrc.deliverTimeUs[pckt.PcktID] = latency
	mtrc.throughputBps[pckt.PcktID] = float64(pckt.LenBits) / (latency / 1e6)
	mtrc.hopCnt[pckt.PcktID] = pckt.TTL
	mtrc.payloadBits += pckt.LenBits
}

func (mtrc *Metrics) recordMacDelay(delayUs float64) {
	mtrc.macDelayUs = append(mtrc.macDelayUs, delayUs)
}

// DeliveredNum is the count of distinct data packets delivered
func (mtrc *Metrics) DeliveredNum() int {
	return len(mtrc.arrived)
}

// Pdr is the packet delivery ratio in [0,1]
func (mtrc *Metrics) Pdr() float64 {
	if mtrc.GeneratedNum == 0 {
		return 0.0
	}
	return float64(mtrc.DeliveredNum()) / float64(mtrc.GeneratedNum)
}

// mapValues extracts a map's values in a canonical order, so that the
// floating-point reductions over them are reproducible run to run
func mapValues(src map[int]float64) []float64 {
	rtn := make([]float64, 0, len(src))
	for _, value := range src {
		rtn = append(rtn, value)
	}
	sort.Float64s(rtn)
	return rtn
}

// MeanLatencyUs is the mean end-to-end delay over delivered packets
func (mtrc *Metrics) MeanLatencyUs() float64 {
	if len(mtrc.deliverTimeUs) == 0 {
		return 0.0
	}
	return stat.Mean(mapValues(mtrc.deliverTimeUs), nil)
}

// JitterUs is the standard deviation of end-to-end delay
func (mtrc *Metrics) JitterUs() float64 {
	if len(mtrc.deliverTimeUs) < 2 {
		return 0.0
	}
	return stat.StdDev(mapValues(mtrc.deliverTimeUs), nil)
}

// MeanThroughputBps averages the per-packet delivery rates
func (mtrc *Metrics) MeanThroughputBps() float64 {
	if len(mtrc.throughputBps) == 0 {
		return 0.0
	}
	return stat.Mean(mapValues(mtrc.throughputBps), nil)
}

// AggregateThroughputBps is total delivered bits over elapsed virtual time
func (mtrc *Metrics) AggregateThroughputBps(elapsedUs float64) float64 {
	if elapsedUs <= 0.0 {
		return 0.0
	}
	return float64(mtrc.payloadBits) / (elapsedUs / 1e6)
}

// MeanHopCount averages the hops traversed by delivered packets
func (mtrc *Metrics) MeanHopCount() float64 {
	if len(mtrc.hopCnt) == 0 {
		return 0.0
	}
	var agg int
	for _, hops := range mtrc.hopCnt {
		agg += hops
	}
	return float64(agg) / float64(len(mtrc.hopCnt))
}

// RoutingLoad is control packets transmitted per delivered data packet
func (mtrc *Metrics) RoutingLoad() float64 {
	if mtrc.DeliveredNum() == 0 {
		return 0.0
	}
	return float64(mtrc.ControlPcktNum) / float64(mtrc.DeliveredNum())
}

// MeanMacDelayUs averages the interval from first backoff to resolution
func (mtrc *Metrics) MeanMacDelayUs() float64 {
	if len(mtrc.macDelayUs) == 0 {
		return 0.0
	}
	return stat.Mean(mtrc.macDelayUs, nil)
}

// MetricsSummary is the read-out handed to experiment drivers and the
// visualizer snapshot
type MetricsSummary struct {
	Generated int
	Delivered int
	Pdr       float64

	MeanLatencyMs float64
	JitterMs      float64

	MeanThroughputKbps      float64
	AggregateThroughputKbps float64

	MeanHopCount  float64
	RoutingLoad   float64
	MeanMacDelayMs float64

	ControlPckts int
	Collisions   int

	DroppedQueue   int
	DroppedTTL     int
	DroppedRetry   int
	DroppedChannel int

	MeanEnergyConsumedJ float64
	NetworkLifetimeUs   float64
}

// Summary derives the complete read-out at the given virtual time
func (mtrc *Metrics) Summary(elapsedUs float64) MetricsSummary {
	sim := mtrc.sim

	var consumed float64
	lifetime := elapsedUs
	for _, drone := range sim.drones {
		consumed += sim.cfg.InitialEnergy - drone.ResidualEnergy
		if drone.DeathTime >= 0.0 && drone.DeathTime < lifetime {
			lifetime = drone.DeathTime
		}
	}
	if len(sim.drones) > 0 {
		consumed /= float64(len(sim.drones))
	}

	return MetricsSummary{
		Generated:               mtrc.GeneratedNum,
		Delivered:               mtrc.DeliveredNum(),
		Pdr:                     mtrc.Pdr(),
		MeanLatencyMs:           mtrc.MeanLatencyUs() / 1e3,
		JitterMs:                mtrc.JitterUs() / 1e3,
		MeanThroughputKbps:      mtrc.MeanThroughputBps() / 1e3,
		AggregateThroughputKbps: mtrc.AggregateThroughputBps(elapsedUs) / 1e3,
		MeanHopCount:            mtrc.MeanHopCount(),
		RoutingLoad:             mtrc.RoutingLoad(),
		MeanMacDelayMs:          mtrc.MeanMacDelayUs() / 1e3,
		ControlPckts:            mtrc.ControlPcktNum,
		Collisions:              mtrc.CollisionNum,
		DroppedQueue:            mtrc.DroppedQueue,
		DroppedTTL:              mtrc.DroppedTTL,
		DroppedRetry:            mtrc.DroppedRetry,
		DroppedChannel:          mtrc.DroppedChannel,
		MeanEnergyConsumedJ:     consumed,
		NetworkLifetimeUs:       lifetime,
	}
}
