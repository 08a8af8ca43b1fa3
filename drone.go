package uavnet

// drone.go composes a node: the bounded transmit queue and its
// dispatcher, the traffic generator, hello beaconing and neighbor
// expiry, the receive dispatch, and the installed MAC, routing, energy
// and mobility modules.

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
)

// delay between a dispatch trigger and the queue pop, giving enqueues
// at the same instant a chance to land in arrival order
const dispatchDelayUs = 10.0

// Drone is one node of the swarm
type Drone struct {
	ID     int
	Coords [3]float64

	Speed     float64
	Velocity  [3]float64
	Direction float64
	Pitch     float64

	// formation target exposed for convergence observation; nil when
	// no external target is set
	TargetPosition *[3]float64

	ResidualEnergy float64
	Sleep          bool
	DeathTime      float64 // us, -1 while alive

	// transmit queue, bounded FIFO with tail drop
	queue           []*Packet
	dispatchPending bool

	// neighbor table: peer id -> absolute expiry, us
	neighbors map[int]float64

	mac      macProtocol
	phy      *phyLayer // for contention-free ACK replies
	routing  *Aodv
	energy   *EnergyModel
	mobility MobilityModel

	rngTraffic  *rngstream.RngStream
	rngMobility *rngstream.RngStream

	sim *Simulator
}

// createDrone is a constructor.  The drone's modules are installed here;
// its long-lived processes start when the simulator launches.
func createDrone(sim *Simulator, droneID int, coords [3]float64, speed float64) *Drone {
	drone := new(Drone)
	drone.ID = droneID
	drone.Coords = coords
	drone.Speed = speed
	drone.ResidualEnergy = sim.cfg.InitialEnergy
	drone.DeathTime = -1.0
	drone.queue = make([]*Packet, 0)
	drone.neighbors = make(map[int]float64)
	drone.sim = sim

	drone.rngTraffic = rngstream.New(fmt.Sprintf("traffic-%d", droneID))
	drone.rngMobility = rngstream.New(fmt.Sprintf("mobility-%d", droneID))

	drone.Direction = drone.rngMobility.RandU01() * 2.0 * math.Pi
	drone.Pitch = drone.rngMobility.RandU01()*0.1 - 0.05

	drone.mac = createMacProtocol(drone)
	drone.phy = createPhyLayer(drone)
	drone.routing = createAodv(drone)
	drone.energy = createEnergyModel(drone)
	drone.mobility = CreateRandomWaypoint3D(drone)
	return drone
}

// log returns a logger entry stamped with the drone id and virtual time
func (drone *Drone) log() *logrus.Entry {
	return drone.sim.logger.WithFields(logrus.Fields{
		"uav": drone.ID,
		"t":   drone.sim.nowUs(),
	})
}

// invariantErr formats the diagnostic context an invariant violation aborts with
func invariantErr(drone *Drone, name string) error {
	return fmt.Errorf("invariant %q violated at drone %d, time %f us", name, drone.ID, drone.sim.nowUs())
}

// startProcesses launches the drone's long-lived activities
func (drone *Drone) startProcesses(evtMgr *evtm.EventManager) {
	drone.energy.startEnergyMonitor(evtMgr)
	drone.routing.startRouting(evtMgr)
	if !drone.sim.cfg.StaticCase {
		drone.mobility.startMobility(evtMgr)
	}

	if drone.sim.cfg.PacketGenerationRate > 0 {
		evtMgr.Schedule(drone, nil, generateDataPckt, usToTime(drone.nxtGenerationIntervalUs()))
	}

	helloJitter := float64(drone.rngTraffic.RandInt(0, 1000))
	evtMgr.Schedule(drone, nil, sendHelloBeacon, usToTime(helloJitter))
	evtMgr.Schedule(drone, nil, sweepNeighbors, usToTime(drone.sim.cfg.HelloInterval))
}

// nxtGenerationIntervalUs draws the time to the next generated packet
func (drone *Drone) nxtGenerationIntervalUs() float64 {
	cfg := drone.sim.cfg
	if cfg.TrafficPattern == "uniform" {
		return 500000.0 + float64(drone.rngTraffic.RandInt(0, 5000))
	}
	// Poisson arrivals: exponential inter-generation interval
	u01 := drone.rngTraffic.RandU01()
	return -1e6 * logOneMinus(u01) / cfg.PacketGenerationRate
}

// generateDataPckt emits one data packet to a random in-swarm
// destination and reschedules itself.  A sleeping drone generates
// nothing and the process ends.
func generateDataPckt(evtMgr *evtm.EventManager, context any, data any) any {
	drone := context.(*Drone)
	if drone.Sleep {
		return nil
	}
	sim := drone.sim
	cfg := sim.cfg

	// uniform choice among the other drones
	dstID := drone.rngTraffic.RandInt(0, cfg.NumberOfDrones-2)
	if dstID >= drone.ID {
		dstID++
	}

	payload := cfg.AveragePayloadLength
	if cfg.VariablePayloadLength {
		payload += drone.rngTraffic.RandInt(0, 2*cfg.MaximumPayloadVariation) - cfg.MaximumPayloadVariation
	}

	pckt := createDataPacket(sim, drone.ID, dstID, payload, sim.channel.assignChannel(drone.ID))
	sim.metrics.GeneratedNum++
	drone.log().WithField("pckt", pckt.String()).Info("generated data packet")
	AddPcktTrace(sim.traceMgr, evtMgr.CurrentTime(), pckt, drone.ID, "gen")

	drone.enqueueTransmit(evtMgr, pckt)

	evtMgr.Schedule(drone, nil, generateDataPckt, usToTime(drone.nxtGenerationIntervalUs()))
	return nil
}

// enqueueTransmit appends a frame to the transmit queue, tail-dropping
// with a counted drop on overflow.  The dispatcher is kicked if idle.
func (drone *Drone) enqueueTransmit(evtMgr *evtm.EventManager, pckt *Packet) bool {
	if drone.Sleep {
		return false
	}
	if len(drone.queue) >= drone.sim.cfg.MaxQueueSize {
		if pckt.PcktType == DataType {
			drone.sim.metrics.DroppedQueue++
		}
		drone.log().WithField("pckt", pckt.String()).Debug("queue overflow, dropping")
		return false
	}
	drone.queue = append(drone.queue, pckt)
	drone.maybeDispatch(evtMgr)
	return true
}

// maybeDispatch schedules a queue pop when the MAC is free.  The
// dispatcher is stop-and-wait: while a unicast frame awaits its ACK no
// further frame leaves this node.
func (drone *Drone) maybeDispatch(evtMgr *evtm.EventManager) {
	if drone.dispatchPending || drone.Sleep || drone.mac.macBusy() || len(drone.queue) == 0 {
		return
	}
	drone.dispatchPending = true
	evtMgr.Schedule(drone, nil, dispatchNxtPckt, usToTime(dispatchDelayUs))
}

// dispatchNxtPckt pops the queue head, resolves routing for data
// frames, and hands the frame to the MAC
func dispatchNxtPckt(evtMgr *evtm.EventManager, context any, data any) any {
	drone := context.(*Drone)
	drone.dispatchPending = false
	if drone.Sleep || drone.mac.macBusy() || len(drone.queue) == 0 {
		return nil
	}

	var pckt *Packet
	pckt, drone.queue = drone.queue[0], drone.queue[1:]
	sim := drone.sim

	// lifetime check
	if pckt.expired(sim.nowUs()) {
		if pckt.PcktType == DataType {
			sim.metrics.DroppedTTL++
		}
		drone.maybeDispatch(evtMgr)
		return nil
	}

	if pckt.PcktType == DataType {
		// a packet keeps its accumulated attempt count across
		// re-routing; one already at the limit is dropped here
		if pckt.RetransAttempt[drone.ID] >= sim.cfg.MaxRetransmissionAttempt {
			sim.metrics.DroppedRetry++
			drone.maybeDispatch(evtMgr)
			return nil
		}
		if !drone.routing.nextHopSelection(evtMgr, pckt) {
			// buffered pending route discovery; serve the next frame
			drone.maybeDispatch(evtMgr)
			return nil
		}
		drone.log().WithField("pckt", pckt.String()).
			WithField("nexthop", pckt.NextHopID).Debug("next hop resolved")
	}

	drone.mac.sendPckt(evtMgr, pckt)
	return nil
}

// sendHelloBeacon broadcasts the periodic presence announcement
func sendHelloBeacon(evtMgr *evtm.EventManager, context any, data any) any {
	drone := context.(*Drone)
	if drone.Sleep {
		return nil
	}
	sim := drone.sim

	hello := createHelloPacket(sim, drone.ID, sim.channel.assignChannel(drone.ID))
	drone.enqueueTransmit(evtMgr, hello)

	jitter := float64(drone.rngTraffic.RandInt(0, 1000))
	evtMgr.Schedule(drone, nil, sendHelloBeacon, usToTime(sim.cfg.HelloInterval+jitter))
	return nil
}

// sweepNeighbors evicts neighbor entries whose expiry has passed
func sweepNeighbors(evtMgr *evtm.EventManager, context any, data any) any {
	drone := context.(*Drone)
	now := drone.sim.nowUs()
	for peerID, expiry := range drone.neighbors {
		if now > expiry {
			delete(drone.neighbors, peerID)
		}
	}
	evtMgr.Schedule(drone, nil, sweepNeighbors, usToTime(drone.sim.cfg.HelloInterval))
	return nil
}

// receivePckt dispatches a decoded frame to neighbor maintenance, ACK
// matching, the routing control plane, or local data handling
func (drone *Drone) receivePckt(evtMgr *evtm.EventManager, pckt *Packet, senderID int) {
	switch pckt.PcktType {
	case HelloType:
		drone.neighbors[senderID] = drone.sim.nowUs() + drone.sim.cfg.NeighborTimeout
	case AckType:
		drone.mac.handleAck(evtMgr, pckt)
	case RreqType:
		drone.routing.handleRreq(evtMgr, pckt, senderID)
	case RrepType:
		drone.sendAck(evtMgr, pckt, senderID)
		drone.routing.handleRrep(evtMgr, pckt, senderID)
	case RerrType:
		drone.routing.handleRerr(evtMgr, pckt, senderID)
	case DataType:
		drone.routing.handleData(evtMgr, pckt, senderID)
	}
}

// ackReply carries the ACK frame through the SIFS delay
type ackReply struct {
	ack *Packet
}

// sendAck schedules the link-layer acknowledgment of pckt back to the
// upstream sender, one SIFS after decode.  ACKs bypass contention; the
// sender is still holding the channel token to protect them.
func (drone *Drone) sendAck(evtMgr *evtm.EventManager, pckt *Packet, senderID int) {
	ack := createAckPacket(drone.sim, drone.ID, senderID, pckt.ChannelID, pckt)
	evtMgr.Schedule(drone, &ackReply{ack: ack}, transmitAck, usToTime(drone.sim.cfg.SifsDuration))
}

// transmitAck puts the ACK on the air with the radio in tx for its
// transmission time
func transmitAck(evtMgr *evtm.EventManager, context any, data any) any {
	drone := context.(*Drone)
	reply := data.(*ackReply)
	if drone.Sleep {
		return nil
	}
	sim := drone.sim

	ack := reply.ack
	ack.TTL++
	drone.energy.setState(CommTx)
	sim.channel.addTransmitter(ack.ChannelID, drone.ID)
	drone.phy.unicast(evtMgr, ack, ack.NextHopID)

	evtMgr.Schedule(drone, ack, ackTransmitComplete, usToTime(sim.cfg.transmissionTimeUs(ack.LenBits)))
	return nil
}

func ackTransmitComplete(evtMgr *evtm.EventManager, context any, data any) any {
	drone := context.(*Drone)
	ack := data.(*Packet)
	drone.energy.setState(CommIdle)
	drone.sim.channel.rmTransmitter(ack.ChannelID, drone.ID)
	return nil
}
