package uavnet

// phy.go provides the delivery primitives.  A transmission schedules a
// frame-arrival event at each receiver for the instant the last bit
// lands: now + transmission time + per-receiver propagation delay.
// Delivery failure (channel error or insufficient SINR) is silent here;
// reliability is the MAC's business via ACKs.

import (
	"github.com/iti/evt/evtm"
)

// phyLayer is the radio front end of one drone
type phyLayer struct {
	drone *Drone
}

// createPhyLayer is a constructor
func createPhyLayer(drone *Drone) *phyLayer {
	phy := new(phyLayer)
	phy.drone = drone
	return phy
}

// frameDelivery is the data element carried by a scheduled arrival event
type frameDelivery struct {
	pckt     *Packet
	senderID int
}

// clonePckt makes the logical per-receiver copy of a frame, so that a
// forwarder mutating hop count or TTL does not disturb other receivers
func clonePckt(pckt *Packet) *Packet {
	cp := *pckt
	cp.RetransAttempt = make(map[int]int, len(pckt.RetransAttempt))
	for droneID, attempts := range pckt.RetransAttempt {
		cp.RetransAttempt[droneID] = attempts
	}
	if pckt.Unreachable != nil {
		cp.Unreachable = append([]unreachableDest(nil), pckt.Unreachable...)
	}
	return &cp
}

// propagationUs is the propagation delay over dist meters, in us
func propagationUs(dist float64) float64 {
	return dist / lightSpeed * 1e6
}

// unicast schedules delivery of pckt at the named next hop
func (phy *phyLayer) unicast(evtMgr *evtm.EventManager, pckt *Packet, nextHopID int) {
	sim := phy.drone.sim
	rcvr, present := sim.DroneByID[nextHopID]
	if !present {
		panic(invariantErr(phy.drone, "unicast to unknown drone"))
	}

	txTime := sim.cfg.transmissionTimeUs(pckt.LenBits)
	delay := txTime + propagationUs(distance3d(phy.drone.Coords, rcvr.Coords))
	fd := &frameDelivery{pckt: clonePckt(pckt), senderID: phy.drone.ID}
	evtMgr.Schedule(rcvr, fd, frameArrival, usToTime(delay))
}

// broadcast schedules delivery of pckt at every drone inside the
// geometric reach of the transmitter
func (phy *phyLayer) broadcast(evtMgr *evtm.EventManager, pckt *Packet) {
	sim := phy.drone.sim
	maxRange := sim.channel.maximumCommunicationRange()
	txTime := sim.cfg.transmissionTimeUs(pckt.LenBits)

	for _, rcvr := range sim.drones {
		if rcvr.ID == phy.drone.ID {
			continue
		}
		dist := distance3d(phy.drone.Coords, rcvr.Coords)
		if dist > maxRange {
			continue
		}
		fd := &frameDelivery{pckt: clonePckt(pckt), senderID: phy.drone.ID}
		evtMgr.Schedule(rcvr, fd, frameArrival, usToTime(txTime+propagationUs(dist)))
	}
}

// frameArrival fires when the last bit of a frame lands at a receiver.
// The channel-error trial and the SINR threshold decide whether the
// frame decodes; a decodable frame is handed to the drone's receive path
// with the radio in rx for the duration of processing.
func frameArrival(evtMgr *evtm.EventManager, context any, data any) any {
	rcvr := context.(*Drone)
	fd := data.(*frameDelivery)
	sim := rcvr.sim

	if rcvr.Sleep {
		return nil
	}

	// Bernoulli channel error overrides everything else
	if sim.channel.sampleLoss() {
		if fd.pckt.PcktType == DataType {
			sim.metrics.DroppedChannel++
		}
		return nil
	}

	sender := sim.DroneByID[fd.senderID]
	interfererIDs := sim.channel.interferers(fd.pckt.ChannelID, fd.senderID)
	sinr := sim.channel.sinrDb(rcvr, sender, interfererIDs)
	if sinr < sim.cfg.SnrThreshold {
		if fd.pckt.PcktType == DataType {
			sim.metrics.DroppedChannel++
		}
		return nil
	}

	if fd.pckt.TTL >= sim.cfg.MaxTTL {
		if fd.pckt.PcktType == DataType {
			sim.metrics.DroppedTTL++
		}
		return nil
	}

	rcvr.energy.setState(CommRx)
	rcvr.receivePckt(evtMgr, fd.pckt, fd.senderID)
	rcvr.energy.setState(CommIdle)
	return nil
}
