package uavnet

// aodv.go implements the on-demand routing layer: route discovery by
// RREQ flooding with duplicate suppression, reverse/forward route
// installation under the sequence-number freshness rule, RREP unicast
// along the reverse path, RERR reporting on link breaks, source-side
// buffering of packets awaiting a route, and periodic purging of
// expired table entries.

import (
	"sort"

	"github.com/iti/evt/evtm"
)

// AODV timing constants: per-node traversal estimate, network diameter
// bound, and the derived duplicate-suppression window
const (
	nodeTraversalUs   = 40000.0
	netDiameter       = 35.0
	netTraversalUs    = 2.0 * nodeTraversalUs * netDiameter
	pathDiscoveryUs   = 2.0 * netTraversalUs
	routePurgeIntervalUs = 1.0 * 1e6
)

// routeEntry is one row of the routing table.  An entry is usable only
// while expiry > now; forwarding through a stale entry is an invariant
// violation.
type routeEntry struct {
	NextHop  int
	HopCount int
	SeqNum   int
	Expiry   float64 // us
}

// rreqKey identifies a flood for duplicate suppression
type rreqKey struct {
	originID    int
	broadcastID int
}

// Aodv is the routing state of one drone
type Aodv struct {
	drone *Drone

	table        map[int]*routeEntry // destination id -> entry
	packetBuffer map[int][]*Packet   // destination id -> packets awaiting a route
	seenRreqs    map[rreqKey]float64 // flood id -> suppression expiry

	rreqID int // per-originator monotonic broadcast id
	seqNum int // this node's own sequence number, strictly increasing
}

// createAodv is a constructor
func createAodv(drone *Drone) *Aodv {
	aodv := new(Aodv)
	aodv.drone = drone
	aodv.table = make(map[int]*routeEntry)
	aodv.packetBuffer = make(map[int][]*Packet)
	aodv.seenRreqs = make(map[rreqKey]float64)
	return aodv
}

// startRouting schedules the periodic purge sweep
func (aodv *Aodv) startRouting(evtMgr *evtm.EventManager) {
	evtMgr.Schedule(aodv, nil, purgeRoutes, usToTime(routePurgeIntervalUs))
}

// validEntry returns the routing entry for destID if present and unexpired
func (aodv *Aodv) validEntry(destID int) *routeEntry {
	entry, present := aodv.table[destID]
	if !present {
		return nil
	}
	if entry.Expiry <= aodv.drone.sim.nowUs() {
		delete(aodv.table, destID)
		return nil
	}
	return entry
}

// nextHopSelection resolves the next hop of a data packet.  With no
// valid route the packet is buffered and, if this destination has no
// discovery outstanding, a RREQ flood is started.  The return reports
// whether the packet is ready to transmit.
func (aodv *Aodv) nextHopSelection(evtMgr *evtm.EventManager, pckt *Packet) bool {
	destID := pckt.DstID

	if entry := aodv.validEntry(destID); entry != nil {
		pckt.NextHopID = entry.NextHop
		// route use refreshes the expiry
		entry.Expiry = aodv.drone.sim.nowUs() + aodv.drone.sim.cfg.ActiveRouteTimeout
		return true
	}

	if _, buffering := aodv.packetBuffer[destID]; !buffering {
		aodv.packetBuffer[destID] = make([]*Packet, 0)
		aodv.sendRreq(evtMgr, destID)
	}
	aodv.packetBuffer[destID] = append(aodv.packetBuffer[destID], pckt)
	return false
}

// sendRreq originates a route request flood for destID
func (aodv *Aodv) sendRreq(evtMgr *evtm.EventManager, destID int) {
	drone := aodv.drone
	sim := drone.sim

	aodv.rreqID++
	aodv.seqNum++

	// include the last known destination sequence, if any
	destSeq := 0
	if entry, present := aodv.table[destID]; present {
		destSeq = entry.SeqNum
	}

	rreq := createRreqPacket(sim, drone.ID, destID, aodv.rreqID, aodv.seqNum, destSeq,
		sim.channel.assignChannel(drone.ID))
	drone.log().WithField("dest", destID).Info("originating rreq")

	aodv.seenRreqs[rreqKey{originID: drone.ID, broadcastID: aodv.rreqID}] = sim.nowUs() + pathDiscoveryUs
	drone.enqueueTransmit(evtMgr, rreq)
}

// handleRreq processes a received route request
func (aodv *Aodv) handleRreq(evtMgr *evtm.EventManager, rreq *Packet, senderID int) {
	drone := aodv.drone
	now := drone.sim.nowUs()

	// duplicate suppression: each flood is handled at most once per node
	key := rreqKey{originID: rreq.SrcID, broadcastID: rreq.BroadcastID}
	if expiry, seen := aodv.seenRreqs[key]; seen && expiry > now {
		return
	}
	aodv.seenRreqs[key] = now + pathDiscoveryUs

	// install the reverse route toward the originator
	aodv.updateRoute(rreq.SrcID, senderID, rreq.HopCount+1, rreq.OrigSeqNum)

	isDest := rreq.DstID == drone.ID
	entry := aodv.validEntry(rreq.DstID)
	hasFreshRoute := entry != nil && entry.SeqNum >= rreq.DestSeqNum

	if isDest || hasFreshRoute {
		aodv.sendRrep(evtMgr, rreq, isDest)
		return
	}

	if rreq.TTL < drone.sim.cfg.MaxTTL {
		rreq.HopCount++
		drone.enqueueTransmit(evtMgr, rreq)
	}
}

// sendRrep answers a route request, either as the destination itself or
// from a fresh-enough cached route
func (aodv *Aodv) sendRrep(evtMgr *evtm.EventManager, rreq *Packet, isDest bool) {
	drone := aodv.drone
	sim := drone.sim

	var destSeq, hopCount int
	if isDest {
		aodv.seqNum++
		destSeq = aodv.seqNum
		hopCount = 0
	} else {
		entry := aodv.table[rreq.DstID]
		destSeq = entry.SeqNum
		hopCount = entry.HopCount
	}

	rrep := createRrepPacket(sim, drone.ID, rreq.SrcID, rreq.DstID, destSeq, hopCount,
		sim.channel.assignChannel(drone.ID))

	// unicast back along the reverse route just installed
	reverse := aodv.table[rreq.SrcID]
	if reverse == nil {
		panic(invariantErr(drone, "rrep with no reverse route"))
	}
	rrep.NextHopID = reverse.NextHop

	drone.log().WithField("dest", rreq.DstID).WithField("nexthop", rrep.NextHopID).Info("sending rrep")
	drone.enqueueTransmit(evtMgr, rrep)
}

// handleRrep processes a received route reply
func (aodv *Aodv) handleRrep(evtMgr *evtm.EventManager, rrep *Packet, senderID int) {
	drone := aodv.drone

	// install the forward route toward the destination
	aodv.updateRoute(rrep.DstID, senderID, rrep.HopCount+1, rrep.DestSeqNum)

	if rrep.OriginatorID == drone.ID {
		// discovery complete: drain the buffered packets
		buffered, present := aodv.packetBuffer[rrep.DstID]
		if !present {
			return
		}
		delete(aodv.packetBuffer, rrep.DstID)
		entry := aodv.table[rrep.DstID]
		for _, pckt := range buffered {
			pckt.NextHopID = entry.NextHop
			drone.enqueueTransmit(evtMgr, pckt)
		}
		return
	}

	// forward one hop further along the reverse path
	if entry := aodv.validEntry(rrep.OriginatorID); entry != nil {
		rrep.NextHopID = entry.NextHop
		rrep.HopCount++
		drone.enqueueTransmit(evtMgr, rrep)
	}
}

// handleRerr invalidates every route whose next hop is the reporting
// neighbor and whose destination is listed as unreachable
func (aodv *Aodv) handleRerr(evtMgr *evtm.EventManager, rerr *Packet, senderID int) {
	for _, unreachable := range rerr.Unreachable {
		entry, present := aodv.table[unreachable.DestID]
		if present && entry.NextHop == senderID {
			delete(aodv.table, unreachable.DestID)
		}
	}
}

// handleData delivers a data packet locally or re-queues it for the next
// hop.  Accepting either way is acknowledged to the upstream sender; a
// packet that cannot be forwarded is left unacknowledged so the sender's
// retry path discovers the break.
func (aodv *Aodv) handleData(evtMgr *evtm.EventManager, pckt *Packet, senderID int) {
	drone := aodv.drone
	sim := drone.sim

	if pckt.DstID == drone.ID {
		sim.metrics.recordArrival(pckt, sim.nowUs())
		drone.log().WithField("pckt", pckt.String()).Info("data packet delivered")
		AddPcktTrace(sim.traceMgr, evtMgr.CurrentTime(), pckt, drone.ID, "deliver")
		drone.sendAck(evtMgr, pckt, senderID)
		return
	}

	if _, present := aodv.table[pckt.DstID]; present {
		if drone.enqueueTransmit(evtMgr, pckt) {
			drone.sendAck(evtMgr, pckt, senderID)
		}
	}
}

// updateRoute installs or refreshes a table entry under the freshness
// rule: accept a strictly larger sequence number, or an equal one with
// a smaller hop count
func (aodv *Aodv) updateRoute(destID, nextHop, hopCount, seqNum int) {
	entry, present := aodv.table[destID]
	update := !present ||
		seqNum > entry.SeqNum ||
		(seqNum == entry.SeqNum && hopCount < entry.HopCount)
	if !update {
		return
	}
	aodv.table[destID] = &routeEntry{
		NextHop:  nextHop,
		HopCount: hopCount,
		SeqNum:   seqNum,
		Expiry:   aodv.drone.sim.nowUs() + aodv.drone.sim.cfg.ActiveRouteTimeout,
	}
}

// penalize is the MAC's link-break upcall, made when retries on a data
// packet are exhausted.  Every route through the dead next hop is
// invalidated and reported in a RERR broadcast.
func (aodv *Aodv) penalize(evtMgr *evtm.EventManager, pckt *Packet) {
	if pckt.PcktType != DataType {
		return
	}
	drone := aodv.drone
	deadHop := pckt.NextHopID

	unreachable := make([]unreachableDest, 0)
	for destID, entry := range aodv.table {
		if entry.NextHop == deadHop {
			unreachable = append(unreachable, unreachableDest{DestID: destID, SeqNum: entry.SeqNum})
		}
	}
	sort.Slice(unreachable, func(i, j int) bool { return unreachable[i].DestID < unreachable[j].DestID })
	for _, u := range unreachable {
		delete(aodv.table, u.DestID)
	}

	if len(unreachable) > 0 {
		drone.log().WithField("deadhop", deadHop).Info("link break, sending rerr")
		rerr := createRerrPacket(drone.sim, drone.ID, drone.sim.channel.assignChannel(drone.ID), unreachable)
		drone.enqueueTransmit(evtMgr, rerr)
	}
}

// purgeRoutes sweeps expired routing entries and stale suppression
// records once per second of virtual time
func purgeRoutes(evtMgr *evtm.EventManager, context any, data any) any {
	aodv := context.(*Aodv)
	now := aodv.drone.sim.nowUs()

	for destID, entry := range aodv.table {
		if entry.Expiry <= now {
			delete(aodv.table, destID)
		}
	}
	for key, expiry := range aodv.seenRreqs {
		if expiry <= now {
			delete(aodv.seenRreqs, key)
		}
	}

	evtMgr.Schedule(aodv, nil, purgeRoutes, usToTime(routePurgeIntervalUs))
	return nil
}
