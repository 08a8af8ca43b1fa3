package uavnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateRouteFreshnessRule(t *testing.T) {
	sim := newTestSim(t, nil)
	aodv := sim.DroneByID[0].routing

	aodv.updateRoute(5, 2, 3, 10)
	entry := aodv.table[5]
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.NextHop)

	// an older sequence number is rejected
	aodv.updateRoute(5, 9, 1, 9)
	assert.Equal(t, 2, aodv.table[5].NextHop)

	// an equal sequence number wins only with a smaller hop count
	aodv.updateRoute(5, 9, 4, 10)
	assert.Equal(t, 2, aodv.table[5].NextHop)
	aodv.updateRoute(5, 9, 2, 10)
	assert.Equal(t, 9, aodv.table[5].NextHop)

	// a newer sequence number always wins
	aodv.updateRoute(5, 7, 8, 11)
	assert.Equal(t, 7, aodv.table[5].NextHop)
	assert.Equal(t, 8, aodv.table[5].HopCount)
}

func TestValidEntryExpiry(t *testing.T) {
	sim := newTestSim(t, nil)
	aodv := sim.DroneByID[0].routing

	// expiry in the future: usable
	aodv.table[3] = &routeEntry{NextHop: 1, HopCount: 1, SeqNum: 1, Expiry: 5 * 1e6}
	assert.NotNil(t, aodv.validEntry(3))

	// expiry at or before now: logically absent, and purged on access
	aodv.table[4] = &routeEntry{NextHop: 1, HopCount: 1, SeqNum: 1, Expiry: 0.0}
	assert.Nil(t, aodv.validEntry(4))
	_, present := aodv.table[4]
	assert.False(t, present)
}

func TestNextHopSelectionBuffersAndFloodsOnce(t *testing.T) {
	sim := newTestSim(t, nil)
	drone := sim.DroneByID[0]
	aodv := drone.routing

	pckt1 := createDataPacket(sim, 0, 2, 1024, 0)
	pckt2 := createDataPacket(sim, 0, 2, 1024, 0)

	assert.False(t, aodv.nextHopSelection(sim.evtMgr, pckt1))
	assert.False(t, aodv.nextHopSelection(sim.evtMgr, pckt2))

	// both packets buffered under the destination, one RREQ queued
	assert.Len(t, aodv.packetBuffer[2], 2)
	require.Len(t, drone.queue, 1)
	rreq := drone.queue[0]
	assert.Equal(t, RreqType, rreq.PcktType)
	assert.Equal(t, 1, rreq.BroadcastID)
	assert.Equal(t, 1, rreq.OrigSeqNum)
}

func TestOriginatedSequenceNumbersStrictlyIncrease(t *testing.T) {
	sim := newTestSim(t, nil)
	aodv := sim.DroneByID[0].routing

	seen := make([]int, 0)
	for destID := 1; destID <= 3; destID++ {
		aodv.sendRreq(sim.evtMgr, destID)
		seen = append(seen, aodv.seqNum)
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRreqDuplicateSuppression(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) { p.NumberOfDrones = 4 })
	drone := sim.DroneByID[1]
	aodv := drone.routing

	rreq := createRreqPacket(sim, 0, 3, 1, 1, 0, 0)
	aodv.handleRreq(sim.evtMgr, clonePckt(rreq), 0)
	forwardedOnce := len(drone.queue)
	assert.Equal(t, 1, forwardedOnce, "first copy of a flood is re-broadcast")

	// the same (originator, broadcast id) pair again: dropped silently
	aodv.handleRreq(sim.evtMgr, clonePckt(rreq), 2)
	assert.Equal(t, forwardedOnce, len(drone.queue))
}

func TestRreqAtDestinationAnswersRrep(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) { p.NumberOfDrones = 3 })
	dest := sim.DroneByID[2]
	aodv := dest.routing

	rreq := createRreqPacket(sim, 0, 2, 1, 4, 0, 0)
	rreq.HopCount = 1
	aodv.handleRreq(sim.evtMgr, rreq, 1)

	// reverse route to the originator installed via the sender
	reverse := aodv.table[0]
	require.NotNil(t, reverse)
	assert.Equal(t, 1, reverse.NextHop)
	assert.Equal(t, 2, reverse.HopCount)
	assert.Equal(t, 4, reverse.SeqNum)

	// the destination bumps its own sequence and unicasts the reply
	require.Len(t, dest.queue, 1)
	rrep := dest.queue[0]
	assert.Equal(t, RrepType, rrep.PcktType)
	assert.Equal(t, Unicast, rrep.Mode)
	assert.Equal(t, 1, rrep.NextHopID)
	assert.Equal(t, 0, rrep.OriginatorID)
	assert.Equal(t, 1, rrep.DestSeqNum)
	assert.Equal(t, 0, rrep.HopCount)
}

func TestRrepAtOriginatorDrainsBuffer(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) { p.NumberOfDrones = 3 })
	origin := sim.DroneByID[0]
	aodv := origin.routing

	// two packets parked awaiting discovery of destination 2
	pckt1 := createDataPacket(sim, 0, 2, 1024, 0)
	pckt2 := createDataPacket(sim, 0, 2, 1024, 0)
	aodv.packetBuffer[2] = []*Packet{pckt1, pckt2}

	rrep := createRrepPacket(sim, 2, 0, 2, 7, 0, 0)
	aodv.handleRrep(sim.evtMgr, rrep, 1)

	// the forward route is installed and the buffer drained into the queue
	entry := aodv.table[2]
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.NextHop)

	_, buffered := aodv.packetBuffer[2]
	assert.False(t, buffered)
	require.Len(t, origin.queue, 2)
	assert.Equal(t, 1, pckt1.NextHopID)
	assert.Equal(t, 1, pckt2.NextHopID)
}

func TestRrepForwardedAlongReversePath(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) { p.NumberOfDrones = 4 })
	relay := sim.DroneByID[1]
	aodv := relay.routing

	// reverse route toward the originator, installed by the RREQ pass
	aodv.table[0] = &routeEntry{NextHop: 0, HopCount: 1, SeqNum: 2, Expiry: 10 * 1e6}

	rrep := createRrepPacket(sim, 3, 0, 3, 9, 0, 0)
	aodv.handleRrep(sim.evtMgr, rrep, 2)

	// forward route learned, reply forwarded one hop with its count bumped
	forward := aodv.table[3]
	require.NotNil(t, forward)
	assert.Equal(t, 2, forward.NextHop)

	require.Len(t, relay.queue, 1)
	assert.Equal(t, rrep, relay.queue[0])
	assert.Equal(t, 0, rrep.NextHopID)
	assert.Equal(t, 1, rrep.HopCount)
}

func TestHandleRerrInvalidatesMatchingEntries(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) { p.NumberOfDrones = 4 })
	aodv := sim.DroneByID[0].routing

	aodv.table[2] = &routeEntry{NextHop: 1, HopCount: 2, SeqNum: 4, Expiry: 10 * 1e6}
	aodv.table[3] = &routeEntry{NextHop: 9, HopCount: 2, SeqNum: 4, Expiry: 10 * 1e6}

	rerr := createRerrPacket(sim, 1, 0, []unreachableDest{{DestID: 2, SeqNum: 4}, {DestID: 3, SeqNum: 4}})
	aodv.handleRerr(sim.evtMgr, rerr, 1)

	// only the entry actually routed through the reporting neighbor goes
	_, p2 := aodv.table[2]
	_, p3 := aodv.table[3]
	assert.False(t, p2)
	assert.True(t, p3)
}
