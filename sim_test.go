package uavnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sanity run: a small swarm under default-ish parameters completes
// without invariant violations and terminates no packet more than once
func TestSanityRun(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 0.5 * 1e6
		p.NumberOfDrones = 10
		p.PacketGenerationRate = 5.0
		p.DataLossProbability = 0.05
		p.Seed = 2024
	})
	sim.Run()

	mtrc := sim.metrics
	assert.Greater(t, mtrc.GeneratedNum, 0)

	terminal := mtrc.DeliveredNum() + mtrc.DroppedQueue + mtrc.DroppedTTL + mtrc.DroppedRetry
	assert.LessOrEqual(t, terminal, mtrc.GeneratedNum,
		"no packet may terminate more than once")

	for _, drone := range sim.drones {
		assert.GreaterOrEqual(t, drone.ResidualEnergy, 0.0)
	}
}

// two nodes in range with a clean channel: discovery succeeds and the
// data flows end to end
func TestRouteDiscoveryDeliversData(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 3 * 1e6
		p.NumberOfDrones = 2
		p.StaticCase = true
		p.DataLossProbability = 0.0
		p.PacketGenerationRate = 5.0
	})
	sim.DroneByID[0].Coords = [3]float64{0, 0, 0}
	sim.DroneByID[1].Coords = [3]float64{50, 0, 0}

	sim.Run()

	mtrc := sim.metrics
	require.Greater(t, mtrc.GeneratedNum, 0)
	assert.Greater(t, mtrc.DeliveredNum(), 0, "a route must be discovered and used")
	assert.Greater(t, mtrc.Pdr(), 0.0)
	assert.Greater(t, mtrc.MeanLatencyUs(), 0.0)
	assert.Greater(t, mtrc.ControlPcktNum, 0, "discovery costs control packets")
}

// identical seed and parameters reproduce the metric read-out bit for bit
func TestDeterministicReplay(t *testing.T) {
	runOnce := func() MetricsSummary {
		sim := newTestSim(t, func(p *Parameters) {
			p.SimTime = 0.5 * 1e6
			p.NumberOfDrones = 8
			p.PacketGenerationRate = 5.0
			p.DataLossProbability = 0.05
			p.Seed = 31
		})
		sim.Run()
		return sim.metrics.Summary(sim.cfg.SimTime)
	}

	first := runOnce()
	second := runOnce()
	require.Equal(t, first, second)
}

// a neighbor whose hellos stop arriving ages out of the table
func TestNeighborExpiry(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 3 * 1e6
		p.StaticCase = true
		p.DataLossProbability = 1.0 // no hello ever decodes
	})
	drone := sim.DroneByID[0]
	drone.neighbors[1] = 0.4 * 1e6

	sim.Run()

	_, present := drone.neighbors[1]
	assert.False(t, present, "expired neighbors must leave the table")
}

// a full transmit queue tail-drops with a counted drop
func TestQueueOverflowDrops(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) { p.MaxQueueSize = 2 })
	drone := sim.DroneByID[0]

	for idx := 0; idx < 3; idx++ {
		pckt := createDataPacket(sim, 0, 1, 1024, 0)
		drone.enqueueTransmit(sim.evtMgr, pckt)
	}

	assert.Len(t, drone.queue, 2)
	assert.Equal(t, 1, sim.metrics.DroppedQueue)
}

// a sleeping drone neither generates nor enqueues
func TestSleepingDroneRejectsWork(t *testing.T) {
	sim := newTestSim(t, nil)
	drone := sim.DroneByID[0]
	drone.Sleep = true

	pckt := createDataPacket(sim, 0, 1, 1024, 0)
	assert.False(t, drone.enqueueTransmit(sim.evtMgr, pckt))
	assert.Empty(t, drone.queue)
}

func TestSnapshotContract(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 2.5 * 1e6
		p.NumberOfDrones = 5
	})
	sim.Run()

	snap := sim.LatestSnapshot()
	require.Len(t, snap.Nodes, 5)
	assert.Greater(t, snap.TimeUs, 0.0)
	assert.GreaterOrEqual(t, snap.Components, 1)
	assert.LessOrEqual(t, snap.Components, 5)

	for _, node := range snap.Nodes {
		inBox(t, sim.cfg, node.Coords)
		assert.GreaterOrEqual(t, node.ResidualEnergy, 0.0)
	}
}

// the external formation command is honored at the next poll instant
func TestTriggerFormationChangeFromOutside(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 3 * 1e6
		p.NumberOfDrones = 4
	})
	sim.TriggerFormationChange()
	sim.Run()

	assert.Equal(t, "random-waypoint-3d", sim.DroneByID[0].mobility.modelName())
	for _, drone := range sim.drones[1:] {
		assert.Equal(t, "leader-follower", drone.mobility.modelName())
	}
}

func TestPacketIDsAscend(t *testing.T) {
	sim := newTestSim(t, nil)
	first := createDataPacket(sim, 0, 1, 1024, 0)
	second := createHelloPacket(sim, 0, 0)
	third := createAckPacket(sim, 1, 0, 0, first)

	assert.Less(t, first.PcktID, second.PcktID)
	assert.Less(t, second.PcktID, third.PcktID)
	assert.Equal(t, first.PcktID, third.AckedPcktID)
}
