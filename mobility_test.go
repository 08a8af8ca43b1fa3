package uavnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inBox(t *testing.T, cfg *Parameters, pos [3]float64) {
	t.Helper()
	assert.GreaterOrEqual(t, pos[0], 0.0)
	assert.LessOrEqual(t, pos[0], cfg.MapLength)
	assert.GreaterOrEqual(t, pos[1], 0.0)
	assert.LessOrEqual(t, pos[1], cfg.MapWidth)
	assert.GreaterOrEqual(t, pos[2], 0.0)
	assert.LessOrEqual(t, pos[2], cfg.MapHeight)
}

func TestRandomWaypointStaysInBox(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 5 * 1e6
	})
	start := make(map[int][3]float64)
	for _, drone := range sim.drones {
		start[drone.ID] = drone.Coords
	}

	sim.Run()

	moved := false
	for _, drone := range sim.drones {
		inBox(t, sim.cfg, drone.Coords)
		if distance3d(start[drone.ID], drone.Coords) > 1.0 {
			moved = true
		}
	}
	assert.True(t, moved, "random waypoint should move the swarm")
}

func TestStaticCaseFreezesCoordinates(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 2 * 1e6
		p.StaticCase = true
	})
	start := make(map[int][3]float64)
	for _, drone := range sim.drones {
		start[drone.ID] = drone.Coords
	}

	sim.Run()

	for _, drone := range sim.drones {
		assert.Equal(t, start[drone.ID], drone.Coords)
	}
}

func TestLeaderFollowerConvergence(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 30 * 1e6
		p.NumberOfDrones = 3
		p.DefaultSpeed = 40.0
		p.InitialEnergy = 200 * 1e3
		p.FormationChangeTime = 2 * 1e6
	})

	// pin the leader so followers close the gap
	leader := sim.DroneByID[0]
	leader.Speed = 0.0

	sim.Run()

	for _, drone := range sim.drones[1:] {
		require.Equal(t, "leader-follower", drone.mobility.modelName())
		target := [3]float64{
			leader.Coords[0] + formationOffset(drone.ID)[0],
			leader.Coords[1] + formationOffset(drone.ID)[1],
			leader.Coords[2] + formationOffset(drone.ID)[2],
		}
		target = clipToBox(sim.cfg, target)
		assert.Less(t, distance3d(drone.Coords, target), 5.0,
			"follower %d should settle into its slot", drone.ID)
		require.NotNil(t, drone.TargetPosition)
	}
}

func TestMidRunSwapSilencesOldModel(t *testing.T) {
	sim := newTestSim(t, nil)
	drone := sim.DroneByID[1]

	old := drone.mobility.(*RandomWaypoint3D)
	old.active = true

	follower := CreateLeaderFollower(drone, 0, [3]float64{-50, -50, 0})
	sim.SwapMobility(drone, follower)

	assert.False(t, old.active, "deactivated model must stop producing updates")
	assert.Equal(t, "leader-follower", drone.mobility.modelName())
	assert.True(t, follower.active)
}

func TestFormationOffsetsFormAV(t *testing.T) {
	assert.Equal(t, [3]float64{}, formationOffset(0))
	assert.Equal(t, [3]float64{-50, 50, 0}, formationOffset(1))
	assert.Equal(t, [3]float64{-50, -50, 0}, formationOffset(2))
	assert.Equal(t, [3]float64{-100, 100, 0}, formationOffset(3))
	assert.Equal(t, [3]float64{-100, -100, 0}, formationOffset(4))
}

func TestGaussMarkovStaysInBox(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 5 * 1e6
	})
	drone := sim.DroneByID[0]
	sim.SwapMobility(drone, CreateGaussMarkov3D(drone))

	sim.Run()
	inBox(t, sim.cfg, drone.Coords)
}

func TestMoveTowardSnapsAtDestination(t *testing.T) {
	cur := [3]float64{0, 0, 0}
	dest := [3]float64{3, 4, 0}

	next, arrived := moveToward(cur, dest, 2.5)
	assert.False(t, arrived)
	assert.InDelta(t, 1.5, next[0], 1e-9)
	assert.InDelta(t, 2.0, next[1], 1e-9)

	next, arrived = moveToward(cur, dest, 10.0)
	assert.True(t, arrived)
	assert.Equal(t, dest, next)
}
