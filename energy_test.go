package uavnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlightPowerCurveIsUShaped(t *testing.T) {
	hover := flightPower(0.0)
	slow := flightPower(5.0)
	cruise := flightPower(15.0)
	fast := flightPower(40.0)
	faster := flightPower(50.0)

	// the minimum sits near low speed, below hover
	assert.Less(t, cruise, hover)
	assert.Less(t, slow, hover)

	// past the minimum the curve climbs again
	assert.Greater(t, fast, cruise)
	assert.Greater(t, faster, fast)
}

func TestCommPowerTable(t *testing.T) {
	sim := newTestSim(t, nil)
	em := sim.DroneByID[0].energy

	em.setState(CommTx)
	assert.Equal(t, 1.5, em.commPower())
	em.setState(CommRx)
	assert.Equal(t, 1.0, em.commPower())
	em.setState(CommIdle)
	assert.Equal(t, 0.1, em.commPower())
}

func TestEnergyAccountingOverRun(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 1 * 1e6
		p.StaticCase = true
	})
	sim.Run()

	// no traffic: every drone idles and burns flight + idle power for
	// the whole second, within one 100 ms accounting step
	expectedPower := flightPower(sim.cfg.DefaultSpeed) + sim.cfg.PowerIdle
	for _, drone := range sim.drones {
		consumed := sim.cfg.InitialEnergy - drone.ResidualEnergy
		assert.InDelta(t, expectedPower*1.0, consumed, expectedPower*0.15)
		assert.GreaterOrEqual(t, drone.ResidualEnergy, 0.0)
	}
}

func TestExhaustionTransitionsToSleep(t *testing.T) {
	sim := newTestSim(t, func(p *Parameters) {
		p.SimTime = 2 * 1e6
		p.StaticCase = true
		p.InitialEnergy = 100.0 // burns out well inside the horizon
	})
	sim.Run()

	for _, drone := range sim.drones {
		require.True(t, drone.Sleep)
		assert.Equal(t, 0.0, drone.ResidualEnergy)
		assert.GreaterOrEqual(t, drone.DeathTime, 0.0)
		assert.Equal(t, CommSleep, drone.energy.state)
	}
}

func TestSleepingDroneStateIsPinned(t *testing.T) {
	sim := newTestSim(t, nil)
	drone := sim.DroneByID[0]
	drone.Sleep = true
	drone.energy.state = CommSleep

	drone.energy.setState(CommTx)
	assert.Equal(t, CommSleep, drone.energy.state)
}
