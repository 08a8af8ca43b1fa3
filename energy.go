package uavnet

// energy.go implements the per-drone energy budget.  A background
// process deducts, every 100 ms of virtual time, the energy drawn by
// flight (a rotary-wing power model parameterized by speed) plus the
// energy drawn by the radio in its current state.  A drone whose budget
// reaches zero transitions to sleep and stays there.

import (
	"math"

	"github.com/iti/evt/evtm"
)

// CommState enumerates the radio states the power table is keyed on
type CommState int

const (
	CommIdle CommState = iota
	CommTx
	CommRx
	CommSleep
)

var csToStr map[CommState]string = map[CommState]string{
	CommIdle: "idle", CommTx: "tx", CommRx: "rx", CommSleep: "sleep",
}

func (cs CommState) String() string {
	return csToStr[cs]
}

// rotary-wing airframe constants, after Zeng's model.  delta is the
// profile drag coefficient, rho the air density (kg/m^3), s the rotor
// solidity, a the rotor disc area (m^2), omega the blade angular
// velocity (rad/s), r the rotor radius (m), k the induced-power
// correction, w the aircraft weight (N), uTip the blade tip speed,
// v0 the mean induced velocity at hover, d0 the fuselage drag ratio.
const (
	bladeDelta = 0.012
	airRho     = 1.225
	rotorS     = 0.05
	rotorA     = 0.79
	bladeOmega = 400.0
	rotorR     = 0.5
	inducedK   = 0.1
	airframeW  = 100.0
	bladeUTip  = 500.0
	hoverV0    = 7.2
	fuselageD0 = 0.3
)

// energy accounting step, 100 ms
const energyIntervalUs = 0.1 * 1e6

// EnergyModel tracks one drone's radio state and drives its accounting loop
type EnergyModel struct {
	drone *Drone
	state CommState
}

// createEnergyModel is a constructor
func createEnergyModel(drone *Drone) *EnergyModel {
	em := new(EnergyModel)
	em.drone = drone
	em.state = CommIdle
	return em
}

// setState records a radio state transition.  Transitions bracket the
// physical event exactly: MAC sets tx around a frame's air time, the
// receive path sets rx around frame decode.  A sleeping drone's state
// is pinned to sleep.
func (em *EnergyModel) setState(state CommState) {
	if em.drone.Sleep {
		return
	}
	em.state = state
}

// commPower returns the radio power draw in the current state, in watts
func (em *EnergyModel) commPower() float64 {
	cfg := em.drone.sim.cfg
	switch em.state {
	case CommTx:
		return cfg.PowerTx
	case CommRx:
		return cfg.PowerRx
	case CommSleep:
		return cfg.PowerSleep
	default:
		return cfg.PowerIdle
	}
}

// flightPower evaluates the rotary-wing power curve at the given
// speed: blade profile power grows with speed squared, induced power
// falls from its hover peak, parasite power grows with speed cubed.
// The sum is U-shaped: it falls from hover to a minimum at low cruise
// speed (about 20-25 m/s with these constants) and climbs beyond it.
func flightPower(speed float64) float64 {
	p0 := (bladeDelta / 8.0) * airRho * rotorS * rotorA * math.Pow(bladeOmega, 3) * math.Pow(rotorR, 3)
	pi := (1.0 + inducedK) * math.Pow(airframeW, 1.5) / math.Sqrt(2.0*airRho*rotorA)

	bladeProfile := p0 * (1.0 + 3.0*speed*speed/(bladeUTip*bladeUTip))
	induced := pi * math.Sqrt(math.Sqrt(1.0+math.Pow(speed, 4)/(4.0*math.Pow(hoverV0, 4)))-
		speed*speed/(2.0*hoverV0*hoverV0))
	parasite := 0.5 * fuselageD0 * airRho * rotorS * rotorA * math.Pow(speed, 3)

	return bladeProfile + induced + parasite
}

// startEnergyMonitor schedules the first accounting step
func (em *EnergyModel) startEnergyMonitor(evtMgr *evtm.EventManager) {
	evtMgr.Schedule(em, nil, energyMonitor, usToTime(energyIntervalUs))
}

// energyMonitor deducts one interval's worth of flight and radio energy
// and reschedules itself.  On exhaustion the drone transitions to sleep:
// no further generation or transmission, receive-side bookkeeping ends.
func energyMonitor(evtMgr *evtm.EventManager, context any, data any) any {
	em := context.(*EnergyModel)
	drone := em.drone

	if drone.Sleep {
		return nil
	}

	totalPower := flightPower(drone.Speed) + em.commPower()
	drone.ResidualEnergy -= totalPower * (energyIntervalUs / 1e6)
	AddEnergyTrace(drone.sim.traceMgr, evtMgr.CurrentTime(), drone, em.state)

	if drone.ResidualEnergy <= 0.0 {
		drone.ResidualEnergy = 0.0
		drone.DeathTime = drone.sim.nowUs()
		drone.Sleep = true
		em.state = CommSleep
		drone.log().Info("drone exhausted, entering sleep")
		return nil
	}

	evtMgr.Schedule(em, nil, energyMonitor, usToTime(energyIntervalUs))
	return nil
}
