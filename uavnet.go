package uavnet

// uavnet.go builds the system data structures: the simulator owning the
// virtual timeline, the drone registry, the shared channel, and the
// run-level controls (formation trigger, periodic snapshot refresh).

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
)

// usToTime converts a span in microseconds to the scheduler's time type
func usToTime(us float64) vrtime.Time {
	return vrtime.SecondsToTime(us / 1e6)
}

// logOneMinus guards the exponential-variate draw against a unit sample
func logOneMinus(u01 float64) float64 {
	if u01 >= 1.0 {
		u01 = 0.9999999999
	}
	return math.Log(1.0 - u01)
}

// snapshot refresh and external-command poll cadence, 1 s
const snapshotIntervalUs = 1.0 * 1e6

// Simulator owns the virtual timeline and every entity on it
type Simulator struct {
	cfg    *Parameters
	evtMgr *evtm.EventManager

	channel *wirelessChannel
	metrics *Metrics

	drones    []*Drone
	DroneByID map[int]*Drone

	traceMgr *TraceManager
	logger   *logrus.Logger

	pcktIDCounter int

	// external-command and snapshot state, shared with the visualizer thread
	formationRequested atomic.Bool
	formationDone      bool
	snapMu             sync.Mutex
	lastSnap           Snapshot

	// onSample, when set, is invoked on the cooperative thread at each
	// snapshot refresh.  Experiment drivers use it for time series.
	onSample func(Snapshot)
}

// CreateSimulator validates the configuration and builds the world:
// channel, metrics, and the drone swarm at random start positions.
// The master RNG seed is set here, before any stream is created, so a
// fixed seed and parameter set reproduce a run exactly.
func CreateSimulator(cfg *Parameters, traceMgr *TraceManager) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rngstream.SetRngStreamMasterSeed(uint64(cfg.Seed))

	sim := new(Simulator)
	sim.cfg = cfg
	sim.evtMgr = evtm.New()
	sim.traceMgr = traceMgr
	sim.logger = logrus.New()
	sim.logger.SetLevel(logrus.WarnLevel)

	sim.channel = createWirelessChannel(sim)
	sim.metrics = createMetrics(sim)

	sim.drones = make([]*Drone, 0, cfg.NumberOfDrones)
	sim.DroneByID = make(map[int]*Drone)

	topoRng := rngstream.New("topology")
	for droneID := 0; droneID < cfg.NumberOfDrones; droneID++ {
		coords := [3]float64{
			topoRng.RandU01() * cfg.MapLength,
			topoRng.RandU01() * cfg.MapWidth,
			topoRng.RandU01() * cfg.MapHeight,
		}

		speed := cfg.DefaultSpeed
		if cfg.Heterogeneous {
			speed = float64(topoRng.RandInt(5, 60))
		}

		drone := createDrone(sim, droneID, coords, speed)
		sim.drones = append(sim.drones, drone)
		sim.DroneByID[droneID] = drone

		if traceMgr != nil {
			traceMgr.RecordDroneName(droneID, fmt.Sprintf("uav-%d", droneID))
		}
	}
	return sim, nil
}

// SetLogLevel adjusts the verbosity of the simulator's logger
func (sim *Simulator) SetLogLevel(level logrus.Level) {
	sim.logger.SetLevel(level)
}

// Metrics exposes the run's statistics accumulator
func (sim *Simulator) Metrics() *Metrics {
	return sim.metrics
}

// Drones exposes the node list, ordered by id
func (sim *Simulator) Drones() []*Drone {
	return sim.drones
}

// Cfg exposes the immutable run configuration
func (sim *Simulator) Cfg() *Parameters {
	return sim.cfg
}

// nowUs is the current virtual time in microseconds
func (sim *Simulator) nowUs() float64 {
	return sim.evtMgr.CurrentSeconds() * 1e6
}

// NowUs is the exported read of the virtual clock
func (sim *Simulator) NowUs() float64 {
	return sim.nowUs()
}

// nxtPcktID creates a packet id unique and ascending within the run
func (sim *Simulator) nxtPcktID() int {
	sim.pcktIDCounter++
	return sim.pcktIDCounter
}

// Run launches every drone's processes and drives the timeline to the
// configured horizon
func (sim *Simulator) Run() {
	for _, drone := range sim.drones {
		drone.startProcesses(sim.evtMgr)
	}

	if sim.cfg.FormationChangeTime >= 0.0 {
		sim.evtMgr.Schedule(sim, nil, applyFormationChange, usToTime(sim.cfg.FormationChangeTime))
	}

	sim.evtMgr.Schedule(sim, nil, refreshSnapshot, usToTime(snapshotIntervalUs))

	sim.evtMgr.Run(sim.cfg.SimTime / 1e6)

	sim.storeSnapshot(sim.buildSnapshot())
}

// TriggerFormationChange requests the swap to formation flight.  Safe to
// call from another thread; the request is honored at the next
// command-poll instant on the cooperative thread.
func (sim *Simulator) TriggerFormationChange() {
	sim.formationRequested.Store(true)
}

// formationOffset lays the swarm out in a V behind the leader: rows of
// two, fanning outward, fifty meters per row
func formationOffset(droneID int) [3]float64 {
	if droneID == 0 {
		return [3]float64{}
	}
	row := float64((droneID-1)/2 + 1)
	side := 1.0
	if (droneID-1)%2 != 0 {
		side = -1.0
	}
	return [3]float64{-row * 50.0, side * row * 50.0, 0.0}
}

// applyFormationChange swaps every follower to leader-follower mobility.
// The leader (drone 0) keeps its current model.  The old models cease
// producing position updates from this instant.
func applyFormationChange(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulator)
	if sim.formationDone {
		return nil
	}
	sim.formationDone = true
	sim.logger.WithField("t", sim.nowUs()).Info("formation change triggered")

	for _, drone := range sim.drones {
		if drone.ID == 0 {
			continue
		}
		drone.mobility.deactivate()
		follower := CreateLeaderFollower(drone, 0, formationOffset(drone.ID))
		drone.mobility = follower
		if !sim.cfg.StaticCase {
			follower.startMobility(evtMgr)
		}
	}
	return nil
}

// SwapMobility replaces a drone's mobility model at the current
// virtual-time instant.  The old model stops authoring coordinates; the
// new one becomes their sole author.
func (sim *Simulator) SwapMobility(drone *Drone, model MobilityModel) {
	drone.mobility.deactivate()
	drone.mobility = model
	if !sim.cfg.StaticCase {
		model.startMobility(sim.evtMgr)
	}
}

// refreshSnapshot rebuilds the visualizer snapshot and honors any
// pending external commands, once per second of virtual time
func refreshSnapshot(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulator)

	if sim.formationRequested.Swap(false) {
		applyFormationChange(evtMgr, sim, nil)
	}

	snap := sim.buildSnapshot()
	sim.storeSnapshot(snap)
	if sim.onSample != nil {
		sim.onSample(snap)
	}

	evtMgr.Schedule(sim, nil, refreshSnapshot, usToTime(snapshotIntervalUs))
	return nil
}
