package uavnet

// mobility.go holds the mobility models that author drone coordinates:
// 3-D random waypoint, leader-follower formation flight, and 3-D
// Gauss-Markov.  Every model produces small position steps on a fixed
// virtual-time cadence and clips to the bounding box.  A model writes a
// drone's coordinates only while it is the drone's installed model; a
// mid-run swap deactivates the old model before installing the new one.

import (
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/rngstream"
)

// position step cadence, 0.1 s
const mobilityIntervalUs = 0.1 * 1e6

// MobilityModel is the closed variant set of position authors
type MobilityModel interface {
	modelName() string
	startMobility(evtMgr *evtm.EventManager)
	deactivate()
}

// clipToBox clamps pos to the simulation volume
func clipToBox(cfg *Parameters, pos [3]float64) [3]float64 {
	pos[0] = math.Max(0.0, math.Min(pos[0], cfg.MapLength))
	pos[1] = math.Max(0.0, math.Min(pos[1], cfg.MapWidth))
	pos[2] = math.Max(0.0, math.Min(pos[2], cfg.MapHeight))
	return pos
}

// moveToward advances cur toward dest by at most step, returning the new
// position and whether dest was reached
func moveToward(cur, dest [3]float64, step float64) ([3]float64, bool) {
	dist := distance3d(cur, dest)
	if dist <= step {
		return dest, true
	}
	frac := step / dist
	for idx := 0; idx < 3; idx++ {
		cur[idx] += (dest[idx] - cur[idx]) * frac
	}
	return cur, false
}

// setHeading updates the drone's velocity vector and attitude angles to
// point from cur toward dest at the given speed
func (drone *Drone) setHeading(cur, dest [3]float64, speed float64) {
	dist := distance3d(cur, dest)
	if dist == 0.0 || speed == 0.0 {
		drone.Velocity = [3]float64{}
		return
	}
	for idx := 0; idx < 3; idx++ {
		drone.Velocity[idx] = (dest[idx] - cur[idx]) / dist * speed
	}
	drone.Direction = math.Atan2(drone.Velocity[1], drone.Velocity[0])
	sinPitch := math.Max(-1.0, math.Min(1.0, drone.Velocity[2]/speed))
	drone.Pitch = math.Asin(sinPitch)
}

// ---------------------------------------------------------------- random waypoint

// RandomWaypoint3D picks uniform random waypoints in the box, flies to
// each at the drone's speed, pauses up to a second, and repeats
type RandomWaypoint3D struct {
	drone  *Drone
	rng    *rngstream.RngStream
	active bool

	dest    [3]float64
	hasDest bool
}

// CreateRandomWaypoint3D is a constructor
func CreateRandomWaypoint3D(drone *Drone) *RandomWaypoint3D {
	rwp := new(RandomWaypoint3D)
	rwp.drone = drone
	rwp.rng = drone.rngMobility
	return rwp
}

func (rwp *RandomWaypoint3D) modelName() string { return "random-waypoint-3d" }

func (rwp *RandomWaypoint3D) deactivate() { rwp.active = false }

func (rwp *RandomWaypoint3D) startMobility(evtMgr *evtm.EventManager) {
	if rwp.active {
		return
	}
	rwp.active = true
	evtMgr.Schedule(rwp, nil, randomWaypointStep, usToTime(mobilityIntervalUs))
}

func (rwp *RandomWaypoint3D) pickWaypoint() [3]float64 {
	cfg := rwp.drone.sim.cfg
	return [3]float64{
		rwp.rng.RandU01() * cfg.MapLength,
		rwp.rng.RandU01() * cfg.MapWidth,
		rwp.rng.RandU01() * cfg.MapHeight,
	}
}

// randomWaypointStep advances the drone one step toward its waypoint,
// pausing a uniform 0..1 s interval on arrival before picking the next
func randomWaypointStep(evtMgr *evtm.EventManager, context any, data any) any {
	rwp := context.(*RandomWaypoint3D)
	drone := rwp.drone
	if !rwp.active {
		return nil
	}

	// an externally-set target overrides the random waypoint
	if drone.TargetPosition != nil {
		rwp.dest = *drone.TargetPosition
		rwp.hasDest = true
	}
	if !rwp.hasDest {
		rwp.dest = rwp.pickWaypoint()
		rwp.hasDest = true
	}

	step := drone.Speed * (mobilityIntervalUs / 1e6)
	newPos, arrived := moveToward(drone.Coords, rwp.dest, step)
	drone.setHeading(drone.Coords, rwp.dest, drone.Speed)
	drone.Coords = clipToBox(drone.sim.cfg, newPos)

	if arrived {
		rwp.hasDest = false
		drone.TargetPosition = nil
		drone.Velocity = [3]float64{}
		pauseUs := rwp.rng.RandU01() * 1e6
		evtMgr.Schedule(rwp, nil, randomWaypointStep, usToTime(mobilityIntervalUs+pauseUs))
		return nil
	}

	evtMgr.Schedule(rwp, nil, randomWaypointStep, usToTime(mobilityIntervalUs))
	return nil
}

// ---------------------------------------------------------------- leader-follower

// LeaderFollower chases leader_position + offset with a speed-bounded
// step.  The leader is referenced by id through the node registry, not
// by an owning handle.
type LeaderFollower struct {
	drone    *Drone
	leaderID int
	offset   [3]float64
	active   bool
}

// CreateLeaderFollower is a constructor
func CreateLeaderFollower(drone *Drone, leaderID int, offset [3]float64) *LeaderFollower {
	lf := new(LeaderFollower)
	lf.drone = drone
	lf.leaderID = leaderID
	lf.offset = offset
	return lf
}

func (lf *LeaderFollower) modelName() string { return "leader-follower" }

func (lf *LeaderFollower) deactivate() { lf.active = false }

func (lf *LeaderFollower) startMobility(evtMgr *evtm.EventManager) {
	if lf.active {
		return
	}
	lf.active = true
	evtMgr.Schedule(lf, nil, leaderFollowerStep, usToTime(mobilityIntervalUs))
}

// leaderFollowerStep recomputes the formation slot from the leader's
// current position and moves toward it.  Once converged the follower
// snaps to the slot and mirrors the leader's velocity.
func leaderFollowerStep(evtMgr *evtm.EventManager, context any, data any) any {
	lf := context.(*LeaderFollower)
	drone := lf.drone
	if !lf.active {
		return nil
	}

	leader := drone.sim.DroneByID[lf.leaderID]
	target := [3]float64{
		leader.Coords[0] + lf.offset[0],
		leader.Coords[1] + lf.offset[1],
		leader.Coords[2] + lf.offset[2],
	}
	target = clipToBox(drone.sim.cfg, target)
	drone.TargetPosition = &target

	dist := distance3d(drone.Coords, target)
	if dist > 0.1 {
		step := drone.Speed * (mobilityIntervalUs / 1e6)
		drone.setHeading(drone.Coords, target, drone.Speed)
		newPos, _ := moveToward(drone.Coords, target, step)
		drone.Coords = clipToBox(drone.sim.cfg, newPos)
	} else {
		// in formation: hold the slot and match the leader's motion
		drone.Coords = target
		drone.Velocity = leader.Velocity
		drone.Direction = leader.Direction
		drone.Pitch = leader.Pitch
	}

	evtMgr.Schedule(lf, nil, leaderFollowerStep, usToTime(mobilityIntervalUs))
	return nil
}

// ---------------------------------------------------------------- gauss-markov

// gauss-markov memory factor
const gmAlpha = 0.85

// GaussMarkov3D evolves heading and pitch as first-order autoregressive
// processes around their initial means, giving smooth correlated motion
type GaussMarkov3D struct {
	drone  *Drone
	rng    *rngstream.RngStream
	active bool

	directionMean float64
	pitchMean     float64
}

// CreateGaussMarkov3D is a constructor
func CreateGaussMarkov3D(drone *Drone) *GaussMarkov3D {
	gm := new(GaussMarkov3D)
	gm.drone = drone
	gm.rng = drone.rngMobility
	gm.directionMean = drone.Direction
	gm.pitchMean = drone.Pitch
	return gm
}

func (gm *GaussMarkov3D) modelName() string { return "gauss-markov-3d" }

func (gm *GaussMarkov3D) deactivate() { gm.active = false }

func (gm *GaussMarkov3D) startMobility(evtMgr *evtm.EventManager) {
	if gm.active {
		return
	}
	gm.active = true
	evtMgr.Schedule(gm, nil, gaussMarkovStep, usToTime(mobilityIntervalUs))
}

// gaussian draws a standard normal variate by Box-Muller from the
// model's uniform stream
func gaussian(rng *rngstream.RngStream) float64 {
	u1 := rng.RandU01()
	for u1 == 0.0 {
		u1 = rng.RandU01()
	}
	u2 := rng.RandU01()
	return math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
}

func gaussMarkovStep(evtMgr *evtm.EventManager, context any, data any) any {
	gm := context.(*GaussMarkov3D)
	drone := gm.drone
	if !gm.active {
		return nil
	}

	decay := math.Sqrt(1.0 - gmAlpha*gmAlpha)
	drone.Direction = gmAlpha*drone.Direction + (1.0-gmAlpha)*gm.directionMean + decay*0.3*gaussian(gm.rng)
	drone.Pitch = gmAlpha*drone.Pitch + (1.0-gmAlpha)*gm.pitchMean + decay*0.05*gaussian(gm.rng)

	dt := mobilityIntervalUs / 1e6
	drone.Velocity = [3]float64{
		drone.Speed * math.Cos(drone.Direction) * math.Cos(drone.Pitch),
		drone.Speed * math.Sin(drone.Direction) * math.Cos(drone.Pitch),
		drone.Speed * math.Sin(drone.Pitch),
	}
	pos := drone.Coords
	for idx := 0; idx < 3; idx++ {
		pos[idx] += drone.Velocity[idx] * dt
	}
	drone.Coords = clipToBox(drone.sim.cfg, pos)

	evtMgr.Schedule(gm, nil, gaussMarkovStep, usToTime(mobilityIntervalUs))
	return nil
}
