package uavnet

// mac.go implements the medium access variants.  CSMA/CA is the
// default: sense until the channel has been idle, count down DIFS plus a
// random backoff (freezing when the channel goes busy), hold the
// sub-channel token for the frame's air time, and for unicast frames
// wait for the link-layer ACK, doubling the contention window and
// retrying on timeout.  Pure ALOHA transmits without sensing and
// retries after a random hold-off.

import (
	"fmt"

	"github.com/iti/evt/evtm"
	"github.com/iti/rngstream"
)

// macProtocol is the closed variant set of link layers a drone may install
type macProtocol interface {
	sendPckt(evtMgr *evtm.EventManager, pckt *Packet)
	handleAck(evtMgr *evtm.EventManager, ack *Packet)
	macBusy() bool
}

// createMacProtocol instantiates the variant named in the configuration
func createMacProtocol(drone *Drone) macProtocol {
	switch drone.sim.cfg.MacProtocol {
	case "pure-aloha":
		return createPureAloha(drone)
	default:
		return createCsmaCa(drone)
	}
}

// ------------------------------------------------------------------ CSMA/CA

// CsmaCa is the per-drone carrier-sense state machine
type CsmaCa struct {
	drone     *Drone
	rng       *rngstream.RngStream
	phy       *phyLayer
	channelID int

	busy bool    // a frame is in flight through the state machine
	pckt *Packet // the frame being served

	// countdown state.  towaitUs is the remaining DIFS + backoff;
	// backoffUs the backoff portion, preserved across freezes.
	towaitUs       float64
	backoffUs      float64
	counting       bool
	countdownStart float64
	epoch          int // stale-wakeup guard for countdown completions

	awaitingAck bool
	awaitEpoch  int // stale-wakeup guard for ACK timeouts
}

// createCsmaCa is a constructor
func createCsmaCa(drone *Drone) *CsmaCa {
	mac := new(CsmaCa)
	mac.drone = drone
	mac.rng = rngstream.New(fmt.Sprintf("mac-%d", drone.ID))
	mac.phy = createPhyLayer(drone)
	mac.channelID = drone.sim.channel.assignChannel(drone.ID)
	return mac
}

func (mac *CsmaCa) contenderID() int { return mac.drone.ID }

func (mac *CsmaCa) macBusy() bool { return mac.busy }

// contentionWindow gives the window for the given attempt number,
// doubling from cw_min and saturating at cw_max
func (mac *CsmaCa) contentionWindow(attempt int) int {
	cfg := mac.drone.sim.cfg
	cw := (cfg.CwMin+1)<<(attempt-1) - 1
	if cw > cfg.CwMax {
		cw = cfg.CwMax
	}
	return cw
}

// sendPckt accepts one frame from the drone's dispatcher.  Each entry
// counts as a transmission attempt at this node.
func (mac *CsmaCa) sendPckt(evtMgr *evtm.EventManager, pckt *Packet) {
	if mac.busy {
		panic(invariantErr(mac.drone, "mac accepted frame while busy"))
	}
	mac.busy = true
	mac.pckt = pckt

	drone := mac.drone
	pckt.RetransAttempt[drone.ID]++
	attempt := pckt.RetransAttempt[drone.ID]
	if attempt == 1 {
		pckt.FirstAttemptTime = drone.sim.nowUs()
	}

	cfg := drone.sim.cfg
	cw := mac.contentionWindow(attempt)
	mac.backoffUs = float64(mac.rng.RandInt(0, cw)) * cfg.SlotDuration
	mac.towaitUs = cfg.DifsDuration + mac.backoffUs

	drone.log().WithField("pckt", pckt.String()).WithField("backoff", mac.backoffUs).
		Debug("mac starts contention")

	mac.sense(evtMgr)
}

// sense waits for the channel to be idle before starting the countdown
func (mac *CsmaCa) sense(evtMgr *evtm.EventManager) {
	wc := mac.drone.sim.channel
	if wc.subChannels[mac.channelID].busy() {
		wc.watchIdle(mac.channelID, mac)
		return
	}
	mac.startCountdown(evtMgr)
}

// channelIdle resumes a sense that found the channel occupied
func (mac *CsmaCa) channelIdle(evtMgr *evtm.EventManager) {
	if !mac.busy || mac.counting {
		return
	}
	mac.startCountdown(evtMgr)
}

func (mac *CsmaCa) startCountdown(evtMgr *evtm.EventManager) {
	mac.counting = true
	mac.countdownStart = mac.drone.sim.nowUs()
	mac.epoch++
	mac.drone.sim.channel.watchBusy(mac.channelID, mac)
	evtMgr.Schedule(mac, mac.epoch, countdownComplete, usToTime(mac.towaitUs))
}

// channelBusy freezes a countdown in progress.  Time lost inside DIFS
// is forfeited; remaining backoff is preserved and resumed after the
// next DIFS-idle period.
func (mac *CsmaCa) channelBusy(evtMgr *evtm.EventManager) {
	if !mac.counting {
		return
	}
	mac.counting = false
	mac.epoch++ // discard the scheduled completion

	cfg := mac.drone.sim.cfg
	elapsed := mac.drone.sim.nowUs() - mac.countdownStart
	remaining := mac.towaitUs - elapsed
	if remaining <= mac.backoffUs {
		mac.backoffUs = remaining
	}
	mac.towaitUs = cfg.DifsDuration + mac.backoffUs

	mac.drone.sim.channel.watchIdle(mac.channelID, mac)
}

// countdownComplete fires when DIFS + backoff elapsed uninterrupted.
// Wakeups from abandoned countdowns carry a stale epoch and are ignored.
func countdownComplete(evtMgr *evtm.EventManager, context any, data any) any {
	mac := context.(*CsmaCa)
	if data.(int) != mac.epoch || !mac.counting {
		return nil
	}
	mac.counting = false
	mac.drone.sim.channel.unwatch(mac.channelID, mac)
	mac.drone.sim.channel.acquire(evtMgr, mac.channelID, mac)
	return nil
}

// tokenGranted begins the transmission proper: the token is held for
// the frame's air time and the radio is in tx for exactly that span
func (mac *CsmaCa) tokenGranted(evtMgr *evtm.EventManager) {
	drone := mac.drone
	pckt := mac.pckt
	sim := drone.sim

	pckt.TransmitTime = sim.nowUs()
	if pckt.RetransAttempt[drone.ID] == 1 {
		pckt.TTL++
	}

	drone.energy.setState(CommTx)
	sim.channel.addTransmitter(mac.channelID, drone.ID)

	if pckt.Mode == Broadcast {
		mac.phy.broadcast(evtMgr, pckt)
	} else {
		mac.phy.unicast(evtMgr, pckt, pckt.NextHopID)
	}
	if pckt.isControl() {
		sim.metrics.ControlPcktNum++
	}
	AddPcktTrace(sim.traceMgr, evtMgr.CurrentTime(), pckt, drone.ID, "tx")

	evtMgr.Schedule(mac, nil, transmitComplete, usToTime(sim.cfg.transmissionTimeUs(pckt.LenBits)))
}

// transmitComplete ends the air time.  Broadcast frames are done;
// unicast frames keep the token through the ACK window so the reply is
// not trampled by a new contender.
func transmitComplete(evtMgr *evtm.EventManager, context any, data any) any {
	mac := context.(*CsmaCa)
	drone := mac.drone
	sim := drone.sim

	drone.energy.setState(CommIdle)
	sim.channel.rmTransmitter(mac.channelID, drone.ID)

	if mac.pckt.Mode == Broadcast {
		sim.channel.release(evtMgr, mac.channelID, mac)
		mac.finishFrame(evtMgr)
		return nil
	}

	mac.awaitingAck = true
	mac.awaitEpoch++
	evtMgr.Schedule(mac, mac.awaitEpoch, ackTimeout, usToTime(sim.cfg.ackTimeoutUs()))
	return nil
}

// handleAck resolves the await-ACK state when the acknowledgment for
// the outstanding frame arrives in time
func (mac *CsmaCa) handleAck(evtMgr *evtm.EventManager, ack *Packet) {
	if !mac.awaitingAck || mac.pckt == nil || ack.AckedPcktID != mac.pckt.PcktID {
		return
	}
	mac.awaitingAck = false
	mac.awaitEpoch++ // the pending timeout wakeup is now stale

	drone := mac.drone
	sim := drone.sim
	sim.metrics.recordMacDelay(sim.nowUs() - mac.pckt.FirstAttemptTime)
	drone.log().WithField("pckt", mac.pckt.String()).Debug("ack received")

	sim.channel.release(evtMgr, mac.channelID, mac)
	mac.finishFrame(evtMgr)
}

// ackTimeout fires when the ACK window closes.  A stale epoch means the
// ACK already arrived and this wakeup is discarded.  Retry exhaustion
// drops the frame and reports the link break to routing.
func ackTimeout(evtMgr *evtm.EventManager, context any, data any) any {
	mac := context.(*CsmaCa)
	if data.(int) != mac.awaitEpoch || !mac.awaitingAck {
		return nil
	}
	mac.awaitingAck = false

	drone := mac.drone
	sim := drone.sim
	pckt := mac.pckt
	sim.channel.release(evtMgr, mac.channelID, mac)

	if pckt.RetransAttempt[drone.ID] < sim.cfg.MaxRetransmissionAttempt {
		mac.busy = false
		mac.pckt = nil
		mac.sendPckt(evtMgr, pckt)
		return nil
	}

	// retries exhausted: drop, and let routing invalidate and report
	drone.log().WithField("pckt", pckt.String()).Info("retries exhausted, dropping")
	sim.metrics.recordMacDelay(sim.nowUs() - pckt.FirstAttemptTime)
	if pckt.PcktType == DataType {
		sim.metrics.DroppedRetry++
	}
	mac.finishFrame(evtMgr)
	drone.routing.penalize(evtMgr, pckt)
	return nil
}

// finishFrame releases the state machine for the next frame in queue
func (mac *CsmaCa) finishFrame(evtMgr *evtm.EventManager) {
	mac.busy = false
	mac.pckt = nil
	mac.drone.maybeDispatch(evtMgr)
}

// ------------------------------------------------------------------ pure ALOHA

// alohaMaxHoldoffUs bounds the random retry delay
const alohaMaxHoldoffUs = 2000.0

// PureAloha transmits as soon as the token is available, with no
// carrier sense or backoff, and holds off a random interval before a retry
type PureAloha struct {
	drone     *Drone
	rng       *rngstream.RngStream
	phy       *phyLayer
	channelID int

	busy        bool
	pckt        *Packet
	awaitingAck bool
	awaitEpoch  int
}

// createPureAloha is a constructor
func createPureAloha(drone *Drone) *PureAloha {
	mac := new(PureAloha)
	mac.drone = drone
	mac.rng = rngstream.New(fmt.Sprintf("mac-%d", drone.ID))
	mac.phy = createPhyLayer(drone)
	mac.channelID = drone.sim.channel.assignChannel(drone.ID)
	return mac
}

func (mac *PureAloha) contenderID() int { return mac.drone.ID }

func (mac *PureAloha) macBusy() bool { return mac.busy }

func (mac *PureAloha) channelBusy(evtMgr *evtm.EventManager) {}
func (mac *PureAloha) channelIdle(evtMgr *evtm.EventManager) {}

func (mac *PureAloha) sendPckt(evtMgr *evtm.EventManager, pckt *Packet) {
	if mac.busy {
		panic(invariantErr(mac.drone, "mac accepted frame while busy"))
	}
	mac.busy = true
	mac.pckt = pckt

	pckt.RetransAttempt[mac.drone.ID]++
	if pckt.RetransAttempt[mac.drone.ID] == 1 {
		pckt.FirstAttemptTime = mac.drone.sim.nowUs()
	}
	mac.drone.sim.channel.acquire(evtMgr, mac.channelID, mac)
}

func (mac *PureAloha) tokenGranted(evtMgr *evtm.EventManager) {
	drone := mac.drone
	pckt := mac.pckt
	sim := drone.sim

	pckt.TransmitTime = sim.nowUs()
	if pckt.RetransAttempt[drone.ID] == 1 {
		pckt.TTL++
	}

	drone.energy.setState(CommTx)
	sim.channel.addTransmitter(mac.channelID, drone.ID)
	if pckt.Mode == Broadcast {
		mac.phy.broadcast(evtMgr, pckt)
	} else {
		mac.phy.unicast(evtMgr, pckt, pckt.NextHopID)
	}
	if pckt.isControl() {
		sim.metrics.ControlPcktNum++
	}
	evtMgr.Schedule(mac, nil, alohaTransmitComplete, usToTime(sim.cfg.transmissionTimeUs(pckt.LenBits)))
}

func alohaTransmitComplete(evtMgr *evtm.EventManager, context any, data any) any {
	mac := context.(*PureAloha)
	drone := mac.drone
	sim := drone.sim

	drone.energy.setState(CommIdle)
	sim.channel.rmTransmitter(mac.channelID, drone.ID)
	sim.channel.release(evtMgr, mac.channelID, mac)

	if mac.pckt.Mode == Broadcast {
		mac.busy = false
		mac.pckt = nil
		drone.maybeDispatch(evtMgr)
		return nil
	}

	mac.awaitingAck = true
	mac.awaitEpoch++
	evtMgr.Schedule(mac, mac.awaitEpoch, alohaAckTimeout, usToTime(sim.cfg.ackTimeoutUs()))
	return nil
}

func (mac *PureAloha) handleAck(evtMgr *evtm.EventManager, ack *Packet) {
	if !mac.awaitingAck || mac.pckt == nil || ack.AckedPcktID != mac.pckt.PcktID {
		return
	}
	mac.awaitingAck = false
	mac.awaitEpoch++

	sim := mac.drone.sim
	sim.metrics.recordMacDelay(sim.nowUs() - mac.pckt.FirstAttemptTime)
	mac.busy = false
	mac.pckt = nil
	mac.drone.maybeDispatch(evtMgr)
}

func alohaAckTimeout(evtMgr *evtm.EventManager, context any, data any) any {
	mac := context.(*PureAloha)
	if data.(int) != mac.awaitEpoch || !mac.awaitingAck {
		return nil
	}
	mac.awaitingAck = false

	drone := mac.drone
	sim := drone.sim
	pckt := mac.pckt

	if pckt.RetransAttempt[drone.ID] < sim.cfg.MaxRetransmissionAttempt {
		holdoff := mac.rng.RandU01() * alohaMaxHoldoffUs
		evtMgr.Schedule(mac, nil, alohaRetry, usToTime(holdoff))
		return nil
	}

	sim.metrics.recordMacDelay(sim.nowUs() - pckt.FirstAttemptTime)
	if pckt.PcktType == DataType {
		sim.metrics.DroppedRetry++
	}
	mac.busy = false
	mac.pckt = nil
	drone.maybeDispatch(evtMgr)
	drone.routing.penalize(evtMgr, pckt)
	return nil
}

func alohaRetry(evtMgr *evtm.EventManager, context any, data any) any {
	mac := context.(*PureAloha)
	if mac.pckt == nil {
		return nil
	}
	pckt := mac.pckt
	mac.busy = false
	mac.pckt = nil
	mac.sendPckt(evtMgr, pckt)
	return nil
}
