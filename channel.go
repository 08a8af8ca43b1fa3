package uavnet

// channel.go models the shared wireless medium: the per-sub-channel
// exclusive-access tokens MAC instances hold while transmitting, the set
// of stations currently radiating (for interference), and the
// log-distance path loss / SINR evaluation performed at each receiver.

import (
	"fmt"
	"math"
	"sort"

	"github.com/iti/evt/evtm"
	"github.com/iti/rngstream"
	"golang.org/x/exp/slices"
)

// macContender is the channel-facing side of a MAC instance.  The channel
// calls tokenGranted when a requested token is handed over, channelBusy
// when a transmission starts on the watched sub-channel, and channelIdle
// when the sub-channel's token frees with nobody queued.
type macContender interface {
	contenderID() int
	tokenGranted(evtMgr *evtm.EventManager)
	channelBusy(evtMgr *evtm.EventManager)
	channelIdle(evtMgr *evtm.EventManager)
}

// subChannel is one independently-tokened slice of the medium
type subChannel struct {
	number int

	// token state.  holder is the id of the drone whose MAC holds the
	// token, -1 when free.  Acquirers queue in FIFO order.
	holder  int
	waiters []macContender

	// drones currently radiating on this sub-channel
	transmitters map[int]bool

	// MACs to notify on the next busy / idle transition
	busyWatchers []macContender
	idleWatchers []macContender
}

func createSubChannel(number int) *subChannel {
	sc := new(subChannel)
	sc.number = number
	sc.holder = -1
	sc.waiters = make([]macContender, 0)
	sc.transmitters = make(map[int]bool)
	return sc
}

func (sc *subChannel) busy() bool {
	return sc.holder != -1
}

// wirelessChannel holds the sub-channels and the channel-error RNG stream
type wirelessChannel struct {
	sim         *Simulator
	subChannels []*subChannel
	rngstrm     *rngstream.RngStream
}

// createWirelessChannel is a constructor
func createWirelessChannel(sim *Simulator) *wirelessChannel {
	wc := new(wirelessChannel)
	wc.sim = sim
	wc.subChannels = make([]*subChannel, sim.cfg.NumberOfSubChannels)
	for idx := range wc.subChannels {
		wc.subChannels[idx] = createSubChannel(idx)
	}
	wc.rngstrm = rngstream.New("channel")
	return wc
}

// assignChannel gives the sub-channel a drone transmits on.  Assignment
// is static so that a fixed seed reproduces the same contention pattern.
func (wc *wirelessChannel) assignChannel(droneID int) int {
	return droneID % len(wc.subChannels)
}

// acquire hands the token for channelID to mac immediately when free,
// otherwise queues the request in FIFO order.  Queued contention is what
// the collision counter measures.
func (wc *wirelessChannel) acquire(evtMgr *evtm.EventManager, channelID int, mac macContender) {
	sc := wc.subChannels[channelID]
	if !sc.busy() {
		sc.holder = mac.contenderID()
		wc.notifyBusy(evtMgr, sc)
		mac.tokenGranted(evtMgr)
		return
	}
	wc.sim.metrics.CollisionNum++
	sc.waiters = append(sc.waiters, mac)
}

// release frees the token held by mac.  The next queued acquirer, if
// any, is granted in FIFO order; otherwise idle watchers are notified.
func (wc *wirelessChannel) release(evtMgr *evtm.EventManager, channelID int, mac macContender) {
	sc := wc.subChannels[channelID]
	if sc.holder != mac.contenderID() {
		panic(fmt.Errorf("channel token invariant: drone %d releasing sub-channel %d held by %d at %f us",
			mac.contenderID(), channelID, sc.holder, wc.sim.nowUs()))
	}
	sc.holder = -1

	if len(sc.waiters) > 0 {
		var nxt macContender
		nxt, sc.waiters = sc.waiters[0], sc.waiters[1:]
		sc.holder = nxt.contenderID()
		wc.notifyBusy(evtMgr, sc)
		nxt.tokenGranted(evtMgr)
		return
	}
	wc.notifyIdle(evtMgr, sc)
}

// watchBusy registers mac for a one-shot callback when a transmission
// next starts on channelID, if not already registered
func (wc *wirelessChannel) watchBusy(channelID int, mac macContender) {
	sc := wc.subChannels[channelID]
	if !slices.Contains(sc.busyWatchers, mac) {
		sc.busyWatchers = append(sc.busyWatchers, mac)
	}
}

// watchIdle registers mac for a one-shot callback when channelID next
// goes idle, if not already registered
func (wc *wirelessChannel) watchIdle(channelID int, mac macContender) {
	sc := wc.subChannels[channelID]
	if !slices.Contains(sc.idleWatchers, mac) {
		sc.idleWatchers = append(sc.idleWatchers, mac)
	}
}

// unwatch removes mac from both watcher lists
func (wc *wirelessChannel) unwatch(channelID int, mac macContender) {
	sc := wc.subChannels[channelID]
	sc.busyWatchers = rmContender(sc.busyWatchers, mac)
	sc.idleWatchers = rmContender(sc.idleWatchers, mac)
}

func rmContender(list []macContender, mac macContender) []macContender {
	rtn := list[:0]
	for _, entry := range list {
		if entry != mac {
			rtn = append(rtn, entry)
		}
	}
	return rtn
}

func (wc *wirelessChannel) notifyBusy(evtMgr *evtm.EventManager, sc *subChannel) {
	watchers := sc.busyWatchers
	sc.busyWatchers = nil
	for _, mac := range watchers {
		mac.channelBusy(evtMgr)
	}
}

func (wc *wirelessChannel) notifyIdle(evtMgr *evtm.EventManager, sc *subChannel) {
	watchers := sc.idleWatchers
	sc.idleWatchers = nil
	for _, mac := range watchers {
		mac.channelIdle(evtMgr)
	}
}

// addTransmitter marks droneID as radiating on channelID
func (wc *wirelessChannel) addTransmitter(channelID, droneID int) {
	wc.subChannels[channelID].transmitters[droneID] = true
}

// rmTransmitter clears droneID from channelID's radiating set
func (wc *wirelessChannel) rmTransmitter(channelID, droneID int) {
	delete(wc.subChannels[channelID].transmitters, droneID)
}

// interferers lists the drones radiating on sub-channels that overlap
// channelID, excluding the main transmitter.  The list is ordered by id
// so that interference sums are reproducible.
func (wc *wirelessChannel) interferers(channelID, mainID int) []int {
	rtn := make([]int, 0)
	for _, sc := range wc.subChannels {
		if !adjacentChannelInterference(channelID, sc.number) {
			continue
		}
		for droneID := range sc.transmitters {
			if droneID != mainID {
				rtn = append(rtn, droneID)
			}
		}
	}
	sort.Ints(rtn)
	return rtn
}

// adjacentChannelInterference reports whether a transmission on c2
// disturbs a reception on c1.  The sub-channels are modeled as
// non-overlapping, so only same-channel transmissions interfere.
func adjacentChannelInterference(c1, c2 int) bool {
	return c1 == c2
}

// sampleLoss draws the Bernoulli channel-error trial for one delivery
func (wc *wirelessChannel) sampleLoss() bool {
	prob := wc.sim.cfg.DataLossProbability
	if prob <= 0.0 {
		return false
	}
	return wc.rngstrm.RandU01() < prob
}

// pathLoss computes the log-distance loss factor (c / 4 pi f d)^alpha
// with alpha = 2 for a line-of-sight link of the given length
func (wc *wirelessChannel) pathLoss(distance float64) float64 {
	if distance == 0 {
		return 1.0
	}
	fc := wc.sim.cfg.CarrierFrequency
	ratio := lightSpeed / (4.0 * math.Pi * fc * distance)
	return ratio * ratio
}

// sinrDb computes the signal to interference-plus-noise ratio in dB at
// the receiver for a frame from the transmitter, given the ids of the
// other stations radiating on an overlapping sub-channel
func (wc *wirelessChannel) sinrDb(receiver, transmitter *Drone, interfererIDs []int) float64 {
	cfg := wc.sim.cfg

	rcvPower := cfg.TransmittingPower * wc.pathLoss(distance3d(receiver.Coords, transmitter.Coords))

	var interferencePower float64
	for _, droneID := range interfererIDs {
		interferer := wc.sim.DroneByID[droneID]
		interferencePower += cfg.TransmittingPower * wc.pathLoss(distance3d(receiver.Coords, interferer.Coords))
	}

	return 10.0 * math.Log10(rcvPower/(cfg.NoisePower+interferencePower))
}

// maximumCommunicationRange gives the distance at which a lone
// transmitter's SNR falls to the threshold.  PHY uses it as the
// geometric reach of a broadcast.
func (wc *wirelessChannel) maximumCommunicationRange() float64 {
	cfg := wc.sim.cfg
	txPowerDb := 10.0 * math.Log10(cfg.TransmittingPower)
	noisePowerDb := 10.0 * math.Log10(cfg.NoisePower)
	pathLossDb := txPowerDb - noisePowerDb - cfg.SnrThreshold

	alpha := 2.0
	return lightSpeed * math.Pow(10.0, pathLossDb/(alpha*10.0)) / (4.0 * math.Pi * cfg.CarrierFrequency)
}

// distance3d is the Euclidean distance between two positions
func distance3d(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
