package uavnet

// packet.go defines the frames carried over the wireless medium: data
// packets, the hello beacon used for neighbor discovery, the AODV control
// packets (RREQ, RREP, RERR), and the link-layer ACK.

import "fmt"

// PcktType enumerates the frame variants
type PcktType int

const (
	DataType PcktType = iota
	HelloType
	AckType
	RreqType
	RrepType
	RerrType
)

// ptToStr is a translation table for creating strings from packet types
var ptToStr map[PcktType]string = map[PcktType]string{
	DataType: "data", HelloType: "hello", AckType: "ack",
	RreqType: "rreq", RrepType: "rrep", RerrType: "rerr",
}

func (pt PcktType) String() string {
	return ptToStr[pt]
}

// TransMode distinguishes frames addressed to one receiver from frames
// addressed to every receiver in range
type TransMode int

const (
	Unicast TransMode = iota
	Broadcast
)

// unreachableDest is one element of a RERR payload
type unreachableDest struct {
	DestID int
	SeqNum int
}

// Packet is a frame in flight or in queue.  The identity fields are set
// at creation and never change; NextHopID, TTL and the per-node
// retransmission counters are forwarding metadata updated hop by hop.
type Packet struct {
	PcktID       int      // globally unique, ascending
	PcktType     PcktType
	SrcID        int     // originator
	DstID        int     // final destination, -1 for broadcast-only frames
	CreationTime float64 // us
	Lifetime     float64 // us, maximum time in the network
	LenBits      int     // on-air length including headers
	ChannelID    int     // sub-channel used to transmit
	Mode         TransMode

	NextHopID int // resolved by routing for unicast frames
	TTL       int // incremented per hop, checked against max_ttl

	// number of transmission attempts at each node traversed.  The
	// counter follows the packet, so a packet that is re-routed keeps
	// its accumulated attempts at the node holding it.
	RetransAttempt map[int]int

	// timing marks for the mac-delay and latency metrics
	FirstAttemptTime float64
	TransmitTime     float64

	// RREQ fields
	BroadcastID int
	OrigSeqNum  int
	DestSeqNum  int
	HopCount    int

	// RREP originator
	OriginatorID int

	// RERR payload
	Unreachable []unreachableDest

	// ACK payload: the id of the packet being acknowledged
	AckedPcktID int
}

// createPacket fills in the fields every frame variant shares
func createPacket(sim *Simulator, pt PcktType, srcID, dstID, lenBits, channelID int, mode TransMode) *Packet {
	pckt := new(Packet)
	pckt.PcktID = sim.nxtPcktID()
	pckt.PcktType = pt
	pckt.SrcID = srcID
	pckt.DstID = dstID
	pckt.CreationTime = sim.nowUs()
	pckt.Lifetime = sim.cfg.PacketLifetime
	pckt.LenBits = lenBits
	pckt.ChannelID = channelID
	pckt.Mode = mode
	pckt.NextHopID = -1
	pckt.RetransAttempt = make(map[int]int)
	return pckt
}

// createDataPacket is a constructor for an application data frame
func createDataPacket(sim *Simulator, srcID, dstID, payloadBits, channelID int) *Packet {
	lenBits := sim.cfg.dataPacketLength(payloadBits)
	return createPacket(sim, DataType, srcID, dstID, lenBits, channelID, Unicast)
}

// createHelloPacket is a constructor for the neighbor-discovery beacon
func createHelloPacket(sim *Simulator, srcID, channelID int) *Packet {
	return createPacket(sim, HelloType, srcID, -1, sim.cfg.helloPacketLength(), channelID, Broadcast)
}

// createAckPacket is a constructor for the link-layer acknowledgment of acked
func createAckPacket(sim *Simulator, srcID, dstID, channelID int, acked *Packet) *Packet {
	pckt := createPacket(sim, AckType, srcID, dstID, ackPacketLength, channelID, Unicast)
	pckt.AckedPcktID = acked.PcktID
	pckt.NextHopID = dstID
	return pckt
}

// createRreqPacket is a constructor for a route request flood
func createRreqPacket(sim *Simulator, srcID, destID, broadcastID, origSeq, destSeq, channelID int) *Packet {
	pckt := createPacket(sim, RreqType, srcID, destID, sim.cfg.helloPacketLength(), channelID, Broadcast)
	pckt.BroadcastID = broadcastID
	pckt.OrigSeqNum = origSeq
	pckt.DestSeqNum = destSeq
	pckt.HopCount = 0
	return pckt
}

// createRrepPacket is a constructor for a route reply, unicast along the
// reverse path toward originatorID
func createRrepPacket(sim *Simulator, srcID, originatorID, destID, destSeq, hopCount, channelID int) *Packet {
	pckt := createPacket(sim, RrepType, srcID, destID, sim.cfg.helloPacketLength(), channelID, Unicast)
	pckt.OriginatorID = originatorID
	pckt.DestSeqNum = destSeq
	pckt.HopCount = hopCount
	return pckt
}

// createRerrPacket is a constructor for a route error report
func createRerrPacket(sim *Simulator, srcID, channelID int, unreachable []unreachableDest) *Packet {
	pckt := createPacket(sim, RerrType, srcID, -1, sim.cfg.helloPacketLength(), channelID, Broadcast)
	pckt.Unreachable = unreachable
	return pckt
}

// isControl reports whether the frame belongs to the routing control plane
func (pckt *Packet) isControl() bool {
	return pckt.PcktType == HelloType || pckt.PcktType == RreqType ||
		pckt.PcktType == RrepType || pckt.PcktType == RerrType
}

// expired reports whether the frame has exceeded its lifetime at time now
func (pckt *Packet) expired(now float64) bool {
	return now >= pckt.CreationTime+pckt.Lifetime
}

func (pckt *Packet) String() string {
	return fmt.Sprintf("%s[%d] %d->%d", pckt.PcktType, pckt.PcktID, pckt.SrcID, pckt.DstID)
}
