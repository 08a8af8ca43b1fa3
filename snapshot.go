package uavnet

// snapshot.go is the read-only contract with the topology viewer: a
// point-in-time copy of node positions, energy, neighbor edges and the
// metric read-out, rebuilt periodically on the cooperative thread and
// handed out under a mutex so a viewer on another thread never observes
// mid-event state.

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// NodeSnapshot is the viewer's picture of one drone
type NodeSnapshot struct {
	ID             int
	Coords         [3]float64
	Speed          float64
	ResidualEnergy float64
	LowEnergy      bool
	Sleep          bool
	MobilityModel  string
	TargetPosition *[3]float64
	Neighbors      []int
}

// Snapshot is the viewer's picture of the whole run
type Snapshot struct {
	TimeUs float64
	Nodes  []NodeSnapshot

	// Edges lists each neighbor relation once, lower id first
	Edges [][2]int

	// Components is the number of connected components of the
	// neighbor graph, 1 when the swarm is fully connected
	Components int

	Metrics MetricsSummary
}

// buildSnapshot assembles the current state.  Runs on the cooperative
// thread only.
func (sim *Simulator) buildSnapshot() Snapshot {
	snap := Snapshot{
		TimeUs:  sim.nowUs(),
		Nodes:   make([]NodeSnapshot, 0, len(sim.drones)),
		Edges:   make([][2]int, 0),
		Metrics: sim.metrics.Summary(sim.nowUs()),
	}

	now := sim.nowUs()
	neighborGraph := simple.NewUndirectedGraph()
	for _, drone := range sim.drones {
		neighborGraph.AddNode(simple.Node(drone.ID))
	}

	edgeSeen := make(map[[2]int]bool)
	for _, drone := range sim.drones {
		ns := NodeSnapshot{
			ID:             drone.ID,
			Coords:         drone.Coords,
			Speed:          drone.Speed,
			ResidualEnergy: drone.ResidualEnergy,
			LowEnergy:      drone.ResidualEnergy <= sim.cfg.EnergyThreshold,
			Sleep:          drone.Sleep,
			MobilityModel:  drone.mobility.modelName(),
			TargetPosition: drone.TargetPosition,
			Neighbors:      make([]int, 0, len(drone.neighbors)),
		}
		for peerID, expiry := range drone.neighbors {
			if expiry <= now {
				continue
			}
			ns.Neighbors = append(ns.Neighbors, peerID)
			edge := [2]int{drone.ID, peerID}
			if peerID < drone.ID {
				edge = [2]int{peerID, drone.ID}
			}
			if !edgeSeen[edge] {
				edgeSeen[edge] = true
				snap.Edges = append(snap.Edges, edge)
				neighborGraph.SetEdge(neighborGraph.NewEdge(simple.Node(edge[0]), simple.Node(edge[1])))
			}
		}
		sort.Ints(ns.Neighbors)
		snap.Nodes = append(snap.Nodes, ns)
	}

	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i][0] != snap.Edges[j][0] {
			return snap.Edges[i][0] < snap.Edges[j][0]
		}
		return snap.Edges[i][1] < snap.Edges[j][1]
	})

	snap.Components = len(topo.ConnectedComponents(neighborGraph))
	return snap
}

func (sim *Simulator) storeSnapshot(snap Snapshot) {
	sim.snapMu.Lock()
	sim.lastSnap = snap
	sim.snapMu.Unlock()
}

// LatestSnapshot returns the most recent snapshot.  Safe to call from
// any thread.
func (sim *Simulator) LatestSnapshot() Snapshot {
	sim.snapMu.Lock()
	defer sim.snapMu.Unlock()
	return sim.lastSnap
}
