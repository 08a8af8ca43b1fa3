package uavnet

// trace.go records what happened to packets and drones over a run, for
// post-run analysis: every packet's visitations (generation, transmission,
// delivery; drops are not recorded) keyed by packet id, and the energy samples of every
// drone.  Records are kept as typed structs and serialized in one pass at
// write time, to yaml or json by file extension.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// PcktTrace marks the visitation of a packet at some point on its path
type PcktTrace struct {
	Time     float64 // virtual seconds
	Ticks    int64   // ticks variable of time
	Priority int64   // priority field of time-stamp
	PcktID   int
	ObjID    int    // drone where the event occurred
	Op       string // "gen", "tx" or "deliver"
	PcktType string
	TTL      int
}

// EnergyTrace samples one drone's residual energy and radio state
type EnergyTrace struct {
	Time     float64
	ObjID    int
	Residual float64
	State    string
}

// TraceManager accumulates packet and energy records while a run
// executes.  A manager created inactive swallows every record, so trace
// calls can stay embedded in the engine without cost when tracing is off.
type TraceManager struct {
	// records are being kept for this run
	Recording bool `json:"recording" yaml:"recording"`

	// run identifier carried into the trace file
	RunName string `json:"runname" yaml:"runname"`

	// drone id -> display name, for readers of the trace file
	DroneNames map[int]string `json:"dronenames" yaml:"dronenames"`

	// every packet's records, keyed by packet id, in visitation order
	PcktLog map[int][]PcktTrace `json:"pcktlog" yaml:"pcktlog"`

	// energy samples across all drones, in sample order
	EnergyLog []EnergyTrace `json:"energylog" yaml:"energylog"`
}

// CreateTraceManager is a constructor.  runName labels the trace file;
// recording false yields a manager that discards everything offered to it.
func CreateTraceManager(runName string, recording bool) *TraceManager {
	tm := new(TraceManager)
	tm.Recording = recording
	tm.RunName = runName
	tm.DroneNames = make(map[int]string)
	tm.PcktLog = make(map[int][]PcktTrace)
	tm.EnergyLog = make([]EnergyTrace, 0)
	return tm
}

// RecordDroneName enters a drone in the id -> name dictionary written
// with the trace.  Reusing an id is a bug in simulator construction.
func (tm *TraceManager) RecordDroneName(droneID int, name string) {
	if !tm.Recording {
		return
	}
	if _, present := tm.DroneNames[droneID]; present {
		panic(fmt.Errorf("drone id %d entered twice in trace dictionary", droneID))
	}
	tm.DroneNames[droneID] = name
}

// AddPcktTrace appends one packet visitation record
func AddPcktTrace(tm *TraceManager, vrt vrtime.Time, pckt *Packet, objID int, op string) {
	if tm == nil || !tm.Recording {
		return
	}
	rec := PcktTrace{
		Time:     vrt.Seconds(),
		Ticks:    vrt.Ticks(),
		Priority: vrt.Pri(),
		PcktID:   pckt.PcktID,
		ObjID:    objID,
		Op:       op,
		PcktType: pckt.PcktType.String(),
		TTL:      pckt.TTL,
	}
	tm.PcktLog[pckt.PcktID] = append(tm.PcktLog[pckt.PcktID], rec)
}

// AddEnergyTrace appends one residual-energy sample
func AddEnergyTrace(tm *TraceManager, vrt vrtime.Time, drone *Drone, state CommState) {
	if tm == nil || !tm.Recording {
		return
	}
	tm.EnergyLog = append(tm.EnergyLog, EnergyTrace{
		Time:     vrt.Seconds(),
		ObjID:    drone.ID,
		Residual: drone.ResidualEnergy,
		State:    state.String(),
	})
}

// timelineEntry interleaves packet and energy records for the
// chronological form of the trace file.  Exactly one of Pckt and Energy
// is set.
type timelineEntry struct {
	Time   float64      `json:"time" yaml:"time"`
	Pckt   *PcktTrace   `json:"pckt,omitempty" yaml:"pckt,omitempty"`
	Energy *EnergyTrace `json:"energy,omitempty" yaml:"energy,omitempty"`
}

// traceExport is the on-disk document.  Per-packet form keeps the
// PcktLog map; chronological form flattens everything into Timeline.
type traceExport struct {
	RunName    string                 `json:"runname" yaml:"runname"`
	DroneNames map[int]string         `json:"dronenames" yaml:"dronenames"`
	PcktLog    map[int][]PcktTrace    `json:"pcktlog,omitempty" yaml:"pcktlog,omitempty"`
	EnergyLog  []EnergyTrace          `json:"energylog,omitempty" yaml:"energylog,omitempty"`
	Timeline   []timelineEntry        `json:"timeline,omitempty" yaml:"timeline,omitempty"`
}

// timeline merges the packet and energy logs into one time-ordered
// sequence.  Records at the same instant keep packet-before-energy
// order, with ticks breaking ties among packet records.
func (tm *TraceManager) timeline() []timelineEntry {
	entries := make([]timelineEntry, 0, len(tm.EnergyLog))

	pcktIDs := make([]int, 0, len(tm.PcktLog))
	for pcktID := range tm.PcktLog {
		pcktIDs = append(pcktIDs, pcktID)
	}
	sort.Ints(pcktIDs)
	for _, pcktID := range pcktIDs {
		recs := tm.PcktLog[pcktID]
		for idx := range recs {
			entries = append(entries, timelineEntry{Time: recs[idx].Time, Pckt: &recs[idx]})
		}
	}
	for idx := range tm.EnergyLog {
		entries = append(entries, timelineEntry{Time: tm.EnergyLog[idx].Time, Energy: &tm.EnergyLog[idx]})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Time != entries[j].Time {
			return entries[i].Time < entries[j].Time
		}
		ti, tj := entries[i].Pckt, entries[j].Pckt
		if ti != nil && tj != nil {
			return ti.Ticks < tj.Ticks
		}
		return ti != nil && tj == nil
	})
	return entries
}

// WriteToFile stores the trace to the named file, yaml or json by
// extension.  With chronological set the per-packet logs are flattened
// into a single time-ordered timeline; otherwise records stay grouped
// by packet id.  An inactive manager writes nothing.
func (tm *TraceManager) WriteToFile(filename string, chronological bool) error {
	if !tm.Recording {
		return nil
	}

	export := traceExport{
		RunName:    tm.RunName,
		DroneNames: tm.DroneNames,
	}
	if chronological {
		export.Timeline = tm.timeline()
	} else {
		export.PcktLog = tm.PcktLog
		export.EnergyLog = tm.EnergyLog
	}

	var dict []byte
	var merr error
	switch path.Ext(filename) {
	case ".yaml", ".yml", ".YAML":
		dict, merr = yaml.Marshal(export)
	case ".json", ".JSON":
		dict, merr = json.MarshalIndent(export, "", "\t")
	default:
		return fmt.Errorf("trace file %s has neither yaml nor json extension", filename)
	}
	if merr != nil {
		return merr
	}
	return os.WriteFile(filename, dict, 0644)
}
