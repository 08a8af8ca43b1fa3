package uavnet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTraceRoundTripYAML(t *testing.T) {
	sim := newTestSim(t, nil)
	tm := CreateTraceManager("trace-test", true)
	tm.RecordDroneName(0, "uav-0")
	tm.RecordDroneName(1, "uav-1")

	pckt := createDataPacket(sim, 0, 1, 1024, 0)
	AddPcktTrace(tm, usToTime(100.0), pckt, 0, "gen")
	AddPcktTrace(tm, usToTime(250.0), pckt, 0, "tx")
	AddEnergyTrace(tm, usToTime(200.0), sim.DroneByID[0], CommIdle)

	filename := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, tm.WriteToFile(filename, false))

	dict, err := os.ReadFile(filename)
	require.NoError(t, err)

	var readBack traceExport
	require.NoError(t, yaml.Unmarshal(dict, &readBack))

	assert.Equal(t, "trace-test", readBack.RunName)
	assert.Equal(t, "uav-0", readBack.DroneNames[0])
	assert.Equal(t, "uav-1", readBack.DroneNames[1])

	recs := readBack.PcktLog[pckt.PcktID]
	require.Len(t, recs, 2)
	assert.Equal(t, "gen", recs[0].Op)
	assert.Equal(t, "tx", recs[1].Op)
	assert.Equal(t, "data", recs[0].PcktType)
	assert.InDelta(t, 100.0/1e6, recs[0].Time, 1e-12)

	require.Len(t, readBack.EnergyLog, 1)
	assert.Equal(t, 0, readBack.EnergyLog[0].ObjID)
	assert.Equal(t, "idle", readBack.EnergyLog[0].State)
	assert.Equal(t, sim.cfg.InitialEnergy, readBack.EnergyLog[0].Residual)
}

func TestTraceChronologicalJSON(t *testing.T) {
	sim := newTestSim(t, nil)
	tm := CreateTraceManager("trace-test", true)

	first := createDataPacket(sim, 0, 1, 1024, 0)
	second := createDataPacket(sim, 1, 0, 1024, 0)
	AddPcktTrace(tm, usToTime(300.0), first, 0, "tx")
	AddPcktTrace(tm, usToTime(100.0), second, 1, "gen")
	AddEnergyTrace(tm, usToTime(200.0), sim.DroneByID[0], CommTx)

	filename := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, tm.WriteToFile(filename, true))

	dict, err := os.ReadFile(filename)
	require.NoError(t, err)

	var readBack traceExport
	require.NoError(t, json.Unmarshal(dict, &readBack))

	// the per-packet grouping is flattened into one ordered timeline
	assert.Empty(t, readBack.PcktLog)
	require.Len(t, readBack.Timeline, 3)
	for idx := 1; idx < len(readBack.Timeline); idx++ {
		assert.LessOrEqual(t, readBack.Timeline[idx-1].Time, readBack.Timeline[idx].Time)
	}

	require.NotNil(t, readBack.Timeline[0].Pckt)
	assert.Equal(t, "gen", readBack.Timeline[0].Pckt.Op)
	require.NotNil(t, readBack.Timeline[1].Energy)
	assert.Equal(t, "tx", readBack.Timeline[1].Energy.State)
	require.NotNil(t, readBack.Timeline[2].Pckt)
	assert.Equal(t, first.PcktID, readBack.Timeline[2].Pckt.PcktID)
}

func TestInactiveTraceManagerDiscardsEverything(t *testing.T) {
	sim := newTestSim(t, nil)
	tm := CreateTraceManager("trace-test", false)
	tm.RecordDroneName(0, "uav-0")

	pckt := createDataPacket(sim, 0, 1, 1024, 0)
	AddPcktTrace(tm, usToTime(100.0), pckt, 0, "gen")
	AddEnergyTrace(tm, usToTime(100.0), sim.DroneByID[0], CommIdle)

	assert.Empty(t, tm.DroneNames)
	assert.Empty(t, tm.PcktLog)
	assert.Empty(t, tm.EnergyLog)

	// nothing is written either
	filename := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, tm.WriteToFile(filename, false))
	_, err := os.Stat(filename)
	assert.True(t, os.IsNotExist(err))
}

func TestNilTraceManagerIsSafe(t *testing.T) {
	sim := newTestSim(t, nil)
	pckt := createDataPacket(sim, 0, 1, 1024, 0)

	assert.NotPanics(t, func() {
		AddPcktTrace(nil, usToTime(100.0), pckt, 0, "gen")
		AddEnergyTrace(nil, usToTime(100.0), sim.DroneByID[0], CommIdle)
	})
}

func TestWriteToFileRejectsUnknownExtension(t *testing.T) {
	tm := CreateTraceManager("trace-test", true)
	err := tm.WriteToFile(filepath.Join(t.TempDir(), "trace.csv"), false)
	assert.Error(t, err)
}

func TestDuplicateDroneNamePanics(t *testing.T) {
	tm := CreateTraceManager("trace-test", true)
	tm.RecordDroneName(0, "uav-0")
	assert.Panics(t, func() { tm.RecordDroneName(0, "uav-0-again") })
}
