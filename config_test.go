package uavnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParametersValidate(t *testing.T) {
	params := DefaultParameters()
	require.NoError(t, params.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"zero sim time", func(p *Parameters) { p.SimTime = 0 }},
		{"one drone", func(p *Parameters) { p.NumberOfDrones = 1 }},
		{"negative map", func(p *Parameters) { p.MapLength = -1 }},
		{"loss above one", func(p *Parameters) { p.DataLossProbability = 1.5 }},
		{"cw max below min", func(p *Parameters) { p.CwMax = 7 }},
		{"bad traffic pattern", func(p *Parameters) { p.TrafficPattern = "bursty" }},
		{"bad mac protocol", func(p *Parameters) { p.MacProtocol = "tdma" }},
		{"zero ttl", func(p *Parameters) { p.MaxTTL = 0 }},
		{"zero queue", func(p *Parameters) { p.MaxQueueSize = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := DefaultParameters()
			tc.mutate(params)
			assert.Error(t, params.Validate())
		})
	}
}

func TestReadParametersYAML(t *testing.T) {
	doc := []byte("numberofdrones: 25\ndefaultspeed: 30\nseed: 7\n")
	params, err := ReadParameters("", true, doc)
	require.NoError(t, err)

	assert.Equal(t, 25, params.NumberOfDrones)
	assert.Equal(t, 30.0, params.DefaultSpeed)
	assert.Equal(t, int64(7), params.Seed)

	// unset fields keep their defaults
	assert.Equal(t, 0.05, params.DataLossProbability)
	assert.Equal(t, 31, params.CwMin)
}

func TestReadParametersJSON(t *testing.T) {
	doc := []byte(`{"numberofdrones": 4, "packetgenerationrate": 2.5}`)
	params, err := ReadParameters("", false, doc)
	require.NoError(t, err)

	assert.Equal(t, 4, params.NumberOfDrones)
	assert.Equal(t, 2.5, params.PacketGenerationRate)
}

func TestFrameLengths(t *testing.T) {
	params := DefaultParameters()

	// data frame wraps the payload in IP, MAC and PHY headers
	assert.Equal(t, 160+112+416+8192, params.dataPacketLength(8192))
	assert.Equal(t, 160+112+416+256, params.helloPacketLength())

	// 2 Mb/s clocks 2 bits per microsecond
	assert.Equal(t, 4096.0, params.transmissionTimeUs(8192))

	// ACK air time + SIFS + guard
	assert.InDelta(t, 120.0+10.0+50.0, params.ackTimeoutUs(), 1e-9)
}
