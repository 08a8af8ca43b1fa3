package uavnet

// config.go holds the flat parameter set read at start-up, the defaults
// applied when a parameter is left unset, and the validation performed
// before a simulator is constructed.  Durations are expressed in
// microseconds of virtual time, matching the units of the simulation clock.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// speed of light, m/s
const lightSpeed = 3.0e8

// frame header lengths, in bits
const (
	ipHeaderLength  = 20 * 8
	macHeaderLength = 14 * 8

	// PLCP preamble (sync + SFD) plus PLCP header (signal, service, length, HEC)
	plcpPreamble    = 128 + 16
	plcpHeader      = 8 + 8 + 16 + 16
	phyHeaderLength = plcpPreamble + plcpHeader

	ackHeaderLength   = 16 * 8
	ackPacketLength   = ackHeaderLength + 14*8
	helloPayloadLength = 256
)

// Parameters is the complete configuration of a simulation run.  A zero
// value is not usable; start from DefaultParameters and override.
type Parameters struct {
	SimTime        float64 `json:"simtime" yaml:"simtime"`               // horizon, us
	NumberOfDrones int     `json:"numberofdrones" yaml:"numberofdrones"` // ids are 0..N-1

	MapLength float64 `json:"maplength" yaml:"maplength"` // m
	MapWidth  float64 `json:"mapwidth" yaml:"mapwidth"`   // m
	MapHeight float64 `json:"mapheight" yaml:"mapheight"` // m

	DefaultSpeed  float64 `json:"defaultspeed" yaml:"defaultspeed"`   // m/s
	Heterogeneous bool    `json:"heterogeneous" yaml:"heterogeneous"` // speeds drawn uniform 5..60 m/s
	StaticCase    bool    `json:"staticcase" yaml:"staticcase"`       // disable mobility entirely

	PacketGenerationRate     float64 `json:"packetgenerationrate" yaml:"packetgenerationrate"` // packets/s per node
	TrafficPattern           string  `json:"trafficpattern" yaml:"trafficpattern"`             // "poisson" or "uniform"
	AveragePayloadLength     int     `json:"averagepayloadlength" yaml:"averagepayloadlength"` // bits
	VariablePayloadLength    bool    `json:"variablepayloadlength" yaml:"variablepayloadlength"`
	MaximumPayloadVariation  int     `json:"maximumpayloadvariation" yaml:"maximumpayloadvariation"` // bits
	MaxQueueSize             int     `json:"maxqueuesize" yaml:"maxqueuesize"`
	MaxTTL                   int     `json:"maxttl" yaml:"maxttl"`
	PacketLifetime           float64 `json:"packetlifetime" yaml:"packetlifetime"` // us

	InitialEnergy   float64 `json:"initialenergy" yaml:"initialenergy"`     // J
	EnergyThreshold float64 `json:"energythreshold" yaml:"energythreshold"` // J, low-energy warning level
	PowerTx         float64 `json:"powertx" yaml:"powertx"`                 // W
	PowerRx         float64 `json:"powerrx" yaml:"powerrx"`                 // W
	PowerIdle       float64 `json:"poweridle" yaml:"poweridle"`             // W
	PowerSleep      float64 `json:"powersleep" yaml:"powersleep"`           // W

	DataLossProbability float64 `json:"datalossprobability" yaml:"datalossprobability"`
	SnrThreshold        float64 `json:"snrthreshold" yaml:"snrthreshold"`           // dB
	CarrierFrequency    float64 `json:"carrierfrequency" yaml:"carrierfrequency"`   // Hz
	TransmittingPower   float64 `json:"transmittingpower" yaml:"transmittingpower"` // W
	NoisePower          float64 `json:"noisepower" yaml:"noisepower"`               // W
	BitRate             float64 `json:"bitrate" yaml:"bitrate"`                     // bits/s
	NumberOfSubChannels int     `json:"numberofsubchannels" yaml:"numberofsubchannels"`

	MacProtocol              string  `json:"macprotocol" yaml:"macprotocol"` // "csma-ca" or "pure-aloha"
	SlotDuration             float64 `json:"slotduration" yaml:"slotduration"`     // us
	SifsDuration             float64 `json:"sifsduration" yaml:"sifsduration"`     // us
	DifsDuration             float64 `json:"difsduration" yaml:"difsduration"`     // us
	AckTimeoutExtra          float64 `json:"acktimeoutextra" yaml:"acktimeoutextra"` // us
	CwMin                    int     `json:"cwmin" yaml:"cwmin"`
	CwMax                    int     `json:"cwmax" yaml:"cwmax"`
	MaxRetransmissionAttempt int     `json:"maxretransmissionattempt" yaml:"maxretransmissionattempt"`

	HelloInterval      float64 `json:"hellointerval" yaml:"hellointerval"`           // us
	NeighborTimeout    float64 `json:"neighbortimeout" yaml:"neighbortimeout"`       // us
	ActiveRouteTimeout float64 `json:"activeroutetimeout" yaml:"activeroutetimeout"` // us

	FormationChangeTime float64 `json:"formationchangetime" yaml:"formationchangetime"` // us, <0 disables

	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultParameters returns the baseline configuration.  The values trace
// back to an IEEE 802.11b-class radio and a small rotary-wing platform.
func DefaultParameters() *Parameters {
	return &Parameters{
		SimTime:        30 * 1e6,
		NumberOfDrones: 10,

		MapLength: 600.0,
		MapWidth:  600.0,
		MapHeight: 100.0,

		DefaultSpeed: 10.0,

		PacketGenerationRate:    5.0,
		TrafficPattern:          "poisson",
		AveragePayloadLength:    1024 * 8,
		MaximumPayloadVariation: 1600,
		MaxQueueSize:            200,
		MaxTTL:                  11,
		PacketLifetime:          10 * 1e6,

		InitialEnergy:   20 * 1e3,
		EnergyThreshold: 2000.0,
		PowerTx:         1.5,
		PowerRx:         1.0,
		PowerIdle:       0.1,
		PowerSleep:      0.001,

		DataLossProbability: 0.05,
		SnrThreshold:        6.0,
		CarrierFrequency:    2.4e9,
		TransmittingPower:   0.1,
		NoisePower:          4e-11,
		BitRate:             2e6,
		NumberOfSubChannels: 3,

		MacProtocol:              "csma-ca",
		SlotDuration:             20.0,
		SifsDuration:             10.0,
		DifsDuration:             30.0,
		AckTimeoutExtra:          50.0,
		CwMin:                    31,
		CwMax:                    1023,
		MaxRetransmissionAttempt: 5,

		HelloInterval:      1.0 * 1e6,
		NeighborTimeout:    2.5 * 1e6,
		ActiveRouteTimeout: 3.0 * 1e6,

		FormationChangeTime: -1.0,

		Seed: 2024,
	}
}

// ReadParameters initializes a Parameters block from the named file (or,
// when dict is non-empty, from those bytes).  useYAML selects yaml,
// otherwise json.  Unset fields keep their defaults.
func ReadParameters(filename string, useYAML bool, dict []byte) (*Parameters, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	params := DefaultParameters()
	if useYAML {
		err = yaml.Unmarshal(dict, params)
	} else {
		err = json.Unmarshal(dict, params)
	}
	if err != nil {
		return nil, err
	}
	return params, params.Validate()
}

// ReadParametersFile selects yaml or json from the file extension
func ReadParametersFile(filename string) (*Parameters, error) {
	ext := path.Ext(filename)
	useYAML := ext == ".yaml" || ext == ".yml"
	return ReadParameters(filename, useYAML, nil)
}

// Validate reports the first configuration failure found.  Configuration
// failures are fatal at start-up.
func (params *Parameters) Validate() error {
	switch {
	case params.SimTime <= 0:
		return fmt.Errorf("simtime must be positive, have %v", params.SimTime)
	case params.NumberOfDrones < 2:
		return fmt.Errorf("numberofdrones must be at least 2, have %d", params.NumberOfDrones)
	case params.MapLength <= 0 || params.MapWidth <= 0 || params.MapHeight <= 0:
		return fmt.Errorf("map dimensions must be positive, have %v x %v x %v",
			params.MapLength, params.MapWidth, params.MapHeight)
	case params.DefaultSpeed < 0:
		return fmt.Errorf("defaultspeed may not be negative, have %v", params.DefaultSpeed)
	case params.PacketGenerationRate < 0:
		return fmt.Errorf("packetgenerationrate may not be negative, have %v", params.PacketGenerationRate)
	case params.AveragePayloadLength <= 0:
		return fmt.Errorf("averagepayloadlength must be positive, have %d", params.AveragePayloadLength)
	case params.MaxQueueSize <= 0:
		return fmt.Errorf("maxqueuesize must be positive, have %d", params.MaxQueueSize)
	case params.MaxTTL <= 0:
		return fmt.Errorf("maxttl must be positive, have %d", params.MaxTTL)
	case params.DataLossProbability < 0 || params.DataLossProbability > 1:
		return fmt.Errorf("datalossprobability must lie in [0,1], have %v", params.DataLossProbability)
	case params.BitRate <= 0:
		return fmt.Errorf("bitrate must be positive, have %v", params.BitRate)
	case params.NumberOfSubChannels <= 0:
		return fmt.Errorf("numberofsubchannels must be positive, have %d", params.NumberOfSubChannels)
	case params.CwMin <= 0 || params.CwMax < params.CwMin:
		return fmt.Errorf("contention window bounds invalid, have [%d,%d]", params.CwMin, params.CwMax)
	case params.MaxRetransmissionAttempt <= 0:
		return fmt.Errorf("maxretransmissionattempt must be positive, have %d", params.MaxRetransmissionAttempt)
	case params.InitialEnergy <= 0:
		return fmt.Errorf("initialenergy must be positive, have %v", params.InitialEnergy)
	case params.HelloInterval <= 0 || params.NeighborTimeout <= 0 || params.ActiveRouteTimeout <= 0:
		return fmt.Errorf("hello/neighbor/route timers must be positive")
	}

	switch params.TrafficPattern {
	case "poisson", "uniform":
	default:
		return fmt.Errorf("trafficpattern must be poisson or uniform, have %q", params.TrafficPattern)
	}

	switch params.MacProtocol {
	case "csma-ca", "pure-aloha":
	default:
		return fmt.Errorf("macprotocol must be csma-ca or pure-aloha, have %q", params.MacProtocol)
	}
	return nil
}

// dataPacketLength gives the on-air length of a data frame carrying the
// given payload, in bits
func (params *Parameters) dataPacketLength(payload int) int {
	return ipHeaderLength + macHeaderLength + phyHeaderLength + payload
}

// helloPacketLength gives the on-air length of hello and AODV control frames
func (params *Parameters) helloPacketLength() int {
	return ipHeaderLength + macHeaderLength + phyHeaderLength + helloPayloadLength
}

// transmissionTimeUs is the time to clock len bits onto the air, in us
func (params *Parameters) transmissionTimeUs(lenBits int) float64 {
	return float64(lenBits) / params.BitRate * 1e6
}

// ackTimeoutUs is the span a unicast sender waits for an ACK: the ACK's
// own transmission time, one SIFS, and a small guard
func (params *Parameters) ackTimeoutUs() float64 {
	return params.transmissionTimeUs(ackPacketLength) + params.SifsDuration + params.AckTimeoutExtra
}
