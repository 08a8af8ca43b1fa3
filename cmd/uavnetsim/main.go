package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/uavnetsim/uavnet"
)

var (
	configFile string
	simTimeSec float64
	numDrones  int
	seed       int64
	traceFile  string
	verbose    bool

	expName    string
	outputFile string
)

var rootCmd = &cobra.Command{
	Use:   "uavnetsim",
	Short: "Discrete-event simulator for flying ad-hoc networks",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single simulation and print the metric summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var traceMgr *uavnet.TraceManager
		if traceFile != "" {
			traceMgr = uavnet.CreateTraceManager("uavnetsim", true)
		}

		sim, err := uavnet.CreateSimulator(cfg, traceMgr)
		if err != nil {
			return err
		}
		if verbose {
			sim.SetLogLevel(logrus.InfoLevel)
		}

		sim.Run()

		summary := sim.Metrics().Summary(cfg.SimTime)
		fmt.Printf("Totally sent: %d data packets\n", summary.Generated)
		fmt.Printf("Packet delivery ratio: %.2f %%\n", summary.Pdr*100.0)
		fmt.Printf("Average end-to-end delay: %.3f ms\n", summary.MeanLatencyMs)
		fmt.Printf("Jitter: %.3f ms\n", summary.JitterMs)
		fmt.Printf("Routing load: %.3f\n", summary.RoutingLoad)
		fmt.Printf("Average throughput: %.3f Kbps\n", summary.MeanThroughputKbps)
		fmt.Printf("Average hop count: %.2f\n", summary.MeanHopCount)
		fmt.Printf("Collisions: %d\n", summary.Collisions)
		fmt.Printf("Average mac delay: %.3f ms\n", summary.MeanMacDelayMs)
		fmt.Printf("Drops (queue/ttl/retry/channel): %d/%d/%d/%d\n",
			summary.DroppedQueue, summary.DroppedTTL, summary.DroppedRetry, summary.DroppedChannel)
		fmt.Printf("Average energy consumed: %.1f J\n", summary.MeanEnergyConsumedJ)

		if traceMgr != nil {
			return traceMgr.WriteToFile(traceFile, false)
		}
		return nil
	},
}

var expCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Run a canonical experiment and write its CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out := os.Stdout
		if outputFile != "" {
			f, cerr := os.Create(outputFile)
			if cerr != nil {
				return cerr
			}
			defer f.Close()
			out = f
		}

		switch expName {
		case "e1":
			speeds := []float64{0, 10, 20, 30, 40, 50}
			return uavnet.RunSpeedSweep(cfg, speeds, out)
		case "e2":
			rates := []float64{1, 5, 10, 20, 50}
			return uavnet.RunRateSweep(cfg, rates, out)
		case "e3":
			return uavnet.RunFormationTransition(cfg, out)
		default:
			return fmt.Errorf("unknown experiment %q, expect e1, e2 or e3", expName)
		}
	},
}

func loadConfig() (*uavnet.Parameters, error) {
	var cfg *uavnet.Parameters
	var err error
	if configFile != "" {
		cfg, err = uavnet.ReadParametersFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = uavnet.DefaultParameters()
	}

	if simTimeSec > 0 {
		cfg.SimTime = simTimeSec * 1e6
	}
	if numDrones > 0 {
		cfg.NumberOfDrones = numDrones
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	return cfg, cfg.Validate()
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "parameter file (yaml or json)")
	rootCmd.PersistentFlags().Float64Var(&simTimeSec, "sim-time", 0, "simulation horizon in seconds")
	rootCmd.PersistentFlags().IntVar(&numDrones, "drones", 0, "number of drones")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "master RNG seed")

	runCmd.Flags().StringVar(&traceFile, "trace", "", "write an execution trace (yaml or json)")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log protocol events")

	expCmd.Flags().StringVar(&expName, "name", "e1", "experiment to run: e1, e2 or e3")
	expCmd.Flags().StringVarP(&outputFile, "output", "o", "", "CSV output file (default stdout)")

	rootCmd.AddCommand(runCmd, expCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
