package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/sarchlab/procsim/datarecording"
	"github.com/sarchlab/procsim/monitoring"
	"github.com/sarchlab/procsim/scenario"
	"github.com/sarchlab/procsim/sim"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configFile  string
	until       float64
	seed        uint64
	record      string
	monitor     bool
	monitorPort int
	openBrowser bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run [scenario]",
	Short: "Run a scenario and print its report.",
	Long: `Run a scenario and print its report. The scenario is either given ` +
		`as an argument or selected by the configuration file. Flags ` +
		`override the values of the configuration file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(cmd, args)
		if err != nil {
			return err
		}

		log := logrus.WithField("scenario", cfg.Scenario)
		opts := scenario.Options{Log: log}

		var recorder datarecording.DataRecorder
		if runOpts.record != "" {
			recorder, err = datarecording.NewDataRecorder(runOpts.record)
			if err != nil {
				return err
			}
			defer recorder.Close()

			opts.Recorder = recorder
		}

		var monitor *monitoring.Monitor
		if runOpts.monitor {
			monitor = monitoring.NewMonitor().
				WithPortNumber(monitorPort(cmd)).
				WithLogger(log)
			defer stopMonitor(monitor)

			opts.BeforeRun = func(env *scenario.Env) {
				attachMonitor(monitor, env)
			}
		}

		report, err := scenario.Run(cfg, opts)
		if err != nil {
			return err
		}

		if recorder != nil {
			report.Record(recorder)
			log.WithField("file", runOpts.record+".sqlite3").
				Info("report recorded")
		}

		return report.Print(cmd.OutOrStdout())
	},
}

func loadRunConfig(cmd *cobra.Command, args []string) (*scenario.Config, error) {
	var cfg *scenario.Config

	switch {
	case runOpts.configFile != "":
		c, err := scenario.LoadConfig(runOpts.configFile)
		if err != nil {
			return nil, err
		}

		cfg = c
		if len(args) == 1 {
			cfg.Scenario = args[0]
		}
	case len(args) == 1:
		cfg = scenario.DefaultConfig(args[0])
	default:
		return nil, errors.New("a scenario or a config file is required")
	}

	if cmd.Flags().Changed("until") {
		cfg.Until = runOpts.until
	}

	if cmd.Flags().Changed("seed") {
		cfg.Seed = runOpts.seed
	}

	return cfg, nil
}

func monitorPort(cmd *cobra.Command) int {
	if cmd.Flags().Changed("monitor-port") {
		return runOpts.monitorPort
	}

	v, ok := os.LookupEnv("PROCSIM_MONITOR_PORT")
	if !ok {
		return runOpts.monitorPort
	}

	port, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField("value", v).Warn("ignoring invalid PROCSIM_MONITOR_PORT")
		return runOpts.monitorPort
	}

	return port
}

func attachMonitor(m *monitoring.Monitor, env *scenario.Env) {
	m.RegisterEngine(env.Engine)

	for _, r := range env.Resources() {
		m.RegisterResource(r)
	}

	bar := m.CreateProgressBar("processes", 0)
	env.Engine.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
		switch ctx.Pos {
		case sim.HookPosProcessStart:
			bar.IncrementTotal(1)
			bar.IncrementInProgress(1)
		case sim.HookPosProcessEnd:
			bar.MoveInProgressToFinished(1)
		}
	}))

	url, err := m.StartServer()
	if err != nil {
		logrus.WithError(err).Error("cannot start monitor")
		return
	}

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	if runOpts.openBrowser {
		m.OpenInBrowser(url)
	}
}

func stopMonitor(m *monitoring.Monitor) {
	if err := m.StopServer(); err != nil {
		logrus.WithError(err).Warn("cannot stop monitor")
	}
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.configFile, "config", "", "YAML configuration file")
	f.Float64Var(&runOpts.until, "until", 0,
		"Simulation horizon, 0 for the scenario default")
	f.Uint64Var(&runOpts.seed, "seed", 42, "Random seed")
	f.StringVar(&runOpts.record, "record", "",
		"Record the report into <name>.sqlite3")
	f.BoolVar(&runOpts.monitor, "monitor", false,
		"Serve the monitor while running")
	f.IntVar(&runOpts.monitorPort, "monitor-port", 0,
		"Port of the monitor, 0 for a random port")
	f.BoolVar(&runOpts.openBrowser, "open-browser", false,
		"Open the monitor in a browser")

	rootCmd.AddCommand(runCmd)
}
