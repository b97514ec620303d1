package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/KoderuNoKo/Operating-System/config"
	"github.com/KoderuNoKo/Operating-System/simulation"
	"github.com/KoderuNoKo/Operating-System/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the processes of a workload file.",
	Long: "`run --config workload.yaml` runs every process of the workload " +
		"and prints the TLB counters. Settings come from the workload file, " +
		"then from the .env files and TLBSIM_* variables, then from flags.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		return runSimulation(cmd, c)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd.Flags())
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Workload file (YAML)")
	fs.StringSlice("env", []string{".env"},
		"Files with TLBSIM_* variables")
	fs.Bool("trace", false, "Print every TLB hit and miss")
	fs.Bool("dump", false, "Print the RAM content")
	fs.String("record", "",
		"Record accesses into <record>.sqlite3")
	fs.Int("monitor-port", 0,
		"Serve the monitoring page on this port")
	fs.Bool("monitor", false,
		"Serve the monitoring page on a random port")
	fs.Bool("open-browser", false,
		"Open the monitoring page in a browser")
	fs.Bool("hold", false,
		"Keep the monitoring page alive until interrupted")
	fs.Uint64("tlb-size", 0, "TLB size in bytes")
	fs.String("mapping", "",
		"TLB mapping policy (direct or set-associative)")
	fs.Int("ways", 0, "Ways of a set-associative TLB")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	c := config.DefaultConfig()

	path, _ := flags.GetString("config")
	if path != "" {
		var err error

		c, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	}

	envFiles, _ := flags.GetStringSlice("env")

	err := c.ApplyEnv(envFiles...)
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("trace") {
		c.Trace, _ = flags.GetBool("trace")
	}

	if flags.Changed("dump") {
		c.DumpMemory, _ = flags.GetBool("dump")
	}

	if flags.Changed("record") {
		c.Record, _ = flags.GetString("record")
	}

	if flags.Changed("monitor-port") {
		c.MonitorPort, _ = flags.GetInt("monitor-port")
	}

	if flags.Changed("tlb-size") {
		c.TLBSize, _ = flags.GetUint64("tlb-size")
	}

	if flags.Changed("mapping") {
		c.Mapping, _ = flags.GetString("mapping")
	}

	if flags.Changed("ways") {
		c.Ways, _ = flags.GetInt("ways")
	}

	return c, c.Validate()
}

func runSimulation(cmd *cobra.Command, c config.Config) error {
	flags := cmd.Flags()
	out := cmd.OutOrStdout()

	builder := simulation.MakeBuilder().
		WithConfig(c).
		WithLogger(log.New(out, "", 0))

	if monitor, _ := flags.GetBool("monitor"); monitor {
		builder = builder.WithMonitoring()
	}

	if open, _ := flags.GetBool("open-browser"); open {
		builder = builder.WithMonitoring().WithBrowser()
	}

	s, err := builder.Build()
	if err != nil {
		return err
	}
	defer s.Terminate()

	runErr := s.Run()
	printStats(out, s.Stats())

	if hold, _ := flags.GetBool("hold"); hold && s.MonitorURL() != "" {
		fmt.Fprintf(os.Stderr,
			"Simulation finished, monitoring at %s until interrupted\n",
			s.MonitorURL())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		<-ctx.Done()
	}

	return runErr
}

func printStats(w io.Writer, s tracing.Stats) {
	fmt.Fprintf(w, "Instructions: %d\n", s.Instructions)
	fmt.Fprintf(w, "Reads: %d, Writes: %d\n", s.Reads, s.Writes)
	fmt.Fprintf(w, "TLB hits: %d, stale hits: %d, misses: %d (hit rate %.2f%%)\n",
		s.Hits, s.StaleHits, s.Misses, s.HitRate()*100)
	fmt.Fprintf(w, "Allocations: %d, Frees: %d\n", s.Allocations, s.Frees)
	fmt.Fprintf(w, "Page-ins: %d, Evictions: %d\n", s.PageIns, s.Evictions)
}
