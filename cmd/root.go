package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"

	"github.com/luma/ams/cmd/gen"
	"github.com/luma/ams/internal/meta"
)

var (
	// The AMS router to connect to, overrides AMS_REMOTE_HOST
	remoteHost string

	// The NetID of the target device, overrides AMS_REMOTE_NETID
	remoteNetID string

	// The AMS port of the target device
	amsPort uint16

	// Print results as JSON
	jsonOutput bool
)

var RootCmd = &cobra.Command{
	Use:   "ams",
	Short: "Talk to automation devices over AMS/TCP",
	Long: `Talk to automation devices over AMS/TCP

Connection settings are read from the environment (AMS_REMOTE_HOST,
AMS_REMOTE_NETID, AMS_LOCAL_NETID, AMS_TIMEOUT, ...) and .env.local, the
flags below take precedence.`,
	SilenceUsage: true,
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := meta.GetInfo()

		if jsonOutput {
			return printJSON(info)
		}

		fmt.Fprintln(cmd.OutOrStdout(), info)
		return nil
	},
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&remoteHost, "host", "a", "", "The AMS router to connect to, host[:port]")
	flags.StringVarP(&remoteNetID, "netid", "n", "", "The NetID of the target device")
	flags.Uint16VarP(&amsPort, "ams-port", "p", 851, "The AMS port of the target device")
	flags.BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	RootCmd.AddCommand(
		VersionCmd,
		StateCmd,
		InfoCmd,
		MonitorCmd,
		SimulateCmd,
		gen.RootCmd,
	)
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	b, err := sonnet.Marshal(v)
	if err != nil {
		return err
	}

	fmt.Println(string(b))
	return nil
}
