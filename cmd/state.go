package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/ams/protocol"
)

var stateNames = map[uint16]string{
	protocol.StateInvalid: "invalid",
	protocol.StateIdle:    "idle",
	protocol.StateReset:   "reset",
	protocol.StateInit:    "init",
	protocol.StateStart:   "start",
	protocol.StateRun:     "run",
	protocol.StateStop:    "stop",
	protocol.StateConfig:  "config",
}

var StateCmd = &cobra.Command{
	Use:   "state",
	Short: "Read the ADS and device state of the target",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect(context.Background())
		if err != nil {
			return err
		}
		defer s.Close()

		state, err := s.conn.ReadState(s.target, s.port, s.conf.Timeout)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]interface{}{
				"target":      s.target.String(),
				"adsState":    state.AdsState,
				"deviceState": state.DeviceState,
			})
		}

		name, ok := stateNames[state.AdsState]
		if !ok {
			name = "unknown"
		}

		fmt.Printf("%s: %s (%d), device state %d\n", s.target, name, state.AdsState, state.DeviceState)
		return nil
	},
}
