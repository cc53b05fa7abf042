package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var InfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Read the name and version of the target",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect(context.Background())
		if err != nil {
			return err
		}
		defer s.Close()

		info, err := s.conn.ReadDeviceInfo(s.target, s.port, s.conf.Timeout)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]interface{}{
				"target":  s.target.String(),
				"name":    info.Name,
				"version": fmt.Sprintf("%d.%d.%d", info.Major, info.Minor, info.Build),
			})
		}

		fmt.Printf("%s: %s %d.%d.%d\n", s.target, info.Name, info.Major, info.Minor, info.Build)
		return nil
	},
}
