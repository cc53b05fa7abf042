package cmd

import (
	"context"
	"encoding/binary"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/ams/internal/env"
	"github.com/luma/ams/protocol"
	"github.com/luma/ams/simulator"
	"github.com/luma/ams/transport"
)

// The simulated device increments a uint32 counter at this location.
const (
	counterGroup  = 0x4020
	counterOffset = 0
)

var (
	// The host to accept AMS/TCP connections on
	listenHost string

	// The port to accept AMS/TCP connections on
	listenPort int

	// How often the counter is incremented
	tickInterval time.Duration
)

func init() {
	flags := SimulateCmd.Flags()

	flags.StringVar(&listenHost, "listen", "0.0.0.0", "The host to accept AMS/TCP connections on")
	flags.IntVar(&listenPort, "listen-port", transport.AmsTCPPort, "The port to accept AMS/TCP connections on")
	flags.DurationVar(&tickInterval, "tick", time.Second, "How often the counter at 0x4020:0 is incremented")
}

var SimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated device",
	Long: `Run a simulated device

The device answers device info, state, read, write and notification
requests addressed to --netid and --ams-port. A uint32 counter at
0x4020:0 is incremented every --tick.

Usage
	ams simulate --netid 5.1.2.3.1.1 --listen-port 48898
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.Debug)
		if err != nil {
			return err
		}

		if remoteNetID != "" {
			conf.RemoteNetID = remoteNetID
		}

		netID, err := conf.Remote()
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		device := simulator.New(simulator.Options{
			Addr:      protocol.Addr{NetID: netID, Port: amsPort},
			Info:      protocol.DeviceInfo{Major: 1, Name: "ams simulator"},
			Host:      listenHost,
			Port:      listenPort,
			Reuseport: true,
			Log:       log.Named("simulator"),
		})

		if err := device.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.Stringer("addr", device.AmsAddr()),
			zap.Stringer("listen", device.Addr()))

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		var counter uint32
		for {
			select {
			case <-ctx.Done():
				signalStop()
				log.Info("Shutting down")

				return device.Close()

			case <-ticker.C:
				counter++

				var value [4]byte
				binary.LittleEndian.PutUint32(value[:], counter)

				if err := device.SetValue(counterGroup, counterOffset, value[:]); err != nil {
					log.Warn("Failed to notify subscribers", zap.Error(err))
				}
			}
		}
	},
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
