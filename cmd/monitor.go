package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"github.com/luma/ams/notify"
	"github.com/luma/ams/protocol"
	"github.com/luma/ams/storage"
)

var (
	// The host to serve the HTTP API on
	httpHost string

	// The port to serve the HTTP API on
	httpPort string

	// Optional sqlite database to record every sample into
	recordPath string

	// Cycle time of the subscriptions
	cycleTime time.Duration
)

func init() {
	flags := MonitorCmd.Flags()

	flags.StringVar(&httpHost, "http-host", "127.0.0.1", "The host to serve the HTTP API on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to serve the HTTP API on")
	flags.StringVar(&recordPath, "record", "", "Record every sample into this sqlite database")
	flags.DurationVar(&cycleTime, "cycle", 100*time.Millisecond, "How often the device checks the variables for changes")
}

var MonitorCmd = &cobra.Command{
	Use:   "monitor <name>=<indexGroup>:<indexOffset>:<length>...",
	Short: "Subscribe to variables and serve their latest values over HTTP",
	Long: `Subscribe to variables and serve their latest values over HTTP

Usage
	ams monitor --host plc.local --netid 5.1.2.3.1.1 MAIN.counter=0x4020:0:4

Endpoints
	GET /ping            liveness
	GET /values          latest value of every variable
	GET /values/:name    latest value of one variable
	GET /samples/:name   recorded samples of one variable, needs --record
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		watches := make([]watch, 0, len(args))
		for _, arg := range args {
			w, err := parseWatch(arg)
			if err != nil {
				return err
			}
			watches = append(watches, w)
		}

		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		s, err := connect(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		log := s.log

		store := storage.NewInmemoryStore()
		defer store.Close()

		var recorder *storage.Recorder
		if recordPath != "" {
			recorder, err = storage.OpenRecorder(ctx, recordPath, log.Named("recorder"))
			if err != nil {
				return err
			}
			defer recorder.Close()
		}

		ids := make([]notify.NotificationID, 0, len(watches))
		defer func() {
			for _, id := range ids {
				if err := s.conn.DeleteNotification(s.target, id.Handle, s.conf.Timeout, s.port); err != nil {
					log.Warn("Failed to delete notification", zap.Uint32("handle", id.Handle), zap.Error(err))
				}
				id.Erase()
			}
		}()

		for i, w := range watches {
			id, err := s.conn.AddNotification(s.target, s.port, &protocol.AddNotificationRequest{
				IndexGroup:  w.IndexGroup,
				IndexOffset: w.IndexOffset,
				Length:      w.Length,
				TransMode:   protocol.TransModeOnChange,
				CycleTime:   uint32(cycleTime / (100 * time.Nanosecond)),
			}, onSample(watches, store, recorder, log), uint32(i), s.conf.Timeout)
			if err != nil {
				return err
			}

			ids = append(ids, id)

			log.Info("Watching", zap.String("name", w.Name), zap.Uint32("handle", id.Handle))
		}

		router := setupRouter(s.conf.DebugHTTP, log)
		addValueRoutes(router, store, recorder)

		srv := &http.Server{
			Addr:    net.JoinHostPort(httpHost, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Stringer("target", s.target),
			zap.String("httpHost", httpHost),
			zap.String("httpPort", httpPort))

		select {
		case <-ctx.Done():
		case <-s.conn.Done():
			log.Warn("Connection to the router was lost")
		}

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

// onSample stores every sample in store and, when recording, in recorder.
// It runs on the dispatcher goroutine of the connection.
func onSample(watches []watch, store storage.Store, recorder *storage.Recorder, log *zap.Logger) notify.Callback {
	return func(source protocol.Addr, n *notify.Notification, user uint32) {
		name := watches[user].Name
		ctx := context.Background()

		if err := store.Set(ctx, []byte(name), newWatchValue(n.Timestamp, n.Data)); err != nil {
			log.Warn("Failed to store sample", zap.String("name", name), zap.Error(err))
		}

		if recorder == nil {
			return
		}

		err := recorder.Record(ctx, &storage.Sample{
			Name:      name,
			Source:    source.String(),
			Handle:    n.Handle,
			Timestamp: n.Timestamp,
			Data:      append([]byte(nil), n.Data...),
		})
		if err != nil {
			log.Warn("Failed to record sample", zap.String("name", name), zap.Error(err))
		}
	}
}

func addValueRoutes(router *gin.Engine, store storage.Store, recorder *storage.Recorder) {
	// Ping test
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/values", func(c *gin.Context) {
		values, err := store.Backup()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "application/json", values)
	})

	router.GET("/values/:name", func(c *gin.Context) {
		value, err := store.Get(c.Request.Context(), []byte(c.Param("name")))
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		if len(value) == 0 {
			c.Status(http.StatusNotFound)
			return
		}

		c.Data(http.StatusOK, "application/json", value)
	})

	router.GET("/samples/:name", func(c *gin.Context) {
		if recorder == nil {
			c.String(http.StatusNotFound, "not recording")
			return
		}

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit < 1 {
			c.String(http.StatusBadRequest, "limit must be a positive number")
			return
		}

		samples, err := recorder.Samples(c.Request.Context(), c.Param("name"), limit)
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		b, err := sonnet.Marshal(samples)
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "application/json", b)
	})
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}
