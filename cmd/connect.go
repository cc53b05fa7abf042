package cmd

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/luma/ams/client"
	"github.com/luma/ams/internal/env"
	"github.com/luma/ams/protocol"
	"github.com/luma/ams/router"
)

var ErrNoRemoteHost = errors.New("No AMS router given, set AMS_REMOTE_HOST or --host")

// session is an open route to the target device.
type session struct {
	conf   *env.Config
	log    *zap.Logger
	router *router.Router
	conn   *client.Conn
	target protocol.Addr
	port   uint16
}

// connect loads the configuration, applies the command line overrides and
// routes the target device over a fresh connection.
func connect(ctx context.Context) (*session, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if remoteHost != "" {
		conf.RemoteHost = remoteHost
	}

	if remoteNetID != "" {
		conf.RemoteNetID = remoteNetID
	}

	if conf.RemoteHost == "" {
		return nil, ErrNoRemoteHost
	}

	log, err := env.MakeLogger(conf.Debug)
	if err != nil {
		return nil, err
	}

	local, err := conf.Local()
	if err != nil {
		return nil, err
	}

	remote, err := conf.Remote()
	if err != nil {
		return nil, err
	}

	r := router.New(router.Options{
		LocalNetID:             local,
		FrameSize:              conf.FrameSize,
		NotificationBufferSize: conf.NotificationBuffer,
		Log:                    log.Named("router"),
	})

	if err := r.AddRoute(ctx, remote, conf.RemoteHost); err != nil {
		return nil, err
	}

	port, err := r.OpenPort()
	if err != nil {
		r.Close()
		return nil, err
	}

	return &session{
		conf:   conf,
		log:    log,
		router: r,
		conn:   r.GetConnection(remote),
		target: protocol.Addr{NetID: remote, Port: amsPort},
		port:   port,
	}, nil
}

func (s *session) Close() error {
	if err := s.router.ClosePort(s.port); err != nil {
		s.log.Warn("Failed to close port", zap.Uint16("port", s.port), zap.Error(err))
	}

	return s.router.Close()
}
