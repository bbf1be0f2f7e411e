package stickshift

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/stickshift-dev/stickshift/internal/bridge"
	"github.com/stickshift-dev/stickshift/internal/configsvc"
	"github.com/stickshift-dev/stickshift/internal/cuse"
	"github.com/stickshift-dev/stickshift/internal/jsio"
	"github.com/stickshift-dev/stickshift/internal/mapparse"
)

// Daemon is the assembled virtual joystick: a CUSE transport feeding
// the event bridge, which opens the real device and applies the map
// once per descriptor.
type Daemon struct {
	config Config
	log    *zap.Logger

	configSvc *configsvc.Service
	host      *bridge.Host
	transport *cuse.Transport
}

func New(config Config) (*Daemon, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	mapFile, err := filepath.Abs(config.MapFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", config.MapFile, err)
	}
	config.MapFile = mapFile

	if config.OutputDevice != "" {
		major, minor, err := deviceNumbers(config.OutputDevice)
		if err != nil {
			return nil, err
		}
		config.DevMajor = major
		config.DevMinor = minor
	}

	configOut := ""
	if config.Calibrated {
		configOut = config.MapFile
	}
	mapLog := logger.Named("map")
	open := func() (bridge.Source, bridge.Device, error) {
		js, err := jsio.Open(config.InputDevice)
		if err != nil {
			return nil, nil, err
		}
		mapped, err := mapparse.New(mapLog, js, config.MapFile, configOut)
		if err != nil {
			js.Close()
			return nil, nil, err
		}
		return js, mapped, nil
	}

	host, err := bridge.NewHost(logger.Named("bridge"), open)
	if err != nil {
		return nil, err
	}

	devName := fmt.Sprintf("stickshift%d", config.DevMinor)
	return &Daemon{
		config:    config,
		log:       logger,
		configSvc: configsvc.New(logger.Named("config")),
		host:      host,
		transport: cuse.New(logger.Named("cuse"), devName, config.DevMajor, config.DevMinor),
	}, nil
}

// deviceNumbers reads the major and minor numbers of an existing
// character device.
func deviceNumbers(path string) (uint32, uint32, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return 0, 0, fmt.Errorf("%s is not a character device", path)
	}
	return unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev)), nil
}

// Run starts the daemon and blocks until the context is cancelled or
// the kernel ends the device session. Map file edits apply to
// descriptors opened after the edit; open descriptors keep the graph
// they were built with.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return d.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		select {
		case <-groupCtx.Done():
			return nil
		case <-d.configSvc.Ready():
		}
		err := d.configSvc.Watch(d.config.MapFile, func() {
			d.log.Info("map file changed, new opens will use it",
				zap.String("path", d.config.MapFile))
		})
		if err != nil {
			d.log.Warn("failed to watch map file", zap.Error(err))
		}
		return nil
	})
	group.Go(func() error {
		return d.host.Run(groupCtx)
	})
	group.Go(func() error {
		// The daemon is done once the kernel tears the device
		// session down, not only on cancellation.
		err := d.transport.Serve(groupCtx, d.host)
		cancel()
		return err
	})

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("daemon failed: %w", err)
	}
	return nil
}
