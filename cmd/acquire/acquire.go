// Package acquire implements the long-running acquisition command.
package acquire

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/api"
	"github.com/tphakala/biosig-go/internal/archive"
	"github.com/tphakala/biosig-go/internal/catalog"
	"github.com/tphakala/biosig-go/internal/conf"
	"github.com/tphakala/biosig-go/internal/events"
	"github.com/tphakala/biosig-go/internal/hello"
	"github.com/tphakala/biosig-go/internal/logger"
	"github.com/tphakala/biosig-go/internal/notification"
	"github.com/tphakala/biosig-go/internal/observability"
	"github.com/tphakala/biosig-go/internal/recorder"
	"github.com/tphakala/biosig-go/internal/sinks"
	"github.com/tphakala/biosig-go/internal/sources/soundcard"
	"github.com/tphakala/biosig-go/internal/sources/synthetic"
)

const (
	shutdownTimeout = 10 * time.Second
	busDrainTimeout = 5 * time.Second
)

// Command creates the acquire command.
func Command(settings *conf.Settings) *cobra.Command {
	var idle bool

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Run the acquisition server",
		Long:  "Acquire samples from the configured source, publish them to the sinks and optionally record segment chains.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, !idle)
		},
	}

	cmd.Flags().BoolVar(&idle, "idle", false, "Wait for a start request instead of starting a session immediately")
	if err := setupFlags(cmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	return cmd
}

// setupFlags configures flags specific to the acquire command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Acquisition.Source, "source", viper.GetString("acquisition.source"), "Sample source (\"synthetic\" or \"soundcard\")")
	cmd.Flags().StringSliceVar(&settings.Acquisition.DeviceIDs, "device", viper.GetStringSlice("acquisition.deviceids"), "Device identifier, repeat for several amplifiers")
	cmd.Flags().IntVar(&settings.Acquisition.SampleRate, "samplerate", viper.GetInt("acquisition.samplerate"), "Samples per second per channel")
	cmd.Flags().BoolVar(&settings.Recording.Enabled, "record", viper.GetBool("recording.enabled"), "Record from session start")
	cmd.Flags().StringVar(&settings.Recording.Directory, "datadir", viper.GetString("recording.directory"), "Root directory for recordings")
	cmd.Flags().IntVar(&settings.Recording.SplitMs, "splitms", viper.GetInt("recording.splitms"), "Rotate segments after this many milliseconds, 0 disables")
	cmd.Flags().StringVar(&settings.API.Listen, "listen", viper.GetString("api.listen"), "Listen address of the HTTP API")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

// Run wires the pipeline, starts the configured services and blocks until
// ctx ends or SIGINT/SIGTERM arrives.
func Run(ctx context.Context, settings *conf.Settings, autostart bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Global().Module("acquire")

	loc, err := time.LoadLocation(settings.Main.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", settings.Main.Timezone, err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	bus, err := events.Initialize(events.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer func() {
		if err := events.Shutdown(busDrainTimeout); err != nil {
			log.Warn("event bus shutdown incomplete", logger.Error(err))
		}
	}()

	store, err := openCatalog(settings, bus, log)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn("catalog close failed", logger.Error(err))
			}
		}()
	}

	archiver, err := startArchive(settings, bus, log)
	if err != nil {
		return err
	}
	if archiver != nil {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := archiver.Stop(stopCtx); err != nil {
				log.Warn("archive shutdown incomplete", logger.Error(err))
			}
		}()
	}

	if err := registerNotifications(settings, bus, log); err != nil {
		return err
	}

	realtime := sinks.NewRealtime(settings.Sink.History)
	sink := acquisition.Sink(realtime)
	if settings.Sink.MQTT.Enabled {
		mq := sinks.NewMQTT(settings.Sink.MQTT, settings.Main.Name, log)
		mq.SetObserver(metrics.MQTT)
		connectCtx, cancel := context.WithTimeout(ctx, sinks.DefaultConnectTimeout)
		err := mq.Connect(connectCtx)
		cancel()
		if err != nil {
			// Auto-reconnect is not armed before the first connect succeeds
			mq.Close()
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer mq.Close()
		sink = sinks.NewFanout(realtime, mq)
	}

	ctrl := acquisition.NewController(acquisition.Options{
		Producer: newProducer(settings),
		Sink:     sink,
		Recorder: recorder.New(recorder.Options{
			Calibration: settings.Recording.Calibration,
			MinFreeMB:   settings.Recording.MinFreeMB,
		}),
		RecordingPath:  recorder.PathResolver(&settings.Recording, loc),
		BufferCapacity: settings.Acquisition.BufferCapacity,
		ScaleFactor:    settings.Acquisition.ScaleFactor,
		HighPass:       settings.Acquisition.HighPass,
		SplitMs:        settings.Recording.SplitMs,
		Metrics:        metrics.Acquisition,
	})

	sessionCfg := DefaultSession(settings)

	g, gctx := errgroup.WithContext(ctx)

	if settings.API.Enabled {
		opts := []api.ServerOption{
			api.WithRealtime(realtime),
			api.WithMetrics(metrics),
			api.WithDeviceLister(soundcard.ListDevices),
		}
		if store != nil {
			opts = append(opts, api.WithCatalog(store))
		}
		server, err := api.New(settings, ctrl, sessionCfg, opts...)
		if err != nil {
			return err
		}
		g.Go(func() error { return server.Run(gctx) })
	}

	if settings.Hello.Enabled {
		greeter, err := hello.New(settings.Hello.Listen, settings.Hello.Greeting, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return greeter.Run(gctx) })
	}

	if autostart {
		if err := ctrl.Start(ctx, sessionCfg); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return ctrl.Stop()
	})

	log.Info("acquisition server running",
		logger.String("node", settings.Main.Name),
		logger.String("source", settings.Acquisition.Source),
		logger.Bool("autostart", autostart))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("acquisition server stopped")
	return nil
}

// DefaultSession builds the session started at launch and by API requests
// without overrides.
func DefaultSession(settings *conf.Settings) acquisition.SessionConfig {
	return acquisition.SessionConfig{
		ProducerConfig: acquisition.ProducerConfig{
			DeviceIDs:       settings.Acquisition.DeviceIDs,
			Channels:        settings.Acquisition.Channels,
			SampleRate:      settings.Acquisition.SampleRate,
			SamplesPerBlock: settings.Acquisition.BlockSize(),
		},
		Record: settings.Recording.Enabled,
	}
}

func newProducer(settings *conf.Settings) acquisition.Producer {
	if settings.Acquisition.Source == conf.SourceSoundcard {
		return soundcard.New(soundcard.Config{}, nil)
	}
	syn := settings.Acquisition.Synthetic
	return synthetic.New(synthetic.Config{
		Frequency: syn.Frequency,
		Amplitude: syn.Amplitude,
		Noise:     syn.Noise,
		FailAfter: syn.FailAfter,
		FailOpen:  syn.FailOpen,
		Seed:      uint64(time.Now().UnixNano()),
	}, nil)
}

func openCatalog(settings *conf.Settings, bus *events.EventBus, log logger.Logger) (*catalog.Store, error) {
	if !settings.Catalog.Enabled {
		return nil, nil
	}
	store, err := catalog.Open(&settings.Catalog, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := bus.RegisterConsumer(catalog.NewConsumer(store)); err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info("catalog enabled", logger.String("type", settings.Catalog.Type))
	return store, nil
}

func startArchive(settings *conf.Settings, bus *events.EventBus, log logger.Logger) (*archive.Archiver, error) {
	if !settings.Archive.Enabled {
		return nil, nil
	}
	target, err := archive.NewTarget(&settings.Archive, nil)
	if err != nil {
		return nil, err
	}
	archiver := archive.New(target, &settings.Archive, nil)
	if err := bus.RegisterConsumer(archive.NewConsumer(archiver)); err != nil {
		_ = target.Close()
		return nil, err
	}
	archiver.Start()
	log.Info("archive enabled", logger.String("target", target.Name()))
	return archiver, nil
}

func registerNotifications(settings *conf.Settings, bus *events.EventBus, log logger.Logger) error {
	if !settings.Notification.Enabled {
		return nil
	}
	notifier, err := notification.NewShoutrrr(settings.Notification.URLs, nil)
	if err != nil {
		return err
	}
	if err := bus.RegisterConsumer(notification.NewConsumer(notifier, settings.Main.Name)); err != nil {
		return err
	}
	log.Info("notifications enabled", logger.Int("urls", len(settings.Notification.URLs)))
	return nil
}
