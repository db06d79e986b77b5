package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/lox/sanitrack/internal/api"
	"github.com/lox/sanitrack/internal/detect"
	"github.com/lox/sanitrack/internal/display"
	"github.com/lox/sanitrack/internal/events"
	"github.com/lox/sanitrack/internal/geocode"
	"github.com/lox/sanitrack/internal/imagery"
	"github.com/lox/sanitrack/internal/inspection"
	"github.com/lox/sanitrack/internal/registry"
	"github.com/lox/sanitrack/internal/scheduler"
	"github.com/lox/sanitrack/internal/vision"
)

type ServeCmd struct {
	Addr   string `help:"Listen address, overrides api.addr." env:"ADDR"`
	NoJobs bool   `name:"no-jobs" help:"Disable background jobs (server only, for local dev)."`
}

func (c *ServeCmd) Run(app *App) error {
	cfg, logger := app.Config, app.Logger
	if c.Addr != "" {
		cfg.API.Addr = c.Addr
	}

	st, err := app.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("database migrated", "driver", st.Dialect())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var pub events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.ChangesTopic)
		defer kp.Close()
		pub = kp
		logger.Info("publishing changes to kafka", "topic", cfg.Kafka.ChangesTopic)
	}

	svc := inspection.NewService(st, app.Grades, pub, logger, inspection.Options{
		MaxAlternatives: cfg.Ranking.MaxAlternatives,
		NearbyRadiusKM:  cfg.Ranking.NearbyRadiusKM,
		OperationalOnly: cfg.Ranking.OperationalOnly,
	})

	images, err := imagery.NewStore(cfg.Images.Dir)
	if err != nil {
		return err
	}

	server := api.NewServer(st, svc, images, cfg.API, cfg.Ranking, logger)
	server.SetEvents(pub)

	if cfg.Vision.Enabled {
		analyzer, err := vision.NewAnalyzer(cfg.Vision.Model)
		if err != nil {
			logger.Warn("vision analysis disabled", "error", err)
		} else {
			analyzer.SetMaxElapsed(cfg.Vision.Timeout)
			server.SetAnalyzer(analyzer)
		}
	}
	if cfg.Detector.Enabled {
		server.SetDetector(detect.NewClient(cfg.Detector.URL, cfg.Detector.Timeout))
	}
	if cfg.Geocode.Enabled {
		gc, err := geocode.NewClient()
		if err != nil {
			logger.Warn("geocoding disabled", "error", err)
		} else {
			server.SetGeocoder(gc)
		}
	}

	sched := scheduler.New(st, app.Grades, logger)
	sched.SetPayloadRetention(cfg.Storage.PayloadRetention)

	if cfg.Display.Enabled {
		dp, err := display.Connect(cfg.Display.Broker, cfg.Display.ClientID, cfg.Display.TopicPrefix)
		if err != nil {
			return err
		}
		defer dp.Close()
		svc.SetDisplay(dp)
		server.SetDisplay(dp)
		sched.SetDisplay(dp, display.Options{
			MaxSuggestions:  cfg.Ranking.MaxAlternatives,
			RadiusKM:        cfg.Ranking.NearbyRadiusKM,
			OperationalOnly: cfg.Ranking.OperationalOnly,
		}, cfg.Display.RefreshInterval)
		logger.Info("pushing display state over mqtt", "broker", cfg.Display.Broker)
	}

	if cfg.Registry.Enabled {
		src := &registry.FTPSource{
			Host:     cfg.Registry.Host,
			User:     cfg.Registry.User,
			Password: cfg.Registry.Password,
			File:     cfg.Registry.Path,
		}
		sched.SetRegistry(registry.NewSyncer(st, src, logger), cfg.Registry.Schedule)
	}

	if !c.NoJobs {
		go func() {
			if err := sched.Run(ctx); err != nil {
				logger.Error("scheduler stopped", "error", err)
				cancel()
			}
		}()
		if cfg.Kafka.Enabled && cfg.Kafka.InspectionsTopic != "" {
			consumer := events.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.InspectionsTopic, cfg.Kafka.GroupID, logger)
			go consumer.Run(ctx, svc.HandleMessage)
			logger.Info("consuming inspections from kafka", "topic", cfg.Kafka.InspectionsTopic)
		}
	} else {
		logger.Info("background jobs disabled (--no-jobs)")
	}

	return server.Run(ctx)
}
