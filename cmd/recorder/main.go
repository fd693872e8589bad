package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"patrol-tracker/internal/api"
	"patrol-tracker/internal/config"
	"patrol-tracker/internal/metrics"
	"patrol-tracker/internal/patrol"
	"patrol-tracker/internal/position"
	"patrol-tracker/internal/publisher"
	"patrol-tracker/internal/store"
	"patrol-tracker/internal/track"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer st.Close()

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval, cfg.MaxAccuracy)
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	hub := api.NewHub(cfg.OwnerID)
	observers := patrol.Observers{patrol.LogObserver{Verbose: cfg.LogFixes}, hub}
	if mcol != nil {
		observers = append(observers, mcol.Observer())
	}

	// Bus publishers are optional; each one mirrors the recorder events.
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, "patrol-recorder", cfg.LogBusTopics, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		observers = append(observers, publisher.NewObserver(pub, cfg.BusTopicPrefix, cfg.OwnerID))
		log.Printf("publishing to nats at %s", cfg.NATSURL)
	}
	if cfg.MQTTBroker != "" {
		pub, err := publisher.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.LogBusTopics, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("mqtt error: %v", err)
		}
		defer pub.Close()
		observers = append(observers, publisher.NewObserver(pub, cfg.BusTopicPrefix, cfg.OwnerID))
		log.Printf("publishing to mqtt at %s", cfg.MQTTBroker)
	}

	src, closer, err := openSource(cfg)
	if err != nil {
		log.Fatalf("position source error: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	if mcol != nil {
		src = mcol.Source(src)
	}

	rec := patrol.NewRecorder(patrol.Config{
		PollInterval:   cfg.PollInterval,
		ElapsedTick:    cfg.ElapsedTick,
		FixTimeout:     cfg.FixTimeout,
		MinTrackPoints: cfg.MinTrackPoints,
		Filter: track.FilterConfig{
			MaxAccuracy:     cfg.MaxAccuracy,
			MinInterval:     cfg.MinInterval,
			MinDisplacement: cfg.MinDisplacement,
		},
	}, src, observers)

	srv := api.NewServer(ctx, rec, st, hub, cfg.OwnerID, cfg.Location, api.WithSaveHook(saveHook(mcol)))
	httpSrv := srv.Serve(cfg.HTTPAddr)
	log.Printf("patrol recorder ready for %s (source=%s, store=%s)", cfg.OwnerID, cfg.Source, st.Driver())

	// Block until context cancelled
	<-ctx.Done()

	// A patrol still recording at shutdown is finished and saved.
	if rec.Status().State == patrol.Recording {
		record, err := rec.Stop()
		if err != nil {
			log.Printf("patrol in progress discarded at shutdown: %v", err)
		} else {
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := srv.Persist(saveCtx, record); err != nil {
				log.Printf("could not save patrol %s at shutdown: %v", record.ID, err)
			}
			cancel()
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	dsn := cfg.DatabaseURL
	if cfg.StoreDriver == store.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	st, err := store.Open(cfg.StoreDriver, dsn)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func openSource(cfg *config.Config) (position.Source, io.Closer, error) {
	switch cfg.Source {
	case config.SourceNMEAFile:
		s, err := position.OpenReplay(cfg.NMEAFile)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("replaying NMEA log %s", cfg.NMEAFile)
		return s, s, nil
	case config.SourceSerial:
		s, err := position.OpenSerial(cfg.SerialPort, cfg.SerialBaud)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.SourceSim:
		route := position.DefaultRoute()
		if cfg.SimRouteFile != "" {
			r, err := position.LoadRouteFile(cfg.SimRouteFile)
			if err != nil {
				return nil, nil, err
			}
			route = r
		}
		s, err := position.NewSimulator(route, position.SimOptions{
			SpeedMps: cfg.SimSpeedMps,
			Accuracy: cfg.SimAccuracy,
			Jitter:   cfg.SimJitter,
			Seed:     uint64(time.Now().UnixNano()),
			Loop:     true,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Printf("simulating a %.0fm route at %.1f m/s", s.Length(), cfg.SimSpeedMps)
		return s, nil, nil
	default:
		return nil, nil, errors.New("unknown source " + cfg.Source)
	}
}

func saveHook(c *metrics.Collector) func(error) {
	return func(err error) {
		if c == nil {
			return
		}
		c.ObserveSave(err)
	}
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) PublishedInc(t string)  { p.c.BusPublished.WithLabelValues(t).Inc() }
func (p *pubMetrics) PublishErrInc(t string) { p.c.BusPublishErr.WithLabelValues(t).Inc() }
func (p *pubMetrics) PublishObserve(t string, d time.Duration) {
	p.c.PublishDuration.WithLabelValues(t).Observe(d.Seconds())
}
func (p *pubMetrics) SetConnected(t string, b bool) {
	if b {
		p.c.BusConnected.WithLabelValues(t).Set(1)
	} else {
		p.c.BusConnected.WithLabelValues(t).Set(0)
	}
}
