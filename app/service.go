package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	apiautopilot "github.com/kilianp07/trackpilot/api/autopilot"
	"github.com/kilianp07/trackpilot/config"
	"github.com/kilianp07/trackpilot/core/autopilot"
	"github.com/kilianp07/trackpilot/core/autopilot/journal"
	core "github.com/kilianp07/trackpilot/core/commandstation"
	"github.com/kilianp07/trackpilot/core/events"
	corelayout "github.com/kilianp07/trackpilot/core/layout"
	coremetrics "github.com/kilianp07/trackpilot/core/metrics"
	coremon "github.com/kilianp07/trackpilot/core/monitoring"
	"github.com/kilianp07/trackpilot/infra/commandstation"
	"github.com/kilianp07/trackpilot/infra/logger"
	"github.com/kilianp07/trackpilot/infra/metrics"
	"github.com/kilianp07/trackpilot/infra/monitoring"
	"github.com/kilianp07/trackpilot/internal/eventbus"
)

// Service owns the autopilot and every collaborator it needs.
type Service struct {
	Pilot   *autopilot.AutoPilot
	Store   corelayout.Store
	Station core.CommandStation
	Journal journal.Store

	cfg  *config.Config
	bus  *eventbus.TypedBus[events.Event]
	sink coremetrics.MetricsSink
	api  *http.Server
	log  logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (_ *Service, err error) {
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logg := logger.New(logger.ComponentService)

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	svc := &Service{cfg: cfg, log: logg}
	defer func() {
		if err != nil {
			err = errors.Join(err, svc.Close())
		}
	}()

	if svc.Store, err = OpenLayout(cfg.Layout); err != nil {
		return nil, err
	}
	if svc.Station, err = OpenStation(cfg.CommandStation); err != nil {
		return nil, err
	}
	if svc.Journal, err = OpenJournal(cfg.Journal); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled() {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.MetricsSink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}
	svc.sink = sink

	svc.bus = eventbus.NewTyped[events.Event]()
	svc.Pilot = autopilot.New(svc.Store, svc.Station, cfg.AutoPilot, logger.New(logger.ComponentAutoPilot))
	svc.Pilot.SetJournal(svc.Journal)
	svc.Pilot.SetMetricsSink(sink)
	svc.Pilot.SetEventBus(svc.bus)

	if err := svc.logTopology(); err != nil {
		return nil, err
	}

	api := apiautopilot.NewServer(svc.Pilot, svc.Journal, svc.bus, cfg.API.Token, logger.New(logger.ComponentAPI))
	svc.api = &http.Server{Addr: cfg.API.Address, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return svc, nil
}

func (s *Service) logTopology() error {
	blocks, err := s.Store.Blocks()
	if err != nil {
		return fmt.Errorf("list blocks: %w", err)
	}
	routes, err := s.Store.Routes()
	if err != nil {
		return fmt.Errorf("list routes: %w", err)
	}
	rep := corelayout.Analyze(blocks, routes)
	s.log.Infof("layout: %d blocks, %d routes, %d loops", rep.Blocks, rep.Routes, len(rep.Loops))
	if !rep.Healthy() {
		s.log.Warnf("layout problems: dangling routes %v, dead ends %v, unreachable %v",
			rep.DanglingRoutes, rep.DeadEnds, rep.Unreachable)
	}
	return nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	metrics.StartEventCollector(ctx, s.bus, s.sink)
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, ":"+s.cfg.Metrics.PrometheusPort, nil); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go func() {
		s.log.Infof("api listening on %s", s.api.Addr)
		if err := s.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("api server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.api.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()

	if s.cfg.AutoPilot.StartOnBoot {
		if err := s.Pilot.StartAutoMode(); err != nil {
			s.log.Errorf("start automode: %v", err)
		}
		s.log.Infof("automode on boot: %d locomotives started", s.Pilot.StartAllLocomotives())
	}
	return s.Pilot.Run(ctx)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.Pilot != nil {
		s.Pilot.ClearDispatchers()
		s.Pilot.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if ms, ok := s.Station.(*commandstation.MQTTStation); ok {
		ms.Disconnect()
	}
	if s.Journal != nil {
		errs = append(errs, s.Journal.Close())
	}
	if c, ok := s.Store.(closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
