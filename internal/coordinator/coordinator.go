// Package coordinator wires sources, processors and the messaging
// client together: it registers the discovery set for every
// source/processor pair, runs the polling loop, and keeps publishes
// aligned with the broker connection state.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/verdantlab/brokkoli/internal/config"
	"github.com/verdantlab/brokkoli/internal/imaging"
	"github.com/verdantlab/brokkoli/internal/mqtt"
	"github.com/verdantlab/brokkoli/internal/processor"
	"github.com/verdantlab/brokkoli/internal/source"
)

const (
	// tickInterval is the polling cadence of the processing loop.
	tickInterval = time.Second

	// errorBackoff is the pause after a tick-level failure before the
	// loop resumes.
	errorBackoff = 5 * time.Second
)

// Publisher is the slice of the messaging client the coordinator
// drives. *mqtt.Client satisfies it; tests substitute a recorder.
type Publisher interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool
	RegisterSensor(ctx context.Context, spec mqtt.SensorSpec) error
	PublishSensorData(ctx context.Context, data map[string]any) error
}

// Coordinator owns the processing loop lifecycle.
type Coordinator struct {
	client     Publisher
	sources    []source.Source
	processors []processor.Processor
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs sources and processors from the configuration.
// Unknown source or processor types are logged and skipped; disabled
// sources are not constructed at all.
func New(cfg *config.Config, client Publisher, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		client: client,
		logger: logger,
	}

	for _, sc := range cfg.Sources {
		if !sc.IsEnabled() {
			logger.Info("source disabled", "source", sc.Name)
			continue
		}
		switch sc.Type {
		case "folder":
			interval := time.Duration(sc.UpdateIntervalSec) * time.Second
			src, err := source.NewFolder(sc.Name, sc.Path, interval, logger)
			if err != nil {
				return nil, fmt.Errorf("source %q: %w", sc.Name, err)
			}
			c.sources = append(c.sources, src)
		default:
			logger.Warn("unknown source type", "source", sc.Name, "type", sc.Type)
		}
	}

	for _, pc := range cfg.Processors {
		switch pc.Type {
		case "green_pixels":
			opts := processor.GreenPixelsOptions{
				Enabled:   pc.IsEnabled(),
				Quadrants: pc.Quadrants,
			}
			if pc.HueMax > 0 {
				opts.Lo = imaging.HSV{H: uint8(pc.HueMin), S: uint8(pc.SaturationMin), V: uint8(pc.ValueMin)}
				opts.Hi = imaging.HSV{H: uint8(pc.HueMax), S: 255, V: 255}
			}
			c.processors = append(c.processors, processor.NewGreenPixels(pc.Name, opts, logger))
		default:
			logger.Warn("unknown processor type", "processor", pc.Name, "type", pc.Type)
		}
	}

	return c, nil
}

// Start connects the messaging client (failure here is fatal), starts
// every source, registers the full discovery set, and launches the
// processing loop. The loop runs until ctx is cancelled or Stop is
// called.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect messaging client: %w", err)
	}

	for _, src := range c.sources {
		if err := src.Start(); err != nil {
			c.logger.Error("source failed to start", "source", src.Name(), "error", err)
			continue
		}
		if !src.Available() {
			c.logger.Warn("source is not available", "source", src.Name())
		}
	}

	c.registerAll(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx)

	c.logger.Info("coordinator started",
		"sources", len(c.sources),
		"processors", len(c.processors),
	)
	return nil
}

// Stop halts the processing loop (bounded by ctx), stops every source,
// and disconnects the client, which announces "offline" on the way
// out.
func (c *Coordinator) Stop(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
			c.logger.Warn("processing loop did not stop in time")
		}
	}

	for _, src := range c.sources {
		src.Stop()
	}

	if err := c.client.Disconnect(ctx); err != nil {
		c.logger.Warn("disconnect failed", "error", err)
	}
	c.logger.Info("coordinator stopped")
}

// registerAll announces the discovery cross product: every enabled
// processor's descriptors, namespaced per source. Per-sensor failures
// are logged; the remaining registrations are still attempted.
func (c *Coordinator) registerAll(ctx context.Context) {
	registered := 0
	for _, src := range c.sources {
		slug := slugify(src.Name())
		for _, proc := range c.processors {
			if !proc.Enabled() {
				continue
			}
			for _, desc := range proc.SensorConfigs() {
				spec := mqtt.SensorSpec{
					ID:         sensorID(slug, desc.Key),
					Name:       src.Name() + " " + desc.Name,
					StateTopic: stateTopic(slug, desc.Key),
					Unit:       desc.Unit,
					Icon:       desc.Icon,
					StateClass: desc.StateClass,
				}
				if err := c.client.RegisterSensor(ctx, spec); err != nil {
					c.logger.Error("sensor registration failed", "sensor_id", spec.ID, "error", err)
					continue
				}
				registered++
			}
		}
	}
	c.logger.Info("discovery set registered", "sensors", registered)
}

// run is the processing loop: a fixed-interval tick for the lifetime
// of the context, with a longer backoff after a tick-level failure.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.tick(ctx); err != nil {
				c.logger.Error("processing tick failed", "error", err)
				if !sleepCtx(ctx, errorBackoff) {
					return
				}
			}
		}
	}
}

// tick polls every available source once and publishes the results of
// every enabled processor. Failures on one source or processor are
// isolated; publish errors are joined and returned so the loop backs
// off while the broker is struggling. While the client reports
// disconnected the tick is a no-op: frames stay undelivered and flow
// again after the client's reconnect-and-replay.
func (c *Coordinator) tick(ctx context.Context) error {
	if !c.client.Connected() {
		c.logger.Debug("skipping tick, broker disconnected")
		return nil
	}

	var errs []error
	for _, src := range c.sources {
		if !src.Available() {
			continue
		}

		frame := src.LatestFrame()
		if frame == nil {
			continue
		}
		md := src.Metadata()
		slug := slugify(src.Name())

		for _, proc := range c.processors {
			if !proc.Enabled() {
				continue
			}

			results := proc.Process(frame, md)
			if len(results) == 0 {
				continue
			}

			data := make(map[string]any, len(results))
			for key, value := range results {
				data[sensorID(slug, key)] = value
			}
			if err := c.client.PublishSensorData(ctx, data); err != nil {
				c.logger.Warn("publish failed",
					"source", src.Name(), "processor", proc.Name(), "error", err)
				errs = append(errs, err)
				continue
			}
			c.logger.Debug("results published",
				"source", src.Name(), "processor", proc.Name(), "metrics", len(data))
		}
	}
	return errors.Join(errs...)
}

// sensorID is the namespaced sensor identifier shared by discovery and
// state publishing.
func sensorID(sourceSlug, metricKey string) string {
	return "brokkoli_" + sourceSlug + "_" + metricKey
}

// stateTopic is where a sensor's values are published.
func stateTopic(sourceSlug, metricKey string) string {
	return "brokkoli/" + sourceSlug + "/" + metricKey + "/state"
}

// slugify lowercases a display name and replaces spaces so it can be
// embedded in topics and ids.
func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
