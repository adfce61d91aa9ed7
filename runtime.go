package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/insight-tts/internal/audio"
	"github.com/dgnsrekt/insight-tts/internal/bus"
	"github.com/dgnsrekt/insight-tts/internal/cache"
	"github.com/dgnsrekt/insight-tts/internal/config"
	"github.com/dgnsrekt/insight-tts/internal/observe"
	"github.com/dgnsrekt/insight-tts/internal/session"
)

// runtime owns the orchestrator and the services around it.
type runtime struct {
	orch      *session.Orchestrator
	sink      audio.Sink
	cache     *cache.Cache
	telemetry *observe.Provider
	bridge    *bus.Bridge

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// startRuntime builds the playback stack for cfg. When path is set the
// configuration file is watched and changes apply to the next session.
func startRuntime(ctx context.Context, cfg config.Config, path string) (*runtime, error) {
	ctx, cancel := context.WithCancel(ctx)
	rt := &runtime{cancel: cancel}

	var opts []session.Option

	if cfg.Metrics.Enabled {
		p, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    config.AppName,
			ServiceVersion: Version,
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("unable to start metrics: %w", err)
		}
		rt.telemetry = p
		opts = append(opts, session.WithMetrics(p.Metrics))

		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := p.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Error("Metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(int64(cfg.Cache.MaxMB) << 20)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.cache = c
		opts = append(opts, session.WithCache(c))
	}

	sink, err := audio.NewSink(audio.SinkType(cfg.Playback.Output), cfg.Format())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.sink = sink
	rt.orch = session.New(sink, cfg.Session(), opts...)

	if cfg.Events.NATSURL != "" {
		b, err := bus.Connect(bus.Config{URL: cfg.Events.NATSURL, Subject: cfg.Events.Subject})
		if err != nil {
			// Playback works without the bridge.
			log.Warn("Session events will not be published", "error", err)
		} else {
			rt.bridge = b
			events, unsubscribe := rt.orch.Events().Subscribe(session.DefaultEventBuffer)
			rt.wg.Add(1)
			go func() {
				defer rt.wg.Done()
				defer unsubscribe()
				b.Run(ctx, events)
			}()
		}
	}

	if path != "" {
		err := config.Watch(ctx, path, func(c config.Config) {
			if c.Format() != cfg.Format() || c.Playback.Output != cfg.Playback.Output {
				log.Warn("Output device changes apply after a restart")
			}
			rt.orch.SetConfig(c.Session())
		})
		if err != nil {
			log.Warn("Configuration changes will not be reloaded", "error", err)
		}
	}

	return rt, nil
}

// Close stops playback and releases every service.
func (rt *runtime) Close() error {
	var errs []error
	if rt.orch != nil {
		errs = append(errs, rt.orch.Close())
	}

	rt.cancel()
	rt.wg.Wait()
	rt.bridge.Close()

	if rt.sink != nil {
		errs = append(errs, rt.sink.Close())
	}
	if rt.cache != nil {
		st := rt.cache.Stats()
		log.Debug("Replay cache", "entries", st.Items, "size", humanize.Bytes(uint64(st.Size)), "hits", st.Hits, "misses", st.Misses) //nolint:gosec
	}
	if rt.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errs = append(errs, rt.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
