// Command napd-local-control supervises a dual-pump skid: it turns panel
// buttons into pump commands, sets the selected pump's target rate from the
// potentiometer, latches faults and serves live telemetry to the dashboard.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/napd/local-control/internal/config"
	"github.com/napd/local-control/internal/control"
	"github.com/napd/local-control/internal/gpio"
	"github.com/napd/local-control/internal/hub"
	"github.com/napd/local-control/internal/logic"
	"github.com/napd/local-control/internal/tags"
	"github.com/napd/local-control/internal/telemetry"
	"github.com/napd/local-control/internal/web"
)

func main() {
	configPath := pflag.StringP("config", "c", "/etc/napd/local-control.yaml", "Path to the YAML configuration")
	httpAddr := pflag.String("http", "", "HTTP listen address (overrides http.addr)")
	broker := pflag.String("broker", "", "MQTT broker address (overrides mqtt.broker)")
	printConfig := pflag.Bool("print-config", false, "Print the resolved configuration and exit")

	pflag.Parse()

	if err := run(*configPath, *httpAddr, *broker, *printConfig); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(configPath, httpAddr, broker string, printConfig bool) error {
	cfg, err := config.Load(configPath, config.WithHTTPAddr(httpAddr), config.WithBroker(broker))
	if err != nil {
		return err
	}

	if printConfig {
		out, err := cfg.Marshal()
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	startTime := time.Now()

	driver, err := gpio.Open(cfg.Driver())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer driver.Close()

	tagStore, err := tags.NewMQTTStore(cfg.Tags())
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer tagStore.Close()

	selector := logic.NewPumpSelector()
	faults := logic.NewFaultLatch()
	snapshots := telemetry.NewStore(time.Now)

	h := hub.New(snapshots, selector, cfg.Hub())
	selector.OnChange(h.PublishSelection)

	loop := control.NewLoop(cfg.LoopConfig(), driver, tagStore, selector, faults, snapshots, h)
	if err := loop.Prime(); err != nil {
		// The first tick seeds the filter instead.
		log.Printf("initial potentiometer read: %v", err)
	}

	router := control.NewRouter(selector, faults, tagStore, cfg.Sources())
	if err := router.Bind(driver, cfg.ControlPins(), cfg.StartEdge(), cfg.Debounce); err != nil {
		return err
	}

	// Publish startup event with the initial snapshot
	events := &lifecycle{
		publisher: tagStore,
		status:    tagStore,
		snapshots: snapshots,
		selection: selector,
		broker:    cfg.MQTT.Broker,
		startTime: startTime,
		now:       time.Now,
	}
	events.publish(telemetry.EventStartup, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := web.New(cfg.HTTP.Addr, web.Deps{Hub: h, Data: snapshots, Selection: selector})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()
	defer func() {
		h.Close()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}()
	log.Printf("http server listening on %s", cfg.HTTP.Addr)

	log.Printf("started: loop=%v debounce=%v broker=%s pumps=%s,%s",
		cfg.LoopPeriod, cfg.Debounce, cfg.MQTT.Broker, cfg.Pumps.Pump1, cfg.Pumps.Pump2)

	ticker := time.NewTicker(cfg.LoopPeriod)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if cfg.MQTT.StatusHeartbeat > 0 {
		hb := time.NewTicker(cfg.MQTT.StatusHeartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop, events, ticker.C, heartbeat, sigCh)
}

// reconciler runs one pass of the control loop.
type reconciler interface {
	Tick() bool
}

// runLoop drives the control loop until a signal arrives. A nil heartbeat
// channel disables HEARTBEAT events.
func runLoop(loop reconciler, events *lifecycle, tick, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			events.publish(telemetry.EventShutdown, signalName(s))
			return nil

		case <-tick:
			loop.Tick()

		case <-heartbeat:
			events.publish(telemetry.EventHeartbeat, "")
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// systemPublisher sends lifecycle events to the system topic.
type systemPublisher interface {
	PublishSystem(payload []byte) error
}

// connectionStatus reports whether the broker connection is up.
type connectionStatus interface {
	Connected() bool
}

// lifecycle publishes system events carrying the current snapshot.
type lifecycle struct {
	publisher systemPublisher
	status    connectionStatus
	snapshots *telemetry.Store
	selection hub.Selection
	broker    string
	startTime time.Time
	now       func() time.Time
}

func (l *lifecycle) publish(event, reason string) {
	rt := telemetry.Runtime{
		StartTime: l.startTime,
		Now:       l.now(),
		Selected:  l.selection.Current(),
		Broker:    l.broker,
	}
	if l.status != nil {
		rt.MQTTConnected = l.status.Connected()
	}
	payload := telemetry.FormatSystemEvent(l.snapshots.Snapshot(), rt, event, reason)

	name := strings.ToLower(event)
	if err := l.publisher.PublishSystem(payload); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
		return
	}
	log.Printf("published %s event", name)
}
