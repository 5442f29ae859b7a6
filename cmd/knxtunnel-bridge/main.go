// knxtunnel-bridge connects a KNXnet/IP gateway to an MQTT broker.
//
// It loads a commissioning file describing a set of group addresses and
// their datapoint types, maintains a tunnelling connection to the gateway,
// and mirrors every datapoint's value onto a retained MQTT state topic
// while accepting writes on a matching command topic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	knxtunnel "github.com/nerrad567/knxtunnel"
	"github.com/nerrad567/knxtunnel/internal/infrastructure/logging"
	"github.com/nerrad567/knxtunnel/internal/infrastructure/mqtt"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "bridge.yaml", "path to bridge configuration file")
	flag.Parse()

	fmt.Printf("knxtunnel-bridge %s (%s) built %s\n", version, commit, date)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the tunnelling connection to the MQTT broker and blocks until
// ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := knxtunnel.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting knxtunnel-bridge", "bridge_id", cfg.Bridge.ID, "gateway", cfg.Gateway.Host)

	tr, err := knxtunnel.NewTransport(cfg.Gateway.Host, cfg.Gateway.Port, logger)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}

	conn, err := knxtunnel.NewConnection(cfg.ToConnectionConfig(), tr, knxtunnel.NewRealScheduler(), logger)
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}

	binder := knxtunnel.NewBinder()
	datapoints, err := buildDatapoints(conn, binder, cfg.Datapoints)
	if err != nil {
		return fmt.Errorf("building datapoints: %w", err)
	}
	conn.OnTelegram(binder.Dispatch)

	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = cfg.GetMQTTClientID()
	mqttClient, err := mqtt.Connect(mqttCfg)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}
	mqttClient.SetLogger(logger)
	defer mqttClient.Close()

	br := &bridgeRuntime{
		conn:   conn,
		binder: binder,
		mqtt:   mqttClient,
		logger: logger,
	}
	br.wireDatapoints(ctx, datapoints)

	if err := mqttClient.SubscribeCommands(1, br.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	go func() {
		if err := tr.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("transport stopped", "error", err)
		}
	}()

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}

	logger.Info("bridge ready", "datapoints", len(datapoints))
	<-ctx.Done()

	logger.Info("shutting down")
	if err := conn.Disconnect(context.Background()); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}

	return nil
}

// buildDatapoints constructs and registers a Datapoint for every configured
// entry, resolving a DPT from its Function name when one isn't set
// explicitly.
func buildDatapoints(conn *knxtunnel.Connection, binder *knxtunnel.Binder, entries []knxtunnel.DatapointEntry) ([]*knxtunnel.Datapoint, error) {
	datapoints := make([]*knxtunnel.Datapoint, 0, len(entries))
	for _, entry := range entries {
		ga, err := knxtunnel.ParseGroupAddress(entry.GA)
		if err != nil {
			return nil, fmt.Errorf("datapoint %q: %w", entry.Name, err)
		}

		dptID := entry.DPT
		if dptID == "" && entry.Function != "" {
			dptID = string(knxtunnel.DefaultDPTForFunction(entry.Function))
		}

		dp, err := knxtunnel.NewDatapoint(conn, ga, knxtunnel.DPT(dptID))
		if err != nil {
			return nil, fmt.Errorf("datapoint %q: %w", entry.Name, err)
		}

		binder.Register(dp)
		datapoints = append(datapoints, dp)
	}
	return datapoints, nil
}

// bridgeRuntime holds the running pieces needed to move values between the
// tunnelling connection and the MQTT broker.
type bridgeRuntime struct {
	conn   *knxtunnel.Connection
	binder *knxtunnel.Binder
	mqtt   *mqtt.Client
	logger *logging.Logger
}

// wireDatapoints publishes a retained state update to MQTT whenever a
// datapoint's decoded value changes.
func (br *bridgeRuntime) wireDatapoints(ctx context.Context, datapoints []*knxtunnel.Datapoint) {
	for _, dp := range datapoints {
		dp.OnChange(func(ev knxtunnel.ChangeEvent) {
			payload, err := knxtunnel.MarshalValueJSON(ev.New)
			if err != nil {
				br.logger.Warn("encoding state payload failed", "ga", ev.GroupAddress.String(), "error", err)
				return
			}
			if err := br.mqtt.PublishState(ev.GroupAddress.String(), payload); err != nil {
				br.logger.Warn("publishing state failed", "ga", ev.GroupAddress.String(), "error", err)
			}
		})
		// Prime retained state with a read on startup; the response arrives
		// asynchronously via the connection's telegram dispatch.
		go func(dp *knxtunnel.Datapoint) {
			if err := dp.Read(ctx); err != nil {
				br.logger.Debug("initial read failed", "ga", dp.GroupAddress().String(), "error", err)
			}
		}(dp)
	}
}

// handleCommand decodes an MQTT command payload and writes it to the
// matching datapoint.
func (br *bridgeRuntime) handleCommand(gaStr string, payload []byte) error {
	ga, err := knxtunnel.ParseGroupAddress(gaStr)
	if err != nil {
		return fmt.Errorf("command group address %q: %w", gaStr, err)
	}

	dp, err := br.binder.Lookup(ga)
	if err != nil {
		return err
	}

	value, err := knxtunnel.UnmarshalValueJSON(dp.DPT(), payload)
	if err != nil {
		return fmt.Errorf("command payload for %s: %w", ga, err)
	}

	return dp.Write(context.Background(), value)
}
