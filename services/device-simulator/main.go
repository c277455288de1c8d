// Device simulator: publikuje telemetrii několika virtuálních zařízení.
// Každé zařízení má vlastní MQTT spojení s last-will "offline".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/logging"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/simulator"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/transport"
)

const serviceName = "device-simulator"

const publishTimeout = 5 * time.Second

func main() {
	// 1. Flagy (default z ENV, aby šlo spustit i v Dockeru bez argumentů)
	var (
		broker   = flag.StringP("broker", "b", getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"), "MQTT broker URL")
		username = flag.String("username", getEnv("MQTT_USERNAME", ""), "MQTT username")
		password = flag.String("password", getEnv("MQTT_PASSWORD", ""), "MQTT password")
		interval = flag.DurationP("interval", "i", simulator.DefaultInterval, "publish period")
		profiles = flag.StringP("profiles", "p", "", "YAML file with device profiles (default: built-in dev-001..dev-003)")
		seed     = flag.Uint64("seed", 0, "random seed (0 = random)")
		level    = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	)
	flag.Parse()

	lvl, err := logging.ParseLevel(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(lvl, serviceName, os.Stdout)

	devices := simulator.DefaultProfiles()
	if *profiles != "" {
		if devices, err = loadProfiles(*profiles); err != nil {
			logger.Error("Nelze načíst profily zařízení", "file", *profiles, "error", err)
			os.Exit(1)
		}
	}

	// 2. Jedno spojení na zařízení: last-will patří ke spojení, ne ke zprávě.
	clients := make(map[string]mqtt.Client, len(devices))
	for _, p := range devices {
		client, err := connect(*broker, *username, *password, p)
		if err != nil {
			logger.Error("Selhalo připojení k MQTT", "deviceId", p.DeviceID, "error", err)
			os.Exit(1)
		}
		clients[p.DeviceID] = client
		logger.Info("Zařízení připojeno", "deviceId", p.DeviceID, "topic", p.TelemetryTopic())
	}

	publish := func(p simulator.Profile, topic string, payload []byte) error {
		return transport.Publish(clients[p.DeviceID], topic, simulator.QoS, false, payload, publishTimeout)
	}

	// 3. Hlavní smyčka do SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Simulátor běží", "devices", len(devices), "interval", *interval)
	simulator.New(devices, publish, *interval, *seed, logger).Run(ctx)

	// 4. Slušné odpojení: ohlásíme offline sami, last-will se pak nepošle.
	logger.Info("Ukončuji simulátor...")
	for _, p := range devices {
		client := clients[p.DeviceID]
		_ = transport.Publish(client, p.StatusTopic(), simulator.QoS, false, []byte("offline"), publishTimeout)
		client.Disconnect(250)
	}
}

// connect otevře spojení zařízení a ohlásí "online".
func connect(broker, username, password string, p simulator.Profile) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("sim_%s_%s", p.DeviceID, uuid.NewString()[:8])).
		SetConnectTimeout(4 * time.Second).
		SetAutoReconnect(true).
		SetWill(p.StatusTopic(), "offline", simulator.QoS, false)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	// Po každém (re)connectu znovu online.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		c.Publish(p.StatusTopic(), simulator.QoS, false, "online")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

type profileFile struct {
	Devices []simulator.Profile `yaml:"devices"`
}

func loadProfiles(path string) ([]simulator.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.Devices) == 0 {
		return nil, fmt.Errorf("%s: no devices", path)
	}
	for _, d := range f.Devices {
		if d.DeviceID == "" || d.SiteID == "" {
			return nil, fmt.Errorf("%s: every device needs deviceId and siteId", path)
		}
	}
	return f.Devices, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
