// Log collector: poslouchá logs/# a každou službu zapisuje do vlastního souboru.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	flag "github.com/spf13/pflag"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/logging"
	"github.com/syntaxdsamurai/Iot-Dashboard/internal/logship"
)

func main() {
	// 1. Konfigurace: ENV jako default, flagy přepíšou
	cfg := LoadConfig()
	flag.StringVarP(&cfg.MQTTBroker, "broker", "b", cfg.MQTTBroker, "MQTT broker URL")
	flag.StringVar(&cfg.LogTopic, "topic", cfg.LogTopic, "log topic filter")
	flag.StringVarP(&cfg.LogDir, "dir", "d", cfg.LogDir, "directory for <service>.log files")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	flag.Parse()

	// 2. Vlastní logger jen na stdout: logy collectoru nesmí jít do logs/#,
	// jinak by sbíral sám sebe.
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(level, "log-collector", os.Stdout)
	logger.Info("Startuji Log Collector", "dir", cfg.LogDir)

	// 3. Příprava adresáře pro logy
	collector, err := logship.NewCollector(cfg.LogDir, logger)
	if err != nil {
		logger.Error("Nelze vytvořit adresář pro logy", "error", err)
		os.Exit(1)
	}

	// 4. Připojení k MQTT. Odběr v OnConnect, aby přežil reconnect.
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetConnectTimeout(4 * time.Second).
		SetAutoReconnect(true).
		SetDefaultPublishHandler(collector.Handler())
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if token := c.Subscribe(cfg.LogTopic, 0, nil); token.Wait() && token.Error() != nil {
			logger.Error("Subscribe failed", "topic", cfg.LogTopic, "error", token.Error())
			return
		}
		logger.Info("Poslouchám logy", "topic", cfg.LogTopic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("Spojení s MQTT ztraceno", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("MQTT Connection failed", "error", token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)

	// 5. Wait loop
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Ukončuji Log Collector")
}
