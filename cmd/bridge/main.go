package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"harmony-bridge/internal/adapters/input/http"
	"harmony-bridge/internal/adapters/input/ssdp"
	"harmony-bridge/internal/adapters/output/harmony"
	"harmony-bridge/internal/adapters/output/mqtt"
	"harmony-bridge/internal/adapters/output/persistence"
	"harmony-bridge/internal/domain/hub"
	"harmony-bridge/internal/domain/service"
	"harmony-bridge/internal/logger"
)

func main() {
	if err := logger.Init(logger.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Bridge stopped")
	}
	log.Info().Msg("Bridge stopped")
}

func run(ctx context.Context) error {
	log := logger.WithComponent("main")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/app/config.json"
	}
	overrides := service.Overrides{
		HubAddress:      os.Getenv("HUB_ADDRESS"),
		LocalIP:         os.Getenv("LOCAL_IP"),
		HubLogLevel:     os.Getenv("HUB_LOG_LEVEL"),
		MQTTURL:         os.Getenv("MQTT_URL"),
		MQTTTopicPrefix: os.Getenv("MQTT_TOPIC_PREFIX"),
	}
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr != "" {
		_, port, err := net.SplitHostPort(httpAddr)
		if err != nil {
			return fmt.Errorf("invalid HTTP_ADDR %q: %w", httpAddr, err)
		}
		if overrides.HTTPPort, err = strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid HTTP_ADDR port %q: %w", port, err)
		}
	}

	configService := service.NewConfigService(persistence.NewJSONConfigRepository(configPath), overrides)
	cfg, err := configService.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	level, err := hub.ParseLogLevel(cfg.HubLogLevel)
	if err != nil {
		return err
	}
	hub.SetLogLevel(level)

	ip := cfg.LocalIP
	if ip == "" {
		ip = getLocalIP()
	}
	if ip == "" {
		return fmt.Errorf("could not determine local IP, set LOCAL_IP")
	}
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}

	sup := newSupervisor(harmony.NewTransport(), configService, logger.WithComponent("supervisor"))
	bridge := service.NewBridgeService(configService, service.OnHubAddressChange(sup.addressChanged))
	if err := bridge.LoadDevices(ctx); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	sup.attach(bridge)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MQTT != nil && cfg.MQTT.URL != "" {
		publisher := mqtt.NewPublisher(*cfg.MQTT)
		if err := publisher.Start(ctx); err != nil {
			return err
		}
		sup.attach(publisher)
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return publisher.Stop(stopCtx)
		})
	}

	log.Info().Str("ip", ip).Str("http", httpAddr).Str("hub", cfg.HubAddress).Msg("Starting Harmony bridge")

	g.Go(func() error {
		return ssdp.NewServer(ip, cfg.HTTPPort).Run(ctx)
	})
	g.Go(func() error {
		return http.NewServer(bridge, ip, cfg.HTTPPort).Run(ctx, httpAddr)
	})
	g.Go(func() error {
		return sup.Run(ctx)
	})

	return g.Wait()
}

func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}
