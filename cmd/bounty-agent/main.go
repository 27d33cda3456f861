package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/verdikta/verdikta-applications-sub001/config"
)

func main() {
	loadFileConfig()

	if err := config.LoadConfig(); err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	settings := config.SettingsObj

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent, err := NewAgent(ctx, settings)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize agent")
	}

	if err := agent.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start agent")
	}

	// Metrics server
	if settings.MetricsEnabled {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())

			log.WithField("port", settings.MetricsPort).Info("Starting metrics server")
			if err := http.ListenAndServe(fmt.Sprintf(":%d", settings.MetricsPort), metricsMux); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// API server
	apiServer := NewAPIServer(agent)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", settings.APIHost, settings.APIPort),
		Handler: apiServer.Router(),
	}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("🌐 Starting bounty agent API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down bounty agent...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to gracefully shutdown HTTP server")
	}

	agent.Shutdown()

	log.Info("Bounty agent stopped")
}

// loadFileConfig overlays an optional config.yaml onto the environment.
// Explicit environment variables always win; the file only fills gaps so a
// local deployment can keep its settings in one place.
func loadFileConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/bounty-agent")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.WithError(err).Warn("Config file unreadable, using environment only")
		}
		return
	}

	log.WithField("file", viper.ConfigFileUsed()).Info("Loaded config file")
	for _, key := range viper.AllKeys() {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if os.Getenv(envKey) == "" {
			os.Setenv(envKey, viper.GetString(key))
		}
	}
}
