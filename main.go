package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gridbot/api"
	"gridbot/config"
	"gridbot/hook"
	"gridbot/logger"
	"gridbot/manager"
	"gridbot/market"
	"gridbot/store"
	"gridbot/trader"
)

func main() {
	// .env is optional; real deployments set environment variables directly
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("❌ Failed to load configuration: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logger.Shutdown()

	logger.Info("🚀 Starting grid trading engine")

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("❌ Failed to open database: %v", err)
	}
	defer st.Close()

	futures := trader.NewFuturesTrader(cfg.BinanceAPIKey, cfg.BinanceSecretKey)
	spot := trader.NewSpotTrader(cfg.BinanceAPIKey, cfg.BinanceSecretKey)

	// align the local clock before the first signed request
	if err := futures.SyncTime(); err != nil {
		logger.Warnf("⚠️ Futures time sync failed: %v", err)
	}
	if err := spot.SyncTime(); err != nil {
		logger.Warnf("⚠️ Spot time sync failed: %v", err)
	}

	alerter := hook.NewAlerter(cfg.TelegramToken, cfg.TelegramChatID)

	orchestrator := manager.New(cfg, futures, spot, st, alerter)

	// stream mark prices for the preferred pairs; engines on other symbols
	// fall back to REST pricing
	var prices *market.PriceCache
	streams := market.NewCombinedStreamsClient(10)
	if err := streams.Connect(); err != nil {
		logger.Warnf("⚠️ Price streaming unavailable, falling back to REST pricing: %v", err)
	} else {
		prices = market.NewPriceCache(streams, 10*time.Second)
		if err := prices.Start(cfg.PreferredPairs); err != nil {
			logger.Warnf("⚠️ Mark price subscription failed: %v", err)
		} else {
			orchestrator.SetPriceSource(prices)
		}
	}

	orchestrator.Start()

	server := api.NewServer(orchestrator, st, prices, cfg.APIServerPort)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("❌ API server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down...")
	if err := server.Shutdown(); err != nil {
		logger.Warnf("⚠️ API server shutdown: %v", err)
	}
	if prices != nil {
		prices.Stop()
		streams.Close()
	}
	orchestrator.Stop()
	logger.Info("👋 Shutdown complete")
}
