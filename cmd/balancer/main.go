package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"marginBot"
	"marginBot/pkg/api/bitfinex"
	"marginBot/pkg/controller"
	"marginBot/pkg/cron"
	"marginBot/pkg/log"
	"marginBot/pkg/repository"
	"marginBot/pkg/repository/postgres"
	"marginBot/pkg/service/allocator"
	"marginBot/pkg/service/balancer"
	"marginBot/pkg/service/date"
	"marginBot/pkg/service/events"
	"marginBot/pkg/service/liquidator"
	"marginBot/pkg/service/risk"
	"marginBot/pkg/service/telegram"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	dryRun := flag.Bool("dry-run", false, "force all liquidation to dry-run regardless of config")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		zap.S().Debugf("No env file loaded: %s", err.Error())
	}
	if err := initConfig(*configPath); err != nil {
		panic(fmt.Sprintf("Error during reading configs: %s", err.Error()))
	}
	if *dryRun {
		viper.Set("liquidation.dryRun", true)
	}

	log.InitLogger()

	var closableClosure []func()

	// Close in reverse order: the jobs stop (draining an in-flight cycle)
	// before the stream and the db pool underneath them go away.
	defer func() {
		for i := len(closableClosure) - 1; i >= 0; i-- {
			closableClosure[i]()
		}
	}()

	zap.S().Info("Margin balancer is starting...\n")
	if *dryRun {
		zap.S().Info("Running in DRY-RUN mode - no positions will be closed")
	}

	postgresDbPort, _ := strconv.ParseInt(os.Getenv("DB_PORT"), 10, 64)
	postgresDb, err := postgres.NewPostgresDb(&postgres.Config{
		Host:     os.Getenv("DB_HOST"),
		Port:     int(postgresDbPort),
		Username: os.Getenv("DB_USERNAME"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  os.Getenv("DB_SSLMODE"),
	})
	if err != nil {
		zap.S().Fatalf("FAILED to init db %s", err.Error())
		return
	}

	closableClosure = append(closableClosure, func() {
		if err := postgresDb.Close(); err != nil {
			zap.S().Errorf("Error during closing postgres connection: %s", err.Error())
		}
	})

	initMigrations(postgresDb)

	repos := repository.NewRepositories(postgresDb)

	exchangeApi := bitfinex.NewBitfinexApi(os.Getenv("BITFINEX_API_KEY"), os.Getenv("BITFINEX_API_SECRET"))
	streamingApi := bitfinex.NewBitfinexWs(viper.GetString("bitfinex.wsUrl"))

	clock := date.GetClock()
	riskCalculatorService := risk.NewRiskCalculatorService(exchangeApi, clock)
	allocatorService := allocator.NewMarginAllocatorService(riskCalculatorService, exchangeApi, repos.MarginAdjustment, clock)
	liquidatorService := liquidator.NewPositionLiquidatorService(exchangeApi, repos.Liquidation, clock)
	eventDetectorService := events.NewEventDetectorService()
	telegramService := telegram.NewTelegramService()

	balancerService := balancer.NewBalancerService(exchangeApi, streamingApi, riskCalculatorService,
		allocatorService, liquidatorService, eventDetectorService, telegramService, repos.AccountSnapshot, clock)

	if err := balancerService.Preflight(); err != nil {
		zap.S().Fatalf("Startup check against the exchange failed: %s", err.Error())
		return
	}

	streamingApi.OnPrice(balancerService.HandlePriceUpdate)
	if err := streamingApi.Connect(); err != nil {
		zap.S().Warnf("WebSocket connection failed, continuing in polling-only mode: %s", err.Error())
	} else {
		streamingApi.Start()
	}
	closableClosure = append(closableClosure, streamingApi.Close)

	// First cycle right away, it also seeds the stream subscriptions.
	balancerService.Tick()

	balancerJob := cron.NewBalancerJob(balancerService)
	balancerJob.Start()
	closableClosure = append(closableClosure, balancerJob.Stop)

	heartbeatJob := cron.NewHeartbeatJob(repos, telegramService, clock)
	heartbeatJob.Start()
	closableClosure = append(closableClosure, heartbeatJob.Stop)

	router := controller.InitControllers(balancerService)

	srv := new(marginBot.Server)
	go func() {
		zap.S().Infof("Server is going to be up on port %s", viper.GetString("server.port"))
		if err := srv.Run(viper.GetString("server.port"), router); err != nil {
			zap.S().Errorf("Error when starting the http server: %s", err.Error())
		}
	}()

	telegramService.SendStartupMessage(viper.GetBool("liquidation.dryRun"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	zap.S().Info("Shutting down...")

	if err := srv.Shutdown(context.Background()); err != nil {
		zap.S().Errorf("error occured on server shutting down: %s", err.Error())
	}

	telegramService.SendShutdownMessage()
}

func initConfig(configPath string) error {
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

func initMigrations(db *sqlx.DB) {
	migrations := &migrate.FileMigrationSource{
		Dir: "./migrations",
	}

	n, err := migrate.Exec(db.DB, "postgres", migrations, migrate.Up)
	if err != nil {
		zap.S().Errorf("Error during applying migrations! %s", err.Error())
	}
	zap.S().Infof("Applied %d migrations!\n", n)
}
