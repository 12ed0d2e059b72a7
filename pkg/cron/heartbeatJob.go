package cron

import (
	"time"

	"marginBot/pkg/repository"
	"marginBot/pkg/service/date"
	"marginBot/pkg/service/telegram"

	"github.com/go-co-op/gocron"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type heartbeatJob struct {
	repos           *repository.Repository
	telegramService *telegram.TelegramService
	Clock           date.Clock
	scheduler       *gocron.Scheduler

	lastBeatAt time.Time
}

func NewHeartbeatJob(repos *repository.Repository, telegramService *telegram.TelegramService, clock date.Clock) *heartbeatJob {
	return &heartbeatJob{repos: repos, telegramService: telegramService, Clock: clock, lastBeatAt: clock.NowTime()}
}

func (j *heartbeatJob) Start() {
	intervalSec := viper.GetInt("monitor.heartbeatIntervalSec")
	if intervalSec <= 0 {
		return
	}

	s := gocron.NewScheduler(time.UTC)

	if _, err := s.Every(intervalSec).Seconds().Do(j.execute); err != nil {
		zap.S().Errorf("Error during heartbeat job init %s", err.Error())
		return
	}

	s.StartAsync()
	j.scheduler = s
}

func (j *heartbeatJob) Stop() {
	if j.scheduler != nil {
		j.scheduler.Stop()
	}
}

/* Reports what happened since the previous beat, then moves the window. */
func (j *heartbeatJob) execute() {
	adjustments, err := j.repos.MarginAdjustment.FindAllByCreatedAtAfter(j.lastBeatAt)
	if err != nil {
		zap.S().Errorf("Heartbeat failed to read adjustments: %s", err.Error())
		return
	}
	liquidations, err := j.repos.Liquidation.FindAllByCreatedAtAfter(j.lastBeatAt)
	if err != nil {
		zap.S().Errorf("Heartbeat failed to read liquidations: %s", err.Error())
		return
	}

	lastEquity := "n/a"
	if snapshot, err := j.repos.AccountSnapshot.FindLast(); err == nil && snapshot != nil {
		lastEquity = snapshot.TotalEquity.StringFixed(2)
	}

	j.telegramService.SendHeartbeat(len(adjustments), len(liquidations), lastEquity)
	j.lastBeatAt = j.Clock.NowTime()
}
