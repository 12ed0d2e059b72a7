package cron

import (
	"time"

	"marginBot/pkg/service/balancer"

	"github.com/go-co-op/gocron"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type balancerJob struct {
	balancerService *balancer.BalancerService
	scheduler       *gocron.Scheduler
}

func NewBalancerJob(balancerService *balancer.BalancerService) *balancerJob {
	return &balancerJob{balancerService: balancerService}
}

/* Start fires the rebalance cycle at the poll interval. SingletonMode makes
   an overlapping fire skip instead of queue: a cycle still in flight when
   the next interval elapses simply wins. */
func (j *balancerJob) Start() {
	s := gocron.NewScheduler(time.UTC)

	job, err := s.Every(viper.GetInt("monitor.pollIntervalSec")).Seconds().Do(j.execute)
	if err != nil {
		zap.S().Errorf("Error during balancer job init %s", err.Error())
		return
	}
	job.SingletonMode()

	s.StartAsync()
	j.scheduler = s

	zap.S().Infof("Balancer job started with interval %ds", viper.GetInt("monitor.pollIntervalSec"))
}

func (j *balancerJob) Stop() {
	if j.scheduler != nil {
		j.scheduler.Stop()
		zap.S().Info("Balancer job stopped")
	}
}

/* RunOnce triggers a single cycle outside the schedule. */
func (j *balancerJob) RunOnce() {
	j.execute()
}

func (j *balancerJob) execute() {
	zap.S().Debug("Balancer job fired")
	j.balancerService.Tick()
}
