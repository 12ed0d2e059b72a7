package telegram

import (
	"fmt"
	"strings"

	telegramApi "marginBot/pkg/api/telegram"
	"marginBot/pkg/constants"
	"marginBot/pkg/data/domains"
	"marginBot/pkg/service/allocator"
	"marginBot/pkg/service/liquidator"

	"github.com/spf13/viper"
)

func NewTelegramService() *TelegramService {
	return &TelegramService{}
}

/* Formats operator-facing alerts and pushes them through the chat
   transport. Delivery failures are logged by the transport and never block
   a cycle. */
type TelegramService struct {
}

func (s *TelegramService) SendStartupMessage(dryRun bool) {
	mode := "normal"
	if dryRun {
		mode = "DRY-RUN"
	}
	telegramApi.SendTextToTelegramChat(fmt.Sprintf(
		"<b>✅ Margin balancer started</b>\nMode: %s\nPoll interval: %ds",
		mode, viper.GetInt("monitor.pollIntervalSec")))
}

func (s *TelegramService) SendShutdownMessage() {
	telegramApi.SendTextToTelegramChat("<b>🛑 Margin balancer stopped</b>")
}

func (s *TelegramService) SendAdjustmentReport(result allocator.RebalanceResult) {
	var b strings.Builder

	b.WriteString("<b>⚖️ Margin rebalance</b>\n")
	b.WriteString(fmt.Sprintf("Success: %d, failed: %d\n", result.SuccessCount, result.FailCount))
	b.WriteString(fmt.Sprintf("Total moved: %s USDt\n", result.TotalAdjusted.StringFixed(2)))

	for _, adjustment := range result.Adjustments {
		arrow := "↓"
		if adjustment.Direction == constants.INCREASE {
			arrow = "↑"
		}
		b.WriteString(fmt.Sprintf("%s %s %s (%s → %s)\n",
			arrow, adjustment.Symbol, adjustment.Amount.StringFixed(2),
			adjustment.BeforeMargin.StringFixed(2), adjustment.AfterMargin.StringFixed(2)))
	}

	telegramApi.SendTextToTelegramChat(b.String())
}

func (s *TelegramService) SendEmergencyAlert(position *domains.Position, result allocator.RebalanceResult) {
	if result.SuccessCount > 0 {
		telegramApi.SendTextToTelegramChat(fmt.Sprintf(
			"<b>🚨 Emergency top-up executed</b>\n%s margin rate was %s%%, added %s USDt",
			position.Symbol, position.MarginRate().StringFixed(2), result.TotalAdjusted.StringFixed(2)))
		return
	}
	if result.FailCount > 0 {
		telegramApi.SendTextToTelegramChat(fmt.Sprintf(
			"<b>🚨 Emergency top-up FAILED</b>\n%s margin rate %s%%",
			position.Symbol, position.MarginRate().StringFixed(2)))
	}
}

func (s *TelegramService) SendLiquidationAlert(result liquidator.LiquidationResult) {
	var b strings.Builder

	if result.Executed {
		b.WriteString("<b>🔻 Liquidation executed</b>\n")
		b.WriteString(fmt.Sprintf("%s\nReleased: %s USDt\n", result.Reason, result.TotalReleased.StringFixed(2)))
	} else {
		b.WriteString("<b>🔻 Liquidation pending</b>\n")
		b.WriteString(fmt.Sprintf("%s\n", result.Reason))
	}

	for _, plan := range result.Plans {
		b.WriteString(fmt.Sprintf("%s %s: close %s of %s (≈%s USDt)\n",
			plan.Symbol, plan.Side, plan.CloseQuantity.StringFixed(4),
			plan.CurrentQuantity.StringFixed(4), plan.EstimatedRelease.StringFixed(2)))
	}

	telegramApi.SendTextToTelegramChat(b.String())
}

func (s *TelegramService) SendAccountMarginWarning(rate float64) {
	telegramApi.SendTextToTelegramChat(fmt.Sprintf(
		"<b>⚠️ Account margin rate low</b>\nCurrent rate: %.2f%% (warning below %.2f%%)",
		rate, viper.GetFloat64("thresholds.accountMarginRateWarning")))
}

func (s *TelegramService) SendHeartbeat(adjustmentCount int, liquidationCount int, lastEquity string) {
	telegramApi.SendTextToTelegramChat(fmt.Sprintf(
		"<b>💓 Heartbeat</b>\nAdjustments: %d, liquidations: %d\nLast equity: %s USDt",
		adjustmentCount, liquidationCount, lastEquity))
}
