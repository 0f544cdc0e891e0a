package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chain-screening/internal/config"
	"chain-screening/internal/provider"
	"chain-screening/internal/risk"
	"chain-screening/internal/screening"
	"chain-screening/internal/service"
)

// SimulateAlert 通过一个固定评分的模拟 provider 走完一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, address string, score int) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	registry, err := provider.NewRegistry(&staticProvider{score: score})
	if err != nil {
		return err
	}
	agg := screening.New(registry, a.screeningConfig(), a.Logger)

	mc := config.MonitorConfig{
		Chain:     a.Config.Monitor.Chain,
		Watchlist: []string{address},
	}
	monitor := service.New(mc, service.Deps{Screener: agg, Notifier: notifier}, a.Logger)

	round := time.Now().UTC().Truncate(a.Config.Monitor.Interval)
	return monitor.ProcessRound(ctx, round)
}

type staticProvider struct {
	score int
}

func (s *staticProvider) Name() string { return "simulated" }

func (s *staticProvider) SupportedCategories() []risk.Category {
	return []risk.Category{risk.CategorySanctions}
}

func (s *staticProvider) SupportedChains() []string { return nil }

func (s *staticProvider) IsHealthy() bool { return true }

func (s *staticProvider) ScreenAddress(ctx context.Context, req provider.Request) (risk.ProviderResult, error) {
	severity := risk.SeverityLow
	switch {
	case s.score >= 100:
		severity = risk.SeveritySevere
	case s.score >= 70:
		severity = risk.SeverityHigh
	case s.score >= 40:
		severity = risk.SeverityMedium
	}
	return risk.ProviderResult{
		Matched: true,
		Signals: []risk.Signal{{
			Category:    risk.CategorySanctions,
			Severity:    severity,
			RiskScore:   s.score,
			Actions:     []risk.Action{risk.ActionReview},
			Description: fmt.Sprintf("simulated signal with score %d", s.score),
			Direction:   risk.DirectionBoth,
		}},
	}, nil
}

var _ provider.Provider = (*staticProvider)(nil)
