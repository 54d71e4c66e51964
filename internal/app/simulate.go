package app

import (
	"context"
	"errors"
	"fmt"

	"fraudwatch/internal/fetcher"
	"fraudwatch/internal/service"
)

// SimulateAlert 用给定快照文件走一遍刷新与告警流程，不启动调度与 API。
func (a *App) SimulateAlert(ctx context.Context, file string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	svc := service.New(service.Deps{
		Source:   fetcher.File{Path: file},
		Engine:   a.newEngine(),
		Notifier: notifier,
	}, a.serviceOptions(), a.Logger)

	data, err := svc.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "run %s: %d flags evaluated for alerting\n", data.RunID, len(data.SuspiciousFlags))
	return nil
}
