package main

import (
	"fmt"

	"github.com/sky93/taskworker"
	"github.com/sky93/taskworker/dialect"
	"github.com/sky93/taskworker/internal/config"
	"github.com/sky93/taskworker/internal/notifications"
	"github.com/sky93/taskworker/internal/telegram"
)

// queues lists every queue the binary can run. Factories only run for the
// queue that was asked for, so a missing bot token does not break others.
func queues(d dialect.Dialect, cfg *config.Config) (*taskworker.Registry, error) {
	reg := taskworker.NewRegistry()

	err := reg.Register(notifications.QueueName, func() (taskworker.Binding, error) {
		client, err := telegram.New(telegram.Config{
			BaseURL:       cfg.TelegramAPIURL,
			Token:         cfg.TelegramBotToken,
			RatePerSecond: cfg.TelegramRatePerSecond,
		})
		if err != nil {
			return taskworker.Binding{}, fmt.Errorf("telegram: %w", err)
		}
		q, err := notifications.NewQueue(notifications.Options{
			Dialect:           d,
			Sender:            client,
			Template:          cfg.NotificationTemplate,
			MaxFailedAttempts: cfg.MaxFailedAttempts,
		})
		if err != nil {
			return taskworker.Binding{}, err
		}
		return taskworker.Bind(notifications.QueueName, q), nil
	})
	if err != nil {
		return nil, err
	}

	return reg, nil
}
