package taskworker

import "log/slog"

func (ev LogEvent) attrs() []any {
	attrs := make([]any, 0, 10)
	if ev.WorkerID != "" {
		attrs = append(attrs, "worker_id", ev.WorkerID)
	}
	if ev.Queue != "" {
		attrs = append(attrs, "queue", ev.Queue)
	}
	if ev.TaskID != nil {
		attrs = append(attrs, "task_id", *ev.TaskID)
	}
	if ev.Duration != nil {
		attrs = append(attrs, "duration", *ev.Duration)
	}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err)
	}
	return attrs
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Helper methods to invoke logging
func (c *Config) logInfo(ev LogEvent) {
	if c.InfoLog != nil {
		c.InfoLog(ev)
		return
	}
	c.logger().Info(ev.Message, ev.attrs()...)
}

func (c *Config) logError(ev LogEvent) {
	if c.ErrorLog != nil {
		c.ErrorLog(ev)
		return
	}
	c.logger().Error(ev.Message, ev.attrs()...)
}

func (c *Config) logDebug(ev LogEvent) {
	if c.DebugLog != nil {
		c.DebugLog(ev)
		return
	}
	c.logger().Debug(ev.Message, ev.attrs()...)
}
