package worker

import (
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/service"
)

// StartNotificationWorker subscribes the notification fan-out to the engine
// dispatcher. Handlers run synchronously after each committed ticket change,
// so there is no goroutine to stop.
func StartNotificationWorker(notifications *service.NotificationService, logger *zap.Logger) {
	if notifications == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	notifications.RegisterHandlers()
	logger.Named("notifications").Info("notification handlers registered",
		zap.Strings("outputs", notifications.Outputs()))
}
