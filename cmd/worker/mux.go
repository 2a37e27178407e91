package main

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-grocery/internal/config"
	"github.com/noah-isme/backend-grocery/internal/notify"
	"github.com/noah-isme/backend-grocery/internal/obs"
)

func newMux(cfg *config.Config, logger zerolog.Logger) *asynq.ServeMux {
	return notify.NewServeMux(&notify.EmailHandler{
		Mail:    mailer(logger),
		Enabled: cfg.NotifyEmailEnabled,
		From:    cfg.NotifyEmailFrom,
		Logger:  obs.Component(logger, "notify"),
	})
}

// taskLogger adapts zerolog to asynq.Logger.
type taskLogger struct {
	logger zerolog.Logger
}

func (l taskLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
