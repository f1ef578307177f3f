package logger

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AsynqLogger routes asynq's internal logging into zerolog. It satisfies
// asynq.Logger.
type AsynqLogger struct {
	log zerolog.Logger
}

// Asynq wraps l for asynq.Config.Logger
func Asynq(l zerolog.Logger) *AsynqLogger {
	return &AsynqLogger{log: l.With().Str("component", "asynq").Logger()}
}

func (a *AsynqLogger) Debug(args ...interface{}) { a.log.Debug().Msg(fmt.Sprint(args...)) }
func (a *AsynqLogger) Info(args ...interface{})  { a.log.Info().Msg(fmt.Sprint(args...)) }
func (a *AsynqLogger) Warn(args ...interface{})  { a.log.Warn().Msg(fmt.Sprint(args...)) }
func (a *AsynqLogger) Error(args ...interface{}) { a.log.Error().Msg(fmt.Sprint(args...)) }

// Fatal logs at fatal level, which exits the process.
func (a *AsynqLogger) Fatal(args ...interface{}) { a.log.Fatal().Msg(fmt.Sprint(args...)) }
