package logs

import (
	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/logs"
	"go.uber.org/zap"
)

var commonFields = []zap.Field{
	zap.String(consts.Component, consts.Server),
}

var serverLogger *zap.Logger

func init() {
	serverLogger = logs.Logger.With(commonFields...)
}

// Logger 返回带 server 公共字段的 logger，供事件循环继承
func Logger() *zap.Logger {
	return serverLogger
}

func Debug(msg string, fields ...zap.Field) {
	serverLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	serverLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	serverLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	serverLogger.Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	serverLogger.Fatal(msg, fields...)
}
