package vkbackend

import (
	"context"
	"log/slog"

	"github.com/vkngwrapper/extensions/ext_debug_utils"
)

func debugMessengerOptions(logger *slog.Logger) ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    validationLogger(logger),
	}
}

// validationLogger forwards validation layer messages to logger. Errors are
// logged at error level, everything else at warn.
func validationLogger(logger *slog.Logger) func(ext_debug_utils.DebugUtilsMessageTypeFlags, ext_debug_utils.DebugUtilsMessageSeverityFlags, *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	return func(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
		level := slog.LevelWarn
		if severity&ext_debug_utils.SeverityError != 0 {
			level = slog.LevelError
		}

		logger.Log(context.Background(), level, data.Message,
			"severity", severity,
			"type", msgType)
		return false
	}
}
