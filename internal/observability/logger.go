package observability

import (
	"fmt"

	"github.com/tphakala/biosig-go/internal/logger"
)

// GetLogger returns the observability logger
func GetLogger() logger.Logger {
	return logger.Global().Module("metrics")
}

// promErrorLog routes promhttp handler errors into the module logger
type promErrorLog struct{}

func (promErrorLog) Println(v ...any) {
	GetLogger().Error("metrics handler error", logger.String("error", fmt.Sprint(v...)))
}
