package logger

import (
	"fmt"
	log "log/slog"
)

// MySQLLogger routes go-sql-driver/mysql's internal messages into slog.
type MySQLLogger struct{}

func (MySQLLogger) Print(v ...any) {
	log.Warn("MySQL driver", log.String("detail", fmt.Sprint(v...)))
}
