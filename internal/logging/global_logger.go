// Package logging configures the shared logrus logger, its rotating file
// output and the Gin middleware used by the local control bridge.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/util"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active log file inside the logs directory.
const LogFileName = "aquila-auth.log"

const emptyCorrelation = "--------"

var (
	setupOnce      sync.Once
	writerMu       sync.Mutex
	logWriter      *lumberjack.Logger
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
)

// LogFormatter renders one line per entry:
//
//	[2025-12-23 20:14:04] [3f2a9c1e] [info ] [coordinator.go:312] login attempt started backend=keyring
//
// The second column is the bridge request ID when present, otherwise the
// first eight characters of the login attempt ID.
type LogFormatter struct{}

// logFieldOrder lists the fields printed after the message, in order.
var logFieldOrder = []string{"operation", "backend", "outcome", "status", "wait", "error"}

// Format renders a single log entry.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fields []string
	for _, k := range logFieldOrder {
		if v, ok := entry.Data[k]; ok {
			fields = append(fields, fmt.Sprintf("%s=%v", k, v))
		}
	}
	fieldsStr := ""
	if len(fields) > 0 {
		fieldsStr = " " + strings.Join(fields, " ")
	}

	corr := correlationID(entry.Data)
	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%-5s] [%s:%d] %s%s\n", timestamp, corr, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] [%-5s] %s%s\n", timestamp, corr, level, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

func correlationID(data log.Fields) string {
	if id, ok := data["request_id"].(string); ok && id != "" {
		return id
	}
	if id, ok := data["attempt_id"].(string); ok && id != "" {
		if len(id) > len(emptyCorrelation) {
			id = id[:len(emptyCorrelation)]
		}
		return id
	}
	return emptyCorrelation
}

// SetupBaseLogger configures the shared logrus instance and Gin writers.
// It is safe to call multiple times; initialization happens only once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			log.StandardLogger().Debugf(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(closeLogOutputs)
	})
}

// ResolveLogDirectory returns the logs directory under the data directory.
func ResolveLogDirectory(cfg *config.Config) string {
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	dataDir, err := util.ResolveDataDir(cfg)
	if err != nil || dataDir == "" {
		if err != nil {
			log.Warnf("falling back to ./logs: %v", err)
		}
		return "logs"
	}
	return filepath.Join(dataDir, "logs")
}

// ConfigureLogOutput switches the global log destination between a rotating
// file and stdout, and starts the retention sweeper when a size cap is set.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	logDir := ResolveLogDirectory(cfg)
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}

	active := ""
	if cfg.LoggingToFile {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		active = filepath.Join(logDir, LogFileName)
		logWriter = &lumberjack.Logger{
			Filename:   active,
			MaxSize:    10,
			MaxBackups: 0,
			MaxAge:     0,
			Compress:   true,
		}
		log.SetOutput(logWriter)
	} else {
		log.SetOutput(os.Stdout)
	}

	startRetentionLocked(logDir, cfg.LogsMaxTotalSizeMB, active)
	return nil
}

func closeLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	stopRetentionLocked()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if ginInfoWriter != nil {
		_ = ginInfoWriter.Close()
		ginInfoWriter = nil
	}
	if ginErrorWriter != nil {
		_ = ginErrorWriter.Close()
		ginErrorWriter = nil
	}
}
