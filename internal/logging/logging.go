// Package logging sets up the console logger and the rotating error file.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/laytan/tubescriber/internal/config"
)

const fileName = "tubescriber.log"

// New returns a logger writing to stderr at the configured level, with every
// error and above also written as JSON to a rotating file in cfg.Dir.
func New(cfg config.LogConfig) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.Dir, os.ModePerm); err != nil {
		return nil, nil, err
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, fileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.AddHook(NewFileHook(file, logrus.ErrorLevel))

	return log, file, nil
}

// FileHook writes entries at or above a level to w, independent of the
// logger's own output and level.
type FileHook struct {
	w         io.Writer
	levels    []logrus.Level
	formatter logrus.Formatter
}

func NewFileHook(w io.Writer, min logrus.Level) *FileHook {
	return &FileHook{
		w:         w,
		levels:    logrus.AllLevels[:min+1],
		formatter: &logrus.JSONFormatter{},
	}
}

func (h *FileHook) Levels() []logrus.Level {
	return h.levels
}

func (h *FileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.w.Write(line)
	return err
}
