package initializer

import (
	"io"
	"log/slog"
	"os"

	"github.com/amirasaad/persistence/pkg/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// SetupLogger builds the process logger and installs it as the slog default.
func SetupLogger(cfg *config.Log) *slog.Logger {
	return setupLogger(os.Stdout, cfg)
}

func setupLogger(w io.Writer, cfg *config.Log) *slog.Logger {
	styles := log.DefaultStyles()
	infoTxtColor := lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	warnTxtColor := lipgloss.AdaptiveColor{Light: "#EE6FF8", Dark: "#EE6FF8"}
	errorTxtColor := lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF6B6B"}
	debugTxtColor := lipgloss.AdaptiveColor{Light: "#7E57C2", Dark: "#7E57C2"}

	levels := map[log.Level]lipgloss.AdaptiveColor{
		log.ErrorLevel: errorTxtColor,
		log.WarnLevel:  warnTxtColor,
		log.InfoLevel:  infoTxtColor,
		log.DebugLevel: debugTxtColor,
	}
	for level, color := range levels {
		styles.Levels[level] = lipgloss.NewStyle().
			SetString(level.String()).
			Bold(true).
			Padding(0, 1).
			Foreground(color)
	}

	styles.Keys["error"] = lipgloss.NewStyle().Foreground(errorTxtColor)
	styles.Values["error"] = lipgloss.NewStyle().Bold(true)
	for _, key := range []string{"entity", "op", "id", "unit"} {
		styles.Keys[key] = lipgloss.NewStyle().Foreground(debugTxtColor)
	}

	formattersMap := map[string]log.Formatter{
		"json":   log.JSONFormatter,
		"text":   log.TextFormatter,
		"logfmt": log.LogfmtFormatter,
	}
	formatter := log.TextFormatter
	if f, ok := formattersMap[cfg.Format]; ok {
		formatter = f
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           log.Level(cfg.Level),
		Prefix:          cfg.Prefix,
		Formatter:       formatter,
	})
	logger.SetStyles(styles)

	slogger := slog.New(logger)
	slog.SetDefault(slogger)

	return slogger
}
