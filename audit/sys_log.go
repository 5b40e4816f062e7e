package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
)

// Ensure SyslogLogger implements Logger interface
var _ Logger = (*SyslogLogger)(nil)

type SyslogOptions struct {
	Network string `json:"network"` // "tcp", "udp", "" for the local socket
	Address string `json:"address"` // "localhost:514"
	Tag     string `json:"tag"`
}

// SyslogLogger forwards audit events to syslog as JSON payloads
type SyslogLogger struct {
	syslogOpts SyslogOptions
	writer     *syslog.Writer
}

// NewSyslogLogger creates a new syslog audit logger with options
func NewSyslogLogger(config *Config) (*SyslogLogger, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var syslogOpts SyslogOptions
	if err := parseOptions(config.Options, &syslogOpts); err != nil {
		return nil, fmt.Errorf("invalid syslog logger options: %w", err)
	}

	if syslogOpts.Tag == "" {
		syslogOpts.Tag = "keyring-audit"
	}

	writer, err := syslog.Dial(syslogOpts.Network, syslogOpts.Address,
		syslog.LOG_INFO|syslog.LOG_USER, syslogOpts.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}

	return &SyslogLogger{
		syslogOpts: syslogOpts,
		writer:     writer,
	}, nil
}

// Log implements the Logger interface
func (sl *SyslogLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	eventJSON, err := json.Marshal(newEvent(action, success, metadata))
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}

	if success {
		err = sl.writer.Info(string(eventJSON))
	} else {
		err = sl.writer.Warning(string(eventJSON))
	}
	if err != nil {
		return fmt.Errorf("failed to write audit event to syslog: %w", err)
	}
	return nil
}

func (sl *SyslogLogger) Close() error {
	if sl.writer == nil {
		return nil
	}
	err := sl.writer.Close()
	sl.writer = nil
	return err
}
