package logging

import (
	"bytes"
	"io"
	"os"

	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is a time formatter that follows ISO8601 with millisecond precision.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface, so any
// zap core (e.g. the test observer) can be used directly as an appender.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// ConsoleAppender will create human readable logs that are written to a writer. Each entry is a
// single tab delimited line: time, level, logger name, caller, message and json-encoded fields.
type ConsoleAppender struct {
	io.Writer
	encoder zapcore.Encoder
}

// CRLFWriter ends every line with "\r\n" while raw mode is set. A terminal in raw mode does not
// return the carriage on a bare newline.
type CRLFWriter struct {
	w   io.Writer
	raw atomic.Bool
}

// NewCRLFWriter returns a writer to w, initially passing lines through unchanged.
func NewCRLFWriter(w io.Writer) *CRLFWriter {
	return &CRLFWriter{w: w}
}

// SetRaw sets whether newlines are written as "\r\n".
func (cw *CRLFWriter) SetRaw(raw bool) {
	cw.raw.Store(raw)
}

func (cw *CRLFWriter) Write(p []byte) (int, error) {
	if !cw.raw.Load() {
		return cw.w.Write(p)
	}
	out := bytes.ReplaceAll(bytes.ReplaceAll(p, []byte("\r\n"), []byte("\n")), []byte("\n"), []byte("\r\n"))
	if _, err := cw.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

var stdout = NewCRLFWriter(os.Stdout)

// Stdout is the writer of every stdout appender. Output of the process meant for the terminal
// should go through it too.
func Stdout() *CRLFWriter {
	return stdout
}

// NewStdoutAppender creates a new appender that writes to stdout.
func NewStdoutAppender() ConsoleAppender {
	return NewWriterAppender(stdout)
}

// NewWriterAppender creates a new appender that writes to the input writer.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	cfg := NewZapLoggerConfig().EncoderConfig
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(DefaultTimeFormatStr)
	return ConsoleAppender{writer, zapcore.NewConsoleEncoder(cfg)}
}

// Write outputs the log entry to the underlying stream.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	_, err = appender.Writer.Write(buf.Bytes())
	return err
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}

// FileAppender writes console formatted entries to a file that is rotated once it grows past a
// size limit.
type FileAppender struct {
	ConsoleAppender
	file *lumberjack.Logger
}

// NewFileAppender returns an appender writing to path. The file is rotated at maxSizeMB
// megabytes and two compressed backups are kept.
func NewFileAppender(path string, maxSizeMB int) *FileAppender {
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 2,
		Compress:   true,
	}
	return &FileAppender{ConsoleAppender: NewWriterAppender(file), file: file}
}

// Close closes the current log file.
func (fa *FileAppender) Close() error {
	return fa.file.Close()
}
