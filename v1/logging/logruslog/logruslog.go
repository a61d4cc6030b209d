// Package logruslog adapts sirupsen/logrus to logging.Logger.
package logruslog

import (
	"github.com/sirupsen/logrus"

	"github.com/mirkobrombin/go-tiercache/v1/logging"
)

var _ logging.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New wraps l.
func New(l *logrus.Logger) Logger { return Logger{E: logrus.NewEntry(l)} }

func (l Logger) Debug(msg string, f logging.Fields) { l.E.WithFields(logrus.Fields(f)).Debug(msg) }
func (l Logger) Info(msg string, f logging.Fields)  { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logger) Warn(msg string, f logging.Fields)  { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logger) Error(msg string, f logging.Fields) { l.E.WithFields(logrus.Fields(f)).Error(msg) }
