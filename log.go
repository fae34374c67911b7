package ext2

import "github.com/sirupsen/logrus"

// nullLogger is used by filesystems opened without WithLogger so call sites
// never need a nil check.
var nullLogger = func() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return logrus.NewEntry(l)
}()

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
