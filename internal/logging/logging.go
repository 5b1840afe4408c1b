// Package logging hands out one tagged logrus entry per subsystem, the way
// rclone's fs.Logf tags every log line with the backend that produced it.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel adjusts verbosity for every subsystem logger at once.
func SetLevel(level logrus.Level) { base.SetLevel(level) }

// For returns a logger tagged with the given subsystem name, e.g.
// logging.For("erasure"), logging.For("cluster.worker").
func For(subsystem string) *logrus.Entry {
	return base.WithField("subsys", subsystem)
}
