// Package logging provides the structured logging infrastructure shared by
// every HotMesh component. Output is routed so that error-level records land
// on stderr and everything else on stdout, which keeps container log
// collectors able to treat the two streams differently.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus-formatted lines to stderr or stdout based on
// level, without parsing the line beyond a literal substring check.
type OutputSplitter struct{}

func (s *OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-wide logrus instance. Components should derive a
// ContextLogger from it rather than logging through it directly, so that
// correlation fields (appId, guid, topic, jobId) are never forgotten.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
	Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
