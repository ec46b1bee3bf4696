package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

type frameStats struct {
	Seq     int
	Dropped int
	hidden  string
}

// assertLogMatches fuzzy matches a console log line. The timestamp is only checked for its
// length and the caller only for its filename.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Level, logger name.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, _, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, _ := strings.Cut(expectedParts[3], ":")
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func newBufferLogger(name string, level Level) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return newImpl(name, level, true, NewWriterAppender(buf)), buf
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, buf := newBufferLogger("fusion", DEBUG)

	logger.Info("cycle done")
	assertLogMatches(t, buf, `2023-10-30T09:12:09.459Z	INFO	fusion	logging/impl_test.go:60	cycle done`)

	logger.Infof("frame %d", 45)
	assertLogMatches(t, buf, `2023-10-30T09:12:09.459Z	INFO	fusion	logging/impl_test.go:63	frame 45`)

	logger.Warnw("dropped frames", "count", 3, "stats", frameStats{Seq: 9, Dropped: 2, hidden: "x"})
	assertLogMatches(t, buf,
		`2023-10-30T09:12:09.459Z	WARN	fusion	logging/impl_test.go:66	dropped frames	{"count":3,"stats":{"Seq":9,"Dropped":2}}`)
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger("fusion", WARN)

	logger.Debug("hidden")
	logger.Info("hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Error("shown")
	test.That(t, buf.String(), test.ShouldContainSubstring, "shown")

	buf.Reset()
	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debugf("now %s", "shown")
	test.That(t, buf.String(), test.ShouldContainSubstring, "now shown")
}

func TestUnpairedKey(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("slot closed", "published", 4, "dropped")
	entries := logs.All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	ctx := entries[0].ContextMap()
	test.That(t, ctx["published"], test.ShouldEqual, int64(4))
	test.That(t, ctx["error"], test.ShouldContainSubstring, "dropped")
}

func TestSublogger(t *testing.T) {
	logger, buf := newBufferLogger("fusion", INFO)
	sub := logger.Sublogger("coordinator")
	sub.Info("hello")
	test.That(t, buf.String(), test.ShouldContainSubstring, "fusion.coordinator")

	blank := NewBlankLogger("")
	test.That(t, blank.Sublogger("engine").Sublogger("voxel"), test.ShouldNotBeNil)
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("export written", "file", "cloud.pcd")
	logger.Errorf("fatal %s", "oom")

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("export written").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("oom").Len(), test.ShouldEqual, 1)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.out)
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fusion.log")
	appender := NewFileAppender(path, 1)
	logger := newImpl("fusion", INFO, true, appender)

	logger.Debug("hidden")
	logger.Infow("volume saved", "voxels", 12)
	test.That(t, appender.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "volume saved")
	test.That(t, string(contents), test.ShouldContainSubstring, `{"voxels": 12}`)
	test.That(t, string(contents), test.ShouldNotContainSubstring, "hidden")
}

func TestCRLFWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewCRLFWriter(&buf)
	logger := newImpl("fusion", INFO, true, NewWriterAppender(w))

	logger.Info("cooked")
	test.That(t, buf.String(), test.ShouldEndWith, "cooked\n")
	test.That(t, buf.String(), test.ShouldNotContainSubstring, "\r")

	buf.Reset()
	w.SetRaw(true)
	logger.Info("raw")
	n, err := w.Write([]byte("a\nb\r\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 5)
	test.That(t, buf.String(), test.ShouldEndWith, "raw\r\na\r\nb\r\n")
}
