package logging

import (
	"testing"

	"go.viam.com/test"
)

func TestSubloggerNaming(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)

	sub := logger.Sublogger("shooter")
	sub.Infow("spinning up", "rpm", 3000.0)

	subsub := sub.Sublogger("right")
	subsub.Info("tracking")

	entries := logs.All()
	test.That(t, entries, test.ShouldHaveLength, 2)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "shooter")
	test.That(t, entries[0].Message, test.ShouldEqual, "spinning up")
	test.That(t, entries[0].ContextMap()["rpm"], test.ShouldEqual, 3000.0)
	test.That(t, entries[1].LoggerName, test.ShouldEqual, "shooter.right")
}

func TestSetLevel(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)

	logger.Debug("visible")
	logger.SetLevel(WARN)
	test.That(t, logger.GetLevel(), test.ShouldEqual, WARN)
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("visible")

	test.That(t, logs.FilterMessage("visible").Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("hidden").Len(), test.ShouldEqual, 0)

	// Subloggers copy the level at creation time and diverge afterwards.
	sub := logger.Sublogger("amp")
	test.That(t, sub.GetLevel(), test.ShouldEqual, WARN)
	sub.SetLevel(DEBUG)
	sub.Debug("sub debug")
	logger.Debug("parent debug")
	test.That(t, logs.FilterMessage("sub debug").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("parent debug").Len(), test.ShouldEqual, 0)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.input)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
		test.That(t, FromZapLevel(level.AsZap()), test.ShouldEqual, tc.expected)
	}

	_, err := LevelFromString("verbose")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")
}
