package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, zapcore.DebugLevel)

	level, err = ParseLevel(" WARN ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, zapcore.WarnLevel)

	_, err = ParseLevel("verbose")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNew(t *testing.T) {
	logger, err := New("colorvision", "info")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.Core().Enabled(zapcore.DebugLevel), test.ShouldBeFalse)
	test.That(t, logger.Core().Enabled(zapcore.InfoLevel), test.ShouldBeTrue)

	_, err = New("colorvision", "loud")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewObserved(t *testing.T) {
	logger, logs := NewObserved(zapcore.WarnLevel)
	logger.Info("dropped")
	logger.Error("kept")
	test.That(t, logs.Len(), test.ShouldEqual, 1)
	test.That(t, logs.All()[0].Message, test.ShouldEqual, "kept")
}
