package statusled

import (
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

// mockLine is a test double for outputLine, mirroring ptt_test.go's
// mockGPIODLine: it records calls without requiring a gpio-sim chip.
type mockLine struct {
	value   int
	closed  bool
	failSet bool
}

func (m *mockLine) SetValue(v int) error {
	if m.failSet {
		return errors.New("simulated gpio failure")
	}

	m.value = v

	return nil
}

func (m *mockLine) Close() error {
	m.closed = true

	return nil
}

func testIndicator(line outputLine) *Indicator {
	return &Indicator{log: log.New(io.Discard), line: line}
}

func TestNoneIsANoOp(t *testing.T) {
	var ind = None()

	require.NotPanics(t, func() {
		ind.Enter()
		ind.Exit()
	})
	require.NoError(t, ind.Close())
}

func TestEnterDrivesLineHigh(t *testing.T) {
	var mock = &mockLine{} //nolint:exhaustruct
	var ind = testIndicator(mock)

	ind.Enter()

	require.Equal(t, lineHigh, mock.value)
}

func TestExitDrivesLineLow(t *testing.T) {
	var mock = &mockLine{value: lineHigh} //nolint:exhaustruct
	var ind = testIndicator(mock)

	ind.Exit()

	require.Equal(t, lineLow, mock.value)
}

func TestSetValueFailureIsLoggedNotPanicked(t *testing.T) {
	var mock = &mockLine{failSet: true} //nolint:exhaustruct
	var ind = testIndicator(mock)

	require.NotPanics(t, ind.Enter)
}

func TestCloseReleasesLine(t *testing.T) {
	var mock = &mockLine{} //nolint:exhaustruct
	var ind = testIndicator(mock)

	require.NoError(t, ind.Close())
	require.True(t, mock.closed)
}

func TestParseLineSpec(t *testing.T) {
	var chip, offset, err = parseLineSpec("gpiochip0:4")
	require.NoError(t, err)
	require.Equal(t, "gpiochip0", chip)
	require.Equal(t, 4, offset)

	var _, _, badErr = parseLineSpec("gpiochip0")
	require.Error(t, badErr)

	var _, _, badErr2 = parseLineSpec("gpiochip0:nope")
	require.Error(t, badErr2)
}
