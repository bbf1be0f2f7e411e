package mapparse

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stickshift-dev/stickshift/internal/jsio"
)

func TestCalibrateApplied(t *testing.T) {
	dev := newFakeDevice(3, 1)
	dev.corr[2] = jsio.Correction{Type: jsio.CorrBroken, Prec: 7}
	path := writeMap(t, `<stickshift>
  <calibrate>
    <broken_line axis="0" precision="2" centre_min="10" centre_max="20" slope_neg="30" slope_pos="40"/>
    <none axis="1"/>
    <broken_line precision="9" centre_min="0" centre_max="0" slope_neg="0" slope_pos="0"/>
  </calibrate>
</stickshift>`)

	_, err := New(zap.NewNop(), dev, path, "")
	require.NoError(t, err)

	assert.Equal(t, jsio.Correction{
		Coef: [8]int32{10, 20, 30, 40},
		Prec: 2,
		Type: jsio.CorrBroken,
	}, dev.corr[0])
	assert.Equal(t, jsio.Correction{Type: jsio.CorrNone}, dev.corr[1])
	// Entries without an axis attribute are skipped, axis 2 is untouched.
	assert.Equal(t, jsio.Correction{Type: jsio.CorrBroken, Prec: 7}, dev.corr[2])
}

func TestCalibrateErrors(t *testing.T) {
	type testCase struct {
		name    string
		content string
		wantErr string
	}

	testCases := []testCase{
		{
			name:    "bad axis",
			content: `<stickshift><calibrate><none axis="-1"/></calibrate></stickshift>`,
			wantErr: "bad calibration axis '-1'",
		},
		{
			name:    "bad precision",
			content: `<stickshift><calibrate><none axis="0" precision="tight"/></calibrate></stickshift>`,
			wantErr: "bad calibration precision 'tight'",
		},
		{
			name:    "missing coefficient",
			content: `<stickshift><calibrate><broken_line axis="0" centre_min="1" centre_max="2" slope_neg="3"/></calibrate></stickshift>`,
			wantErr: "broken_line calibration element must contain 'slope_pos'",
		},
		{
			name:    "bad coefficient",
			content: `<stickshift><calibrate><broken_line axis="0" centre_min="x" centre_max="2" slope_neg="3" slope_pos="4"/></calibrate></stickshift>`,
			wantErr: "bad calibration coefficient 'x'",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := newFakeDevice(2, 1)
			path := writeMap(t, tc.content)
			_, err := New(zap.NewNop(), dev, path, "")
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestCalibrationWriteBack(t *testing.T) {
	dev := newFakeDevice(2, 1)
	path := writeMap(t, `<stickshift>
  <axisbuttons axis="1"/>
</stickshift>`)

	m, err := New(zap.NewNop(), dev, path, path)
	require.NoError(t, err)
	require.Equal(t, 1, m.NumAxes())

	err = m.SetCorrection([]jsio.Correction{{
		Coef: [8]int32{1, 2, 3, 4},
		Prec: 5,
		Type: jsio.CorrBroken,
	}})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, `<calibrate autogenerated="true">`)
	assert.Contains(t, text, `axis="0"`)
	assert.Contains(t, text, `precision="5"`)
	assert.Contains(t, text, `centre_min="1"`)
	assert.Contains(t, text, `slope_pos="4"`)
	assert.Contains(t, text, "axis 1 is mapped to hat buttons")
	// The hand-written part of the map survives.
	assert.Contains(t, text, `<axisbuttons axis="1"/>`)
}

func TestCalibrationWriteBackReplacesPrevious(t *testing.T) {
	dev := newFakeDevice(1, 1)
	path := writeMap(t, `<stickshift>
</stickshift>`)

	for i := 0; i < 2; i++ {
		m, err := New(zap.NewNop(), dev, path, path)
		require.NoError(t, err)
		err = m.SetCorrection([]jsio.Correction{{Type: jsio.CorrNone, Prec: int16(i)}})
		require.NoError(t, err)
	}

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Equal(t, 1, strings.Count(text, "<calibrate"))
	assert.Contains(t, text, `precision="1"`)
	assert.NotContains(t, text, `precision="0"`)
}
