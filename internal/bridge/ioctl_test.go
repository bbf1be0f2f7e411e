package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/stickshift-dev/stickshift/internal/jsio"
)

func newIoctlFile(t *testing.T) (*File, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{
		name:      "Virtual Pad",
		version:   0x020100,
		axisCodes: []uint8{0x00, 0x01},
		btnCodes:  []uint16{0x120, 0x121, 0x122},
		corr: []jsio.Correction{
			{Type: jsio.CorrBroken, Prec: 2, Coef: [8]int32{1, 2, 3, 4}},
			{Type: jsio.CorrNone},
		},
	}
	return newTestFile(t, &fakeSource{}, dev), dev
}

func TestIoctlName(t *testing.T) {
	f, _ := newIoctlFile(t)

	// Before the kernel knows the transfer size, ask for a retry.
	probe := &fakeIoctlRequest{cmd: jsio.JSIOCGNAME(128), arg: 0x1000}
	f.Ioctl(probe)
	require.NotNil(t, probe.retryOut)
	assert.Equal(t, uint64(0x1000), probe.retryOut.arg)
	assert.Equal(t, len("Virtual Pad")+1, probe.retryOut.size)

	req := &fakeIoctlRequest{cmd: jsio.JSIOCGNAME(128), outSize: 128}
	f.Ioctl(req)
	require.True(t, req.ioctlReplied)
	assert.Equal(t, append([]byte("Virtual Pad"), 0), req.data)
}

func TestIoctlVersion(t *testing.T) {
	f, _ := newIoctlFile(t)

	probe := &fakeIoctlRequest{cmd: jsio.JSIOCGVERSION}
	f.Ioctl(probe)
	require.NotNil(t, probe.retryOut)
	assert.Equal(t, 4, probe.retryOut.size)

	req := &fakeIoctlRequest{cmd: jsio.JSIOCGVERSION, outSize: 4}
	f.Ioctl(req)
	require.True(t, req.ioctlReplied)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x00}, req.data)
}

func TestIoctlCounts(t *testing.T) {
	f, _ := newIoctlFile(t)

	axes := &fakeIoctlRequest{cmd: jsio.JSIOCGAXES, outSize: 1}
	f.Ioctl(axes)
	require.True(t, axes.ioctlReplied)
	assert.Equal(t, []byte{2}, axes.data)

	buttons := &fakeIoctlRequest{cmd: jsio.JSIOCGBUTTONS, outSize: 1}
	f.Ioctl(buttons)
	require.True(t, buttons.ioctlReplied)
	assert.Equal(t, []byte{3}, buttons.data)
}

func TestIoctlAxisMap(t *testing.T) {
	f, _ := newIoctlFile(t)

	req := &fakeIoctlRequest{cmd: jsio.JSIOCGAXMAP, outSize: 64}
	f.Ioctl(req)
	require.True(t, req.ioctlReplied)
	require.Len(t, req.data, 64)
	assert.Equal(t, []byte{0x00, 0x01}, req.data[:2])
}

func TestIoctlButtonMap(t *testing.T) {
	f, _ := newIoctlFile(t)

	req := &fakeIoctlRequest{cmd: jsio.JSIOCGBTNMAP, outSize: 1024}
	f.Ioctl(req)
	require.True(t, req.ioctlReplied)
	require.Len(t, req.data, 1024)
	assert.Equal(t, []byte{0x20, 0x01, 0x21, 0x01, 0x22, 0x01}, req.data[:6])
}

func TestIoctlGetCorrection(t *testing.T) {
	f, dev := newIoctlFile(t)

	probe := &fakeIoctlRequest{cmd: jsio.JSIOCGCORR, arg: 0x2000}
	f.Ioctl(probe)
	require.NotNil(t, probe.retryOut)
	assert.Equal(t, 2*jsio.CorrectionSize, probe.retryOut.size)

	req := &fakeIoctlRequest{cmd: jsio.JSIOCGCORR, outSize: 2 * jsio.CorrectionSize}
	f.Ioctl(req)
	require.True(t, req.ioctlReplied)
	assert.Equal(t, dev.corr, jsio.DecodeCorrections(req.data))
}

func TestIoctlSetCorrection(t *testing.T) {
	f, dev := newIoctlFile(t)
	want := []jsio.Correction{
		{Type: jsio.CorrNone, Prec: 1},
		{Type: jsio.CorrBroken, Coef: [8]int32{5, 6, 7, 8}},
	}

	probe := &fakeIoctlRequest{cmd: jsio.JSIOCSCORR, arg: 0x3000}
	f.Ioctl(probe)
	require.NotNil(t, probe.retryIn)
	assert.Equal(t, 2*jsio.CorrectionSize, probe.retryIn.size)

	req := &fakeIoctlRequest{cmd: jsio.JSIOCSCORR, in: jsio.EncodeCorrections(want)}
	f.Ioctl(req)
	require.True(t, req.ioctlReplied)
	assert.Equal(t, want, dev.corr)
}

func TestIoctlSetCorrectionFailure(t *testing.T) {
	f, dev := newIoctlFile(t)
	dev.setErr = unix.ENODEV

	req := &fakeIoctlRequest{
		cmd: jsio.JSIOCSCORR,
		in:  jsio.EncodeCorrections(make([]jsio.Correction, 2)),
	}
	f.Ioctl(req)
	assert.True(t, req.errReplied)
	assert.Equal(t, unix.EIO, req.errno)
}

func TestIoctlUnknown(t *testing.T) {
	f, _ := newIoctlFile(t)

	req := &fakeIoctlRequest{cmd: 0xdeadbeef}
	f.Ioctl(req)
	assert.True(t, req.errReplied)
	assert.Equal(t, unix.EINVAL, req.errno)
}
