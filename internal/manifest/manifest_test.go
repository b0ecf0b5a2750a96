package manifest

import (
	"encoding/binary"
	"testing"

	"github.com/danmuck/greybus/internal/protocol"
	"github.com/danmuck/greybus/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackDescription() Description {
	return Description{
		Vendor:  "acme",
		Product: "node",
		Bundles: []Bundle{{ID: 1, Class: protocol.ClassLoopback}},
		CPorts: []CPort{
			{ID: 0, Bundle: 0, Protocol: protocol.ProtocolControl},
			{ID: 1, Bundle: 1, Protocol: protocol.ProtocolLoopback},
		},
	}
}

func TestBuildLayout(t *testing.T) {
	testlog.Start(t)
	blob, err := Build(loopbackDescription())
	require.NoError(t, err)

	// header, interface, two strings, two bundles, two cports
	require.Len(t, blob, 4+8+12+12+8+8+8+8)
	assert.Equal(t, uint16(len(blob)), binary.LittleEndian.Uint16(blob[0:2]))
	assert.Equal(t, byte(VersionMajor), blob[2])
	assert.Equal(t, byte(VersionMinor), blob[3])
	assert.Equal(t, byte(DescInterface), blob[6])
	assert.Zero(t, len(blob)%4)
}

func TestBuildParseRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := loopbackDescription()
	blob, err := Build(in)
	require.NoError(t, err)

	out, err := Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, "acme", out.Vendor)
	assert.Equal(t, "node", out.Product)
	assert.Equal(t, []Bundle{{ID: 0, Class: protocol.ClassControl}, {ID: 1, Class: protocol.ClassLoopback}}, out.Bundles)
	assert.Equal(t, in.CPorts, out.CPorts)
}

func TestBuildRejectsUnknownBundle(t *testing.T) {
	testlog.Start(t)
	d := loopbackDescription()
	d.CPorts = append(d.CPorts, CPort{ID: 2, Bundle: 7, Protocol: protocol.ProtocolPWM})
	_, err := Build(d)
	assert.ErrorIs(t, err, ErrUnknownBundle)
}

func TestBuildRejectsDuplicates(t *testing.T) {
	testlog.Start(t)
	d := loopbackDescription()
	d.CPorts = append(d.CPorts, CPort{ID: 1, Bundle: 1, Protocol: protocol.ProtocolLoopback})
	_, err := Build(d)
	assert.ErrorIs(t, err, ErrDuplicateCPort)

	d = loopbackDescription()
	d.Bundles = append(d.Bundles, Bundle{ID: 1, Class: protocol.ClassLog})
	_, err = Build(d)
	assert.ErrorIs(t, err, ErrDuplicateBundle)
}

func TestParseMalformed(t *testing.T) {
	testlog.Start(t)
	blob, err := Build(loopbackDescription())
	require.NoError(t, err)

	_, err = Parse(blob[:2])
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = Parse(blob[:len(blob)-4])
	assert.ErrorIs(t, err, ErrMalformed)

	bad := append([]byte(nil), blob...)
	binary.LittleEndian.PutUint16(bad[4:6], 2)
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrMalformed)
}
