package ucxgo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTagBijective checks decodeTag(dataTag(c,s)) == (c,s) for every c,s.
func TestTagBijective(t *testing.T) {
	cases := [][2]uint32{
		{0, 0},
		{1, 1},
		{0xffffffff, 0xffffffff},
		{1, 0xffffffff},
		{0xffffffff, 1},
	}
	for i := 0; i < 256; i++ {
		cases = append(cases, [2]uint32{rand.Uint32(), rand.Uint32()})
	}

	for _, c := range cases {
		tag := dataTag(c[0], c[1])
		gotConn, gotSN := decodeTag(tag)
		require.Equal(t, c[0], gotConn)
		require.Equal(t, c[1], gotSN)
	}
}

func TestIOMSGTagDoesNotCollideWithData(t *testing.T) {
	for i := 0; i < 256; i++ {
		connID, sn := rand.Uint32(), rand.Uint32()
		require.NotEqual(t, dataTag(connID, sn), iomsgTag(connID, sn))
		require.NotZero(t, iomsgTag(connID, sn)&IOMSGBit)
		require.Zero(t, dataTag(connID, sn)&IOMSGBit)
	}
}

func TestConnIDWireRoundTrip(t *testing.T) {
	for _, id := range []uint32{0, 1, 42, 0xdeadbeef, 0xffffffff} {
		buf := appendConnID(nil, id)
		require.Len(t, buf, 4)
		require.Equal(t, id, readConnID(buf))
	}
}
