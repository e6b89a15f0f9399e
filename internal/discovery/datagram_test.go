package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"peerlink/internal/domain"
)

func TestBeaconDatagram_RoundTrip(t *testing.T) {
	raw, err := marshalBeacon(&announcement{Identity: "alpha-1a2b3c4d", Port: 8001, Caps: domain.CapText})
	require.NoError(t, err)
	require.Equal(t, "PLNK", string(raw[:4]))
	require.Equal(t, byte(1), raw[4])

	a, err := parseBeacon(raw)
	require.NoError(t, err)
	require.Equal(t, domain.PeerIdentity("alpha-1a2b3c4d"), a.Identity)
	require.Equal(t, uint16(8001), a.Port)
	require.Equal(t, domain.CapText, a.Caps)
}

func TestBeaconDatagram_Drops(t *testing.T) {
	valid, err := marshalBeacon(&announcement{Identity: "alpha", Port: 8001})
	require.NoError(t, err)
	body, err := encMode.Marshal(&announcement{Identity: domain.PeerIdentity(strings.Repeat("x", 65)), Port: 8001})
	require.NoError(t, err)
	longID := append([]byte("PLNK\x01"), body...)
	body, err = encMode.Marshal(&announcement{Identity: "alpha", Port: 0})
	require.NoError(t, err)
	noPort := append([]byte("PLNK\x01"), body...)

	cases := map[string]struct {
		raw    []byte
		reason string
	}{
		"oversized":     {make([]byte, MaxDatagramSize+1), dropSize},
		"short":         {[]byte("PLN"), dropMagic},
		"bad magic":     {append([]byte("XXXX"), valid[4:]...), dropMagic},
		"bad version":   {append([]byte("PLNK\x02"), valid[5:]...), dropVersion},
		"garbage body":  {[]byte("PLNK\x01\xff\xff"), dropDecode},
		"trailing data": {append(append([]byte{}, valid...), 0x00), dropDecode},
		"long identity": {longID, dropIdentity},
		"zero port":     {noPort, dropPort},
	}
	for name, tc := range cases {
		_, err := parseBeacon(tc.raw)
		var de *dropError
		require.ErrorAs(t, err, &de, name)
		require.Equal(t, tc.reason, de.reason, name)
	}
}

func TestMarshalBeacon_TooLarge(t *testing.T) {
	_, err := marshalBeacon(&announcement{Identity: "alpha", Host: strings.Repeat("h", MaxDatagramSize), Port: 1})
	require.Error(t, err)
}

func TestDataAddress(t *testing.T) {
	src := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 40000}

	require.Equal(t, "192.168.1.20:8001", (&announcement{Port: 8001}).dataAddress(src))
	require.Equal(t, "192.168.1.20:8001", (&announcement{Host: "0.0.0.0", Port: 8001}).dataAddress(src))
	require.Equal(t, "10.0.0.5:9000", (&announcement{Host: "10.0.0.5", Port: 9000}).dataAddress(src))
}

func TestDirectedBroadcast(t *testing.T) {
	_, n, err := net.ParseCIDR("192.168.1.10/24")
	require.NoError(t, err)
	n.IP = net.ParseIP("192.168.1.10")
	require.Equal(t, "192.168.1.255", directedBroadcast(n).String())

	_, n, err = net.ParseCIDR("10.1.2.3/8")
	require.NoError(t, err)
	require.Equal(t, "10.255.255.255", directedBroadcast(n).String())

	_, n, err = net.ParseCIDR("fe80::1/64")
	require.NoError(t, err)
	require.Nil(t, directedBroadcast(n))
}

func TestBroadcastTargets_IncludesLimitedBroadcast(t *testing.T) {
	targets := BroadcastTargets(8002)
	require.NotEmpty(t, targets)
	last := targets[len(targets)-1]
	require.Equal(t, "255.255.255.255:8002", last.String())
}

func TestResolveTargets(t *testing.T) {
	got, err := resolveTargets([]string{"127.0.0.1", "127.0.0.1:9999"}, 8002)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8002", got[0].String())
	require.Equal(t, "127.0.0.1:9999", got[1].String())
}
