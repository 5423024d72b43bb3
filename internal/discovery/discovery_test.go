package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestEntryURL(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		AddrIPv4: []net.IP{net.ParseIP("192.168.1.20")},
		Port:     8081,
	}
	url, ok := entryURL(entry)
	assert.True(t, ok)
	assert.Equal(t, "http://192.168.1.20:8081", url)

	entry = &zeroconf.ServiceEntry{
		AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
		Port:     8081,
	}
	url, ok = entryURL(entry)
	assert.True(t, ok)
	assert.Equal(t, "http://[fe80::1]:8081", url)
}

func TestEntryURLIncomplete(t *testing.T) {
	_, ok := entryURL(nil)
	assert.False(t, ok)

	_, ok = entryURL(&zeroconf.ServiceEntry{Port: 8081})
	assert.False(t, ok)

	_, ok = entryURL(&zeroconf.ServiceEntry{AddrIPv4: []net.IP{net.ParseIP("10.0.0.1")}})
	assert.False(t, ok)
}
