package socks5

import (
	"bytes"
	"context"
	"net"
	"testing"
)

func TestReadAddress_IPv6(t *testing.T) {
	want := net.ParseIP("2001:db8::1")
	in := bytes.NewReader(want.To16())

	ip, _, host, err := readAddress(context.Background(), in, AddrTypeIPv6, nil)
	if err != nil {
		t.Fatalf("readAddress() error = %v", err)
	}
	if !ip.Equal(want) {
		t.Errorf("readAddress() ip = %v, want %v", ip, want)
	}
	if host != "" {
		t.Errorf("readAddress() host = %q, want empty for non-domain types", host)
	}
}

func TestReadAddress_EmptyDomainRejected(t *testing.T) {
	in := bytes.NewReader([]byte{0x00})
	if _, _, _, err := readAddress(context.Background(), in, AddrTypeDomain, nil); err == nil {
		t.Fatal("readAddress() should reject a zero-length domain name")
	}
}

func TestReadAddress_InvalidUTF8Domain(t *testing.T) {
	in := bytes.NewReader([]byte{0x02, 0xff, 0xfe})
	if _, _, _, err := readAddress(context.Background(), in, AddrTypeDomain, nil); err == nil {
		t.Fatal("readAddress() should reject a non-UTF-8 domain name")
	}
}

func TestReadAddress_UnsupportedType(t *testing.T) {
	in := bytes.NewReader(nil)
	if _, _, _, err := readAddress(context.Background(), in, AddrType(0x09), nil); err == nil {
		t.Fatal("readAddress() should reject an unrecognized address type")
	}
}
