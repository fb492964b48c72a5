package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/netip"
	"strconv"
	"unicode/utf8"
)

const previewRunes = 8

// RedactPasteContent summarizes content for logs: its byte length and, for
// longer pastes, the first few runes. The cut never splits a rune.
func RedactPasteContent(content string) string {
	if content == "" {
		return ""
	}
	size := "[" + strconv.Itoa(len(content)) + " bytes]"
	if utf8.RuneCountInString(content) <= 2*previewRunes {
		return size
	}
	cut, n := 0, 0
	for i := range content {
		if n == previewRunes {
			cut = i
			break
		}
		n++
	}
	return content[:cut] + "..." + size
}

// RedactIP keeps the network part of a client address: /24 for IPv4, /48 for
// IPv6. Anything unparseable is replaced by a short hash.
func RedactIP(remote string) string {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		sum := sha256.Sum256([]byte(host))
		return "hash:" + hex.EncodeToString(sum[:8])
	}
	addr = addr.Unmap().WithZone("")
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "hash:"
	}
	return prefix.Addr().String()
}
