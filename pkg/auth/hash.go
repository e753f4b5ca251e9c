package auth

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// ServerHash computes the digest the session server expects:
// SHA1(serverID || sharedSecret || publicKey) rendered as a signed
// big-endian hex integer with no leading zero pad.
func ServerHash(serverID string, sharedSecret, publicKey []byte) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write(sharedSecret)
	h.Write(publicKey)
	return hexDigest(h.Sum(nil))
}

func hexDigest(sum []byte) string {
	negative := sum[0]&0x80 == 0x80
	if negative {
		twosComplement(sum)
	}
	res := strings.TrimLeft(hex.EncodeToString(sum), "0")
	if res == "" {
		res = "0"
	}
	if negative {
		res = "-" + res
	}
	return res
}

func twosComplement(p []byte) {
	carry := true
	for i := len(p) - 1; i >= 0; i-- {
		p[i] = ^p[i]
		if carry {
			carry = p[i] == 0xff
			p[i]++
		}
	}
}
