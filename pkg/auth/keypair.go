// Package auth implements the proxy side of the Minecraft login handshake:
// keypair and token generation, the Mojang-style server hash, and the
// session-server lookup.
package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
)

// KeyPair is the proxy's RSA-1024 identity offered in EncryptionRequest.
// PublicDER is the SPKI/DER encoding sent on the wire and fed into the
// server hash.
type KeyPair struct {
	Private   *rsa.PrivateKey
	PublicDER []byte
}

// NewKeyPair generates a fresh keypair. Vanilla servers use 1024-bit keys.
func NewKeyPair() (*KeyPair, error) {
	private, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &KeyPair{Private: private, PublicDER: der}, nil
}

// Decrypt decrypts an RSA/PKCS1v15 blob from the client's EncryptionResponse.
func (k *KeyPair) Decrypt(blob []byte) ([]byte, error) {
	return rsa.DecryptPKCS1v15(rand.Reader, k.Private, blob)
}

// NewVerifyToken returns the 16 random bytes echoed back by the client.
func NewVerifyToken() []byte {
	token := make([]byte, 16)
	_, _ = io.ReadFull(rand.Reader, token)
	return token
}

const serverIDAlphabet = "0123456789abcdef"

// NewServerID returns a random ASCII server id for the handshake.
func NewServerID() string {
	raw := make([]byte, 16)
	_, _ = io.ReadFull(rand.Reader, raw)
	id := make([]byte, len(raw))
	for i, b := range raw {
		id[i] = serverIDAlphabet[int(b)%len(serverIDAlphabet)]
	}
	return string(id)
}
