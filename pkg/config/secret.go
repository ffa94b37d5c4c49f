package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"

	"github.com/sidkik/cloudsave/pkg/errors"
)

// sealedPrefix marks tokens that were encrypted by sealToken. Tokens without
// it are used as-is, so that users can paste a token into the file by hand.
const sealedPrefix = "sealed:"

const (
	nonceSize           = 24
	keyDerivationRounds = 4096
)

// The key protects the token from casual inspection of the settings file.
// It is not a secret.
var (
	keyPassphrase = []byte("cloudsave local credential store")
	keySalt       = []byte("cloudsave/v1alpha1")
)

// Mocked out for unit testing.
var randReader io.Reader = rand.Reader

func tokenKey() *[32]byte {
	var key [32]byte
	copy(key[:], pbkdf2.Key(keyPassphrase, keySalt, keyDerivationRounds, len(key), sha256.New))
	return &key
}

func sealToken(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(randReader, nonce[:]); err != nil {
		return "", errors.WithContext(err, "generate nonce")
	}

	sealed := secretbox.Seal(nonce[:], []byte(token), &nonce, tokenKey())
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func openToken(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", errors.WithContext(err, "decode")
	}
	if len(sealed) < nonceSize {
		return "", errors.New("sealed token is truncated")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	token, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, tokenKey())
	if !ok {
		return "", errors.NewFriendlyError("The remote token in the settings file " +
			"could not be decrypted. Please set it again with `cloudsave config --token`.")
	}
	return string(token), nil
}
