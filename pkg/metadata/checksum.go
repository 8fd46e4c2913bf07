package metadata

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

func newHash(alg string) (hash.Hash, error) {
	switch strings.ToLower(alg) {
	case "sha", "sha1":
		return sha1.New(), nil
	case "sha224":
		return sha256.New224(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", alg)
	}
}

func ComputeChecksum(data []byte, alg string) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SupportedChecksum reports whether the algorithm is one createrepo_c can emit.
func SupportedChecksum(alg string) bool {
	_, err := newHash(alg)
	return err == nil
}
