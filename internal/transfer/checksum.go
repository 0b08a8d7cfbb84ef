package transfer

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Supported digest algorithms.
const (
	AlgorithmSHA256     = "sha256"
	AlgorithmSHA512     = "sha512"
	AlgorithmBLAKE2b256 = "blake2b-256"
)

// Checksum is a parsed "<algorithm>:<hex digest>" value.
type Checksum struct {
	Algorithm string
	Digest    string
}

func (c Checksum) String() string {
	return c.Algorithm + ":" + c.Digest
}

// ParseChecksum accepts "<algorithm>:<hex>" or a bare hex digest, which is read as sha256.
func ParseChecksum(value string) (Checksum, error) {
	algo, digest, found := strings.Cut(strings.TrimSpace(value), ":")
	if !found {
		algo, digest = AlgorithmSHA256, algo
	}
	algo = strings.ToLower(algo)
	digest = strings.ToLower(digest)

	h, err := newHash(algo)
	if err != nil {
		return Checksum{}, err
	}
	if len(digest) != h.Size()*2 {
		return Checksum{}, fmt.Errorf("%s digest must be %d hex characters", algo, h.Size()*2)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return Checksum{}, fmt.Errorf("invalid %s digest: %w", algo, err)
	}
	return Checksum{Algorithm: algo, Digest: digest}, nil
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmSHA512:
		return sha512.New(), nil
	case AlgorithmBLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
}

// FileChecksum hashes the file at path with the given algorithm.
func FileChecksum(path, algo string) (Checksum, error) {
	h, err := newHash(algo)
	if err != nil {
		return Checksum{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Checksum{}, err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return Checksum{}, err
	}
	return Checksum{Algorithm: algo, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// MatchesFile reports whether the file at path exists and hashes to expected.
func MatchesFile(path, expected string) (bool, error) {
	want, err := ParseChecksum(expected)
	if err != nil {
		return false, err
	}
	got, err := FileChecksum(path, want.Algorithm)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return got.Digest == want.Digest, nil
}
