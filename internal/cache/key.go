package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/tbourn/go-receipt-backend/internal/extraction"
)

// Domain prefixes for content-addressed keys. The version suffix lets the
// derivation change without colliding with entries written by older builds.
const (
	domainImage  = "receipt-scan/image/v1"
	domainConfig = "receipt-scan/config/v1"
	domainKey    = "receipt-scan/key/v1"

	keyPrefix = "scan:v1:"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ImageDigest identifies canonical image bytes.
func ImageDigest(image []byte) string {
	return hashWithDomain(domainImage, image)
}

// ConfigDigest identifies an extraction configuration. The fingerprint is
// marshaled as a struct, so field order is fixed.
func ConfigDigest(fp extraction.Fingerprint) string {
	b, _ := json.Marshal(fp)
	return hashWithDomain(domainConfig, b)
}

// Key combines an image digest and a config digest into a cache key.
func Key(imageDigest, configDigest string) string {
	return keyPrefix + hashWithDomain(domainKey, []byte(imageDigest+":"+configDigest))
}

// KeyFor derives the cache key for image under fp.
func KeyFor(image []byte, fp extraction.Fingerprint) string {
	return Key(ImageDigest(image), ConfigDigest(fp))
}
