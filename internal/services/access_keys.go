package services

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"math/big"

	"github.com/sjperalta/fintera-sign-api/internal/models"
)

const (
	shortIDLength   = 12
	accessKeyLength = 6
	keyAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Access key formats recorded on request.accessed
const (
	KeyFormatStored = "stored"
	KeyFormatLegacy = "legacy"
)

func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(keyAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = keyAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// NewShortID generates the public identifier of a signing link
func NewShortID() (string, error) {
	return randomString(shortIDLength)
}

// NewAccessKey generates the secret paired with a short id
func NewAccessKey() (string, error) {
	return randomString(accessKeyLength)
}

// LegacyAccessKey derives the key older links were issued with:
// base64("shortId:customerId") cut to six characters.
func LegacyAccessKey(shortID, customerID string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(shortID + ":" + customerID))
	if len(enc) < accessKeyLength {
		return enc
	}
	return enc[:accessKeyLength]
}

// AccessKeyValidator is one accepted access key format
type AccessKeyValidator interface {
	Format() string
	Valid(req *models.SignatureRequest, key string) bool
}

type storedKeyValidator struct{}

func (storedKeyValidator) Format() string { return KeyFormatStored }

func (storedKeyValidator) Valid(req *models.SignatureRequest, key string) bool {
	return req.AccessKey != "" && constantTimeEqual(req.AccessKey, key)
}

type legacyKeyValidator struct{}

func (legacyKeyValidator) Format() string { return KeyFormatLegacy }

func (legacyKeyValidator) Valid(req *models.SignatureRequest, key string) bool {
	return constantTimeEqual(LegacyAccessKey(req.ShortID, req.CustomerID), key)
}

// DefaultAccessKeyValidators tries the stored key first, then the derived legacy key
func DefaultAccessKeyValidators() []AccessKeyValidator {
	return []AccessKeyValidator{storedKeyValidator{}, legacyKeyValidator{}}
}

// matchAccessKey returns the format of the first validator accepting key
func matchAccessKey(validators []AccessKeyValidator, req *models.SignatureRequest, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for _, v := range validators {
		if v.Valid(req, key) {
			return v.Format(), true
		}
	}
	return "", false
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
