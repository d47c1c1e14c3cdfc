// Package tsa obtains qualified timestamps for document hashes from an
// RFC 3161 timestamp authority.
package tsa

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sjperalta/fintera-sign-api/internal/models"
	"github.com/sjperalta/fintera-sign-api/internal/telemetry"
)

// LocalTSAURL marks timestamps taken from the local clock
const LocalTSAURL = "local"

// Authority issues a timestamp attesting that hashHex existed at a point in time
type Authority interface {
	Timestamp(ctx context.Context, hashHex string) (*models.QualifiedTimestamp, error)
}

var (
	oidSHA256     = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidTSTInfo    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
)

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type messageImprint struct {
	HashAlgorithm algorithmIdentifier
	HashedMessage []byte
}

type timeStampReq struct {
	Version        int
	MessageImprint messageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional"`
}

type pkiStatusInfo struct {
	Status int
}

type timeStampResp struct {
	Status         pkiStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type encapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte `asn1:"explicit,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue
	EncapContentInfo encapsulatedContentInfo
}

type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint messageImprint
	SerialNumber   *big.Int
	GenTime        time.Time `asn1:"generalized"`
}

// PKI status values accepted as a granted timestamp
const (
	statusGranted         = 0
	statusGrantedWithMods = 1
)

// Client talks to an RFC 3161 authority over HTTP
type Client struct {
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient creates a timestamp authority client. Each request is bounded by timeout.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
	}
}

// BuildRequest encodes a TimeStampReq for a SHA-256 digest
func BuildRequest(digest []byte, nonce *big.Int) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	req := timeStampReq{
		Version: 1,
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{
				Algorithm:  oidSHA256,
				Parameters: asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagNull},
			},
			HashedMessage: digest,
		},
		Nonce:   nonce,
		CertReq: true,
	}
	return asn1.Marshal(req)
}

func (c *Client) Timestamp(ctx context.Context, hashHex string) (*models.QualifiedTimestamp, error) {
	start := time.Now()
	ts, err := c.timestamp(ctx, hashHex)
	outcome := telemetry.OutcomeSuccess
	if err != nil {
		outcome = telemetry.OutcomeError
	}
	telemetry.TSARequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return ts, err
}

func (c *Client) timestamp(ctx context.Context, hashHex string) (*models.QualifiedTimestamp, error) {
	digest, err := hex.DecodeString(strings.TrimSpace(hashHex))
	if err != nil {
		return nil, fmt.Errorf("invalid document hash: %w", err)
	}
	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}
	reqDER, err := BuildRequest(digest, nonce)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqDER))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/timestamp-query")
	httpReq.Header.Set("Accept", "application/timestamp-reply")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tsa request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tsa returned status %d", resp.StatusCode)
	}

	info, token, err := parseResponse(body)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(info.MessageImprint.HashedMessage, digest) {
		return nil, errors.New("tsa response imprint does not match the document hash")
	}

	return &models.QualifiedTimestamp{
		Timestamp:    info.GenTime.UTC(),
		TSAURL:       c.URL,
		Verified:     true,
		SerialNumber: info.SerialNumber.String(),
		Token:        base64.StdEncoding.EncodeToString(token),
	}, nil
}

// parseResponse decodes a TimeStampResp and returns the TSTInfo and the raw token
func parseResponse(der []byte) (*tstInfo, []byte, error) {
	var resp timeStampResp
	if _, err := asn1.Unmarshal(der, &resp); err != nil {
		return nil, nil, fmt.Errorf("invalid timestamp response: %w", err)
	}
	if resp.Status.Status != statusGranted && resp.Status.Status != statusGrantedWithMods {
		return nil, nil, fmt.Errorf("timestamp rejected with status %d", resp.Status.Status)
	}
	if len(resp.TimeStampToken.FullBytes) == 0 {
		return nil, nil, errors.New("timestamp response carries no token")
	}

	var ci contentInfo
	if _, err := asn1.Unmarshal(resp.TimeStampToken.FullBytes, &ci); err != nil {
		return nil, nil, fmt.Errorf("invalid timestamp token: %w", err)
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return nil, nil, fmt.Errorf("unexpected token content type %v", ci.ContentType)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, nil, fmt.Errorf("invalid signed data: %w", err)
	}
	if !sd.EncapContentInfo.EContentType.Equal(oidTSTInfo) {
		return nil, nil, fmt.Errorf("unexpected encapsulated content type %v", sd.EncapContentInfo.EContentType)
	}

	var info tstInfo
	if _, err := asn1.Unmarshal(sd.EncapContentInfo.EContent, &info); err != nil {
		return nil, nil, fmt.Errorf("invalid TSTInfo: %w", err)
	}
	if info.SerialNumber == nil {
		return nil, nil, errors.New("TSTInfo has no serial number")
	}
	return &info, resp.TimeStampToken.FullBytes, nil
}

// LocalClock stamps hashes with the server clock. The result is marked
// unverified; it exists for development without a reachable authority.
type LocalClock struct {
	Now func() time.Time
}

func (l LocalClock) Timestamp(ctx context.Context, hashHex string) (*models.QualifiedTimestamp, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return &models.QualifiedTimestamp{
		Timestamp:    now().UTC(),
		TSAURL:       LocalTSAURL,
		Verified:     false,
		SerialNumber: uuid.NewString(),
	}, nil
}
