package tsa

import (
	"context"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/hex"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue
}

type rawTimeStampResp struct {
	Status         pkiStatusInfo
	TimeStampToken asn1.RawValue `asn1:"optional"`
}

func buildResponse(t *testing.T, status int, digest []byte, genTime time.Time) []byte {
	t.Helper()
	info := tstInfo{
		Version: 1,
		Policy:  asn1.ObjectIdentifier{1, 2, 3, 4},
		MessageImprint: messageImprint{
			HashAlgorithm: algorithmIdentifier{Algorithm: oidSHA256},
			HashedMessage: digest,
		},
		SerialNumber: big.NewInt(4242),
		GenTime:      genTime,
	}
	infoDER, err := asn1.Marshal(info)
	require.NoError(t, err)

	sd := signedData{
		Version:          3,
		DigestAlgorithms: asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true},
		EncapContentInfo: encapsulatedContentInfo{EContentType: oidTSTInfo, EContent: infoDER},
	}
	sdDER, err := asn1.Marshal(sd)
	require.NoError(t, err)

	ciDER, err := asn1.Marshal(rawContentInfo{
		ContentType: oidSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	})
	require.NoError(t, err)

	resp := rawTimeStampResp{Status: pkiStatusInfo{Status: status}}
	if status <= statusGrantedWithMods {
		resp.TimeStampToken = asn1.RawValue{FullBytes: ciDER}
	}
	der, err := asn1.Marshal(resp)
	require.NoError(t, err)
	return der
}

func TestBuildRequest_RejectsShortDigest(t *testing.T) {
	_, err := BuildRequest([]byte{1, 2, 3}, nil)
	assert.Error(t, err)
}

func TestClient_Timestamp(t *testing.T) {
	sum := sha256.Sum256([]byte("contrato firmado"))
	genTime := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/timestamp-query", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		var req timeStampReq
		_, err := asn1.Unmarshal(body, &req)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, sum[:], req.MessageImprint.HashedMessage)
		w.Header().Set("Content-Type", "application/timestamp-reply")
		w.Write(buildResponse(t, statusGranted, req.MessageImprint.HashedMessage, genTime))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	ts, err := client.Timestamp(context.Background(), hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	assert.True(t, ts.Verified)
	assert.Equal(t, "4242", ts.SerialNumber)
	assert.True(t, genTime.Equal(ts.Timestamp))
	assert.Equal(t, srv.URL, ts.TSAURL)
	assert.NotEmpty(t, ts.Token)
}

func TestClient_TimestampImprintMismatch(t *testing.T) {
	sum := sha256.Sum256([]byte("a"))
	other := sha256.Sum256([]byte("b"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buildResponse(t, statusGranted, other[:], time.Now().UTC().Truncate(time.Second)))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Timestamp(context.Background(), hex.EncodeToString(sum[:]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imprint")
}

func TestClient_TimestampRejected(t *testing.T) {
	sum := sha256.Sum256([]byte("a"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buildResponse(t, 2, sum[:], time.Now().UTC().Truncate(time.Second)))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Timestamp(context.Background(), hex.EncodeToString(sum[:]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 2")
}

func TestClient_TimestampTimesOut(t *testing.T) {
	sum := sha256.Sum256([]byte("a"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := NewClient(srv.URL, 100*time.Millisecond).Timestamp(context.Background(), hex.EncodeToString(sum[:]))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLocalClock_IsUnverified(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ts, err := LocalClock{Now: func() time.Time { return fixed }}.Timestamp(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, ts.Verified)
	assert.Equal(t, LocalTSAURL, ts.TSAURL)
	assert.Equal(t, fixed, ts.Timestamp)
	assert.NotEmpty(t, ts.SerialNumber)
}
