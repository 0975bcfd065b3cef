package exportbundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/audit"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/clockid"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/policy"
)

func newTestLog(t *testing.T, n int) *audit.Log {
	t.Helper()
	log := audit.NewLog(clockid.NewSequence())
	a := action.NewTransfer(action.Transfer{Chain: "Sepolia", Amount: 1})
	for i := 0; i < n; i++ {
		_, err := log.Record(a, "operator-1", policy.Result{Decision: policy.DecisionAllowed}, nil, uint64(i))
		require.NoError(t, err)
	}
	return log
}

func TestGeneratePackRejectsEmptyRange(t *testing.T) {
	log := newTestLog(t, 0)
	_, err := GeneratePack(log, Request{})
	assert.ErrorIs(t, err, ErrNoEntries)
}

func TestGeneratePackProducesReadableZip(t *testing.T) {
	log := newTestLog(t, 3)

	p, err := GeneratePack(log, Request{})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Count)
	require.True(t, len(p.Checksum) > 7)
	assert.Equal(t, "sha256:", p.Checksum[:7])

	r, err := zip.NewReader(bytes.NewReader(p.Bytes), int64(len(p.Bytes)))
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range r.File {
		names[f.Name] = true
	}
	assert.True(t, names["entries.json"])
	assert.True(t, names["manifest.json"])
	assert.True(t, names["README.txt"])

	f, err := r.Open("entries.json")
	require.NoError(t, err)
	defer f.Close()

	var entries []*audit.Entry
	require.NoError(t, json.NewDecoder(f).Decode(&entries))
	assert.Len(t, entries, 3)
}

func TestGeneratePackRespectsRange(t *testing.T) {
	log := newTestLog(t, 5)

	start, end := uint64(1), uint64(3)
	p, err := GeneratePack(log, Request{Start: &start, End: &end})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Count)
}

func TestGeneratePackChecksumIsDeterministic(t *testing.T) {
	log := newTestLog(t, 2)

	p1, err := GeneratePack(log, Request{})
	require.NoError(t, err)
	p2, err := GeneratePack(log, Request{})
	require.NoError(t, err)

	assert.Equal(t, p1.Checksum, p2.Checksum)
}

func TestSignPackProducesVerifiableSignature(t *testing.T) {
	log := newTestLog(t, 2)
	p, err := GeneratePack(log, Request{})
	require.NoError(t, err)

	signer, err := NewSigner()
	require.NoError(t, err)

	signed, err := signer.SignPack(p)
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Signature)
	assert.Equal(t, signer.PublicKeyHex(), signed.PublicKey)

	ok, err := VerifyPack(signed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPackRejectsTamperedChecksum(t *testing.T) {
	log := newTestLog(t, 2)
	p, err := GeneratePack(log, Request{})
	require.NoError(t, err)

	signer, err := NewSigner()
	require.NoError(t, err)
	signed, err := signer.SignPack(p)
	require.NoError(t, err)

	replacement := "0"
	if signed.Checksum[len(signed.Checksum)-1] == '0' {
		replacement = "1"
	}
	signed.Checksum = "sha256:" + signed.Checksum[7:len(signed.Checksum)-1] + replacement
	ok, err := VerifyPack(signed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignPackRejectsUncomputedChecksum(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	_, err = signer.SignPack(Pack{})
	assert.Error(t, err)
}

func TestUploadRejectsMalformedChecksum(t *testing.T) {
	s := &S3Store{bucket: "evidence"}
	_, err := s.Upload(nil, Pack{Checksum: "not-a-checksum"})
	assert.Error(t, err)
}

func TestDownloadRejectsMalformedChecksum(t *testing.T) {
	s := &S3Store{bucket: "evidence"}
	_, err := s.Download(nil, "not-a-checksum")
	assert.Error(t, err)
}
