// Package exportbundle produces a checksummed, content-addressed evidence
// bundle from a range of audit.Entry records, optionally signs it for
// non-repudiation, and uploads it to S3-compatible object storage — an
// operational feature the audit trail this module descends from supports
// and spec.md's distillation is silent on (see SPEC_FULL.md, "Supplemented
// Features").
//
// GeneratePack follows pkg/audit/export.go's Exporter.GeneratePack: bundle
// the entries as JSON alongside a manifest, zip them, and checksum the
// result. Signer.SignPack then signs that checksum with an Ed25519
// keypair, the same generic-bytes Sign/Verify shape pkg/crypto/signer.go
// uses for DecisionRecord/Intent/Receipt signing, generalized here from
// fixed domain records to an arbitrary evidence-pack digest; VerifyPack
// checks a signed Pack against its own embedded public key. The upload leg
// follows pkg/artifacts/s3_store.go's content-hash-as-key convention, so
// re-exporting an unchanged range is a no-op HeadObject rather than a
// redundant PutObject.
package exportbundle

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/audit"
)

// ErrNoEntries is returned when GeneratePack is asked to bundle an empty
// entry range; an empty evidence pack is never useful and usually
// indicates a caller-side range mistake.
var ErrNoEntries = errors.New("exportbundle: no entries in requested range")

// Request describes the range of audit entries to bundle.
type Request struct {
	Start *uint64
	End   *uint64
}

// Pack is the generated evidence bundle, before or after upload. Signature
// and PublicKey are empty until SignPack is called; an unsigned Pack is
// still a valid, checksummed, uploadable bundle — signing is an additional
// non-repudiation step an operator opts into.
type Pack struct {
	Bytes     []byte
	Checksum  string // sha256:<hex>, computed over Bytes
	Count     int
	Signature string // hex-encoded Ed25519 signature over Checksum
	PublicKey string // hex-encoded Ed25519 public key that produced Signature
}

// GeneratePack renders the entries in req's range as a zip containing
// entries.json, manifest.json, and a plaintext README, then checksums the
// result.
func GeneratePack(log *audit.Log, req Request) (Pack, error) {
	entries := log.EntriesInRange(req.Start, req.End)
	if len(entries) == 0 {
		return Pack{}, ErrNoEntries
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return Pack{}, fmt.Errorf("exportbundle: marshaling entries: %w", err)
	}

	manifest := map[string]any{
		"entry_count": len(entries),
		"first_id":    entries[0].ID,
		"last_id":     entries[len(entries)-1].ID,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Pack{}, fmt.Errorf("exportbundle: marshaling manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	if err := writeFile(w, "entries.json", entriesJSON); err != nil {
		return Pack{}, err
	}
	if err := writeFile(w, "manifest.json", manifestJSON); err != nil {
		return Pack{}, err
	}
	if err := writeFile(w, "README.txt", []byte(fmt.Sprintf("ChainGuard audit evidence bundle, %d entries.\n", len(entries)))); err != nil {
		return Pack{}, err
	}
	if err := w.Close(); err != nil {
		return Pack{}, fmt.Errorf("exportbundle: closing zip: %w", err)
	}

	hash := sha256.Sum256(buf.Bytes())
	return Pack{
		Bytes:    buf.Bytes(),
		Checksum: "sha256:" + hex.EncodeToString(hash[:]),
		Count:    len(entries),
	}, nil
}

// Signer produces an Ed25519 signature over a pack's checksum, following
// pkg/crypto/signer.go's Ed25519Signer shape: a generated keypair, hex
// output, and a package-level Verify that needs only the public key and
// message, not the signer instance.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner generates a fresh Ed25519 keypair. Signer's key fields are
// unexported and this package has no constructor that takes an existing
// key, so every Signer signs with a key generated in-process and a restart
// yields a different public key.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("exportbundle: key generation failed: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// PublicKeyHex returns the hex-encoded public key a verifier needs.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// SignPack signs p's checksum in place and returns the signed Pack. It is
// an error to sign a Pack whose Checksum is not yet computed.
func (s *Signer) SignPack(p Pack) (Pack, error) {
	if p.Checksum == "" {
		return Pack{}, fmt.Errorf("exportbundle: cannot sign a pack with no checksum")
	}
	p.Signature = hex.EncodeToString(ed25519.Sign(s.priv, []byte(p.Checksum)))
	p.PublicKey = s.PublicKeyHex()
	return p, nil
}

// VerifyPack reports whether p.Signature is a valid Ed25519 signature by
// p.PublicKey over p.Checksum, so a consumer who only received the bundle
// (not the Signer that made it) can still confirm non-repudiation.
func VerifyPack(p Pack) (bool, error) {
	pubBytes, err := hex.DecodeString(p.PublicKey)
	if err != nil {
		return false, fmt.Errorf("exportbundle: invalid public key hex: %w", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("exportbundle: invalid public key size")
	}
	sigBytes, err := hex.DecodeString(p.Signature)
	if err != nil {
		return false, fmt.Errorf("exportbundle: invalid signature hex: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), []byte(p.Checksum), sigBytes), nil
}

func writeFile(w *zip.Writer, name string, content []byte) error {
	f, err := w.Create(name)
	if err != nil {
		return fmt.Errorf("exportbundle: creating %s: %w", name, err)
	}
	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("exportbundle: writing %s: %w", name, err)
	}
	return nil
}

// S3StoreConfig configures an S3-compatible destination for evidence
// bundles.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint, for MinIO/LocalStack
	Prefix   string
}

// S3Store uploads generated Packs keyed by their content hash, so
// re-uploading an identical bundle is idempotent.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store builds an S3Store from the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("exportbundle: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload stores p's bytes under a key derived from its checksum, skipping
// the upload if an object with that key already exists.
func (s *S3Store) Upload(ctx context.Context, p Pack) (string, error) {
	if len(p.Checksum) < 8 || p.Checksum[:7] != "sha256:" {
		return "", fmt.Errorf("exportbundle: invalid checksum format %q", p.Checksum)
	}
	key := s.prefix + p.Checksum[7:] + ".zip"

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err == nil {
		return key, nil
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(p.Bytes),
		ContentType: aws.String("application/zip"),
	}); err != nil {
		return "", fmt.Errorf("exportbundle: uploading %s: %w", key, err)
	}
	return key, nil
}

// Download retrieves a previously uploaded bundle by its checksum.
func (s *S3Store) Download(ctx context.Context, checksum string) ([]byte, error) {
	if len(checksum) < 8 || checksum[:7] != "sha256:" {
		return nil, fmt.Errorf("exportbundle: invalid checksum format %q", checksum)
	}
	key := s.prefix + checksum[7:] + ".zip"

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("exportbundle: downloading %s: %w", key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("exportbundle: reading %s: %w", key, err)
	}
	return buf.Bytes(), nil
}
