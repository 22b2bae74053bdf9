// Package metastore persists job and proposal metadata off-chain and hands
// back the content id the contract stores on-chain. The ipfs driver talks to
// a pinning node; the s3 and memory drivers address objects by the hex
// SHA3-256 of the encoded payload so ids stay content-derived everywhere.
package metastore

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	ipfsapi "github.com/ipfs/go-ipfs-api"
	"golang.org/x/crypto/sha3"
)

const (
	DriverIPFS   = "ipfs"
	DriverS3     = "s3"
	DriverMemory = "memory"

	defaultMaxGetSize int64 = 1 << 20
)

var (
	ErrInvalidConfig  = errors.New("metastore: invalid config")
	ErrInvalidID      = errors.New("metastore: invalid content id")
	ErrInvalidPayload = errors.New("metastore: invalid payload")
	ErrNotFound       = errors.New("metastore: not found")
	ErrTooLarge       = errors.New("metastore: payload too large")
)

// Store pins metadata payloads and resolves them by content id.
//
// Put validates, encodes and pins the payload, returning its content id.
// Unpin releases a payload pinned by an operation that later failed; it is
// best-effort and succeeds on ids that are already gone.
type Store interface {
	Put(ctx context.Context, p Payload) (string, error)
	Get(ctx context.Context, contentID string) (Payload, error)
	Unpin(ctx context.Context, contentID string) error
}

type Config struct {
	Driver string

	// MaxGetSize bounds bytes returned by Get. Defaults to 1 MiB when <= 0.
	MaxGetSize int64

	// IPFS fields.
	IPFSClient IPFSClient

	// S3 fields.
	Bucket   string
	Prefix   string
	S3Client S3Client
}

// IPFSClient is the subset of the go-ipfs-api shell the store uses.
// *ipfsapi.Shell satisfies it.
type IPFSClient interface {
	Add(r io.Reader, options ...ipfsapi.AddOpts) (string, error)
	Cat(path string) (io.ReadCloser, error)
	Unpin(path string) error
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

func New(cfg Config) (Store, error) {
	maxGet := cfg.MaxGetSize
	if maxGet <= 0 {
		maxGet = defaultMaxGetSize
	}
	switch normalizeDriver(cfg.Driver) {
	case DriverMemory:
		return newMemoryStore(), nil
	case DriverIPFS:
		if cfg.IPFSClient == nil {
			return nil, fmt.Errorf("%w: ipfs client is required", ErrInvalidConfig)
		}
		return &ipfsStore{client: cfg.IPFSClient, maxGetSize: maxGet}, nil
	case DriverS3:
		bucket := strings.TrimSpace(cfg.Bucket)
		if bucket == "" {
			return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
		}
		if cfg.S3Client == nil {
			return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
		}
		return &s3Store{
			client:     cfg.S3Client,
			bucket:     bucket,
			prefix:     strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
			maxGetSize: maxGet,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverIPFS
	}
	return v
}

func normalizeContentID(id string) (string, error) {
	if id != strings.TrimSpace(id) {
		return "", fmt.Errorf("%w: leading or trailing whitespace", ErrInvalidID)
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	for _, r := range id {
		if r < 0x21 || r == 0x7f || r == '/' {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return id, nil
}

func contentHashID(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type ipfsStore struct {
	client     IPFSClient
	maxGetSize int64
}

func (s *ipfsStore) Put(_ context.Context, p Payload) (string, error) {
	data, err := encodePayload(p)
	if err != nil {
		return "", err
	}
	cid, err := s.client.Add(bytes.NewReader(data), ipfsapi.Pin(true))
	if err != nil {
		return "", fmt.Errorf("metastore/ipfs: add: %w", err)
	}
	return cid, nil
}

func (s *ipfsStore) Get(_ context.Context, contentID string) (Payload, error) {
	cid, err := normalizeContentID(contentID)
	if err != nil {
		return Payload{}, err
	}
	body, err := s.client.Cat(cid)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %s", ErrNotFound, cid)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, s.maxGetSize+1))
	if err != nil {
		return Payload{}, fmt.Errorf("metastore/ipfs: read %q: %w", cid, err)
	}
	if int64(len(data)) > s.maxGetSize {
		return Payload{}, fmt.Errorf("%w: %q exceeds max %d bytes", ErrTooLarge, cid, s.maxGetSize)
	}
	return decodePayload(data)
}

func (s *ipfsStore) Unpin(_ context.Context, contentID string) error {
	cid, err := normalizeContentID(contentID)
	if err != nil {
		return err
	}
	if err := s.client.Unpin(cid); err != nil {
		if strings.Contains(err.Error(), "not pinned") {
			return nil
		}
		return fmt.Errorf("metastore/ipfs: unpin %q: %w", cid, err)
	}
	return nil
}

type memoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func newMemoryStore() Store {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, p Payload) (string, error) {
	data, err := encodePayload(p)
	if err != nil {
		return "", err
	}
	cid := contentHashID(data)
	m.mu.Lock()
	m.objects[cid] = data
	m.mu.Unlock()
	return cid, nil
}

func (m *memoryStore) Get(_ context.Context, contentID string) (Payload, error) {
	cid, err := normalizeContentID(contentID)
	if err != nil {
		return Payload{}, err
	}
	m.mu.RLock()
	data, ok := m.objects[cid]
	m.mu.RUnlock()
	if !ok {
		return Payload{}, fmt.Errorf("%w: %s", ErrNotFound, cid)
	}
	return decodePayload(data)
}

func (m *memoryStore) Unpin(_ context.Context, contentID string) error {
	cid, err := normalizeContentID(contentID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, cid)
	m.mu.Unlock()
	return nil
}

type s3Store struct {
	client     S3Client
	bucket     string
	prefix     string
	maxGetSize int64
}

func (s *s3Store) objectKey(cid string) string {
	if s.prefix == "" {
		return cid
	}
	return s.prefix + "/" + cid
}

func (s *s3Store) Put(ctx context.Context, p Payload) (string, error) {
	data, err := encodePayload(p)
	if err != nil {
		return "", err
	}
	cid := contentHashID(data)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(cid)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("metastore/s3: put %q: %w", cid, err)
	}
	return cid, nil
}

func (s *s3Store) Get(ctx context.Context, contentID string) (Payload, error) {
	cid, err := normalizeContentID(contentID)
	if err != nil {
		return Payload{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(cid)),
	})
	if err != nil {
		if isNotFound(err) {
			return Payload{}, fmt.Errorf("%w: %s", ErrNotFound, cid)
		}
		return Payload{}, fmt.Errorf("metastore/s3: get %q: %w", cid, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxGetSize+1))
	if err != nil {
		return Payload{}, fmt.Errorf("metastore/s3: read %q: %w", cid, err)
	}
	if int64(len(data)) > s.maxGetSize {
		return Payload{}, fmt.Errorf("%w: %q exceeds max %d bytes", ErrTooLarge, cid, s.maxGetSize)
	}
	return decodePayload(data)
}

func (s *s3Store) Unpin(ctx context.Context, contentID string) error {
	cid, err := normalizeContentID(contentID)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(cid)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("metastore/s3: delete %q: %w", cid, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	default:
		return false
	}
}
