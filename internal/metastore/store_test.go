package metastore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	ipfsapi "github.com/ipfs/go-ipfs-api"
)

func validJobPayload() Payload {
	return Payload{
		Version:     SchemaVersion,
		Kind:        KindFixedJob,
		Title:       "Fix kitchen sink",
		Description: "Leaking trap under the kitchen sink, parts on site.",
		Location:    "zone-3",
	}
}

func TestPayloadValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Payload)
		wantErr bool
	}{
		{name: "valid job", mutate: func(*Payload) {}},
		{name: "proposal needs no title", mutate: func(p *Payload) {
			p.Kind = KindProposal
			p.Title = ""
		}},
		{name: "wrong version", mutate: func(p *Payload) { p.Version = 2 }, wantErr: true},
		{name: "unknown kind", mutate: func(p *Payload) { p.Kind = "resume" }, wantErr: true},
		{name: "job without title", mutate: func(p *Payload) { p.Title = "  " }, wantErr: true},
		{name: "empty description", mutate: func(p *Payload) { p.Description = "" }, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validJobPayload()
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr && !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("err = %v, want ErrInvalidPayload", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store, err := New(Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	cid, err := store.Put(ctx, validJobPayload())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if cid == "" {
		t.Fatal("empty content id")
	}

	got, err := store.Get(ctx, cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Fix kitchen sink" || got.Kind != KindFixedJob {
		t.Fatalf("got = %+v", got)
	}

	// Same payload, same id.
	again, err := store.Put(ctx, validJobPayload())
	if err != nil {
		t.Fatalf("Put again: %v", err)
	}
	if again != cid {
		t.Fatalf("content id changed: %s vs %s", again, cid)
	}

	if err := store.Unpin(ctx, cid); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if _, err := store.Get(ctx, cid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after unpin: %v, want ErrNotFound", err)
	}
	// Unpin is idempotent.
	if err := store.Unpin(ctx, cid); err != nil {
		t.Fatalf("second Unpin: %v", err)
	}
}

func TestMemoryStoreRejectsInvalidPayload(t *testing.T) {
	store, _ := New(Config{Driver: DriverMemory})
	p := validJobPayload()
	p.Description = ""
	if _, err := store.Put(context.Background(), p); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestNormalizeContentID(t *testing.T) {
	for _, bad := range []string{"", " Qm", "Qm ", "a/b", "ab\x01"} {
		if _, err := normalizeContentID(bad); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("%q: err = %v, want ErrInvalidID", bad, err)
		}
	}
	if got, err := normalizeContentID("QmValid123"); err != nil || got != "QmValid123" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{Driver: "postgres"},
		{Driver: DriverIPFS},
		{Driver: DriverS3},
		{Driver: DriverS3, Bucket: "meta"},
	}
	for _, cfg := range cases {
		if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("cfg %+v: err = %v, want ErrInvalidConfig", cfg, err)
		}
	}
}

type fakeIPFS struct {
	objects  map[string][]byte
	addErr   error
	unpinned []string
}

func (f *fakeIPFS) Add(r io.Reader, _ ...ipfsapi.AddOpts) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	cid := "Qm" + contentHashID(data)[:16]
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[cid] = data
	return cid, nil
}

func (f *fakeIPFS) Cat(path string) (io.ReadCloser, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, errors.New("merkledag: not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeIPFS) Unpin(path string) error {
	f.unpinned = append(f.unpinned, path)
	if _, ok := f.objects[path]; !ok {
		return errors.New("pin/rm: not pinned or pinned indirectly")
	}
	delete(f.objects, path)
	return nil
}

func TestIPFSStoreRoundTrip(t *testing.T) {
	fake := &fakeIPFS{}
	store, err := New(Config{Driver: DriverIPFS, IPFSClient: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	cid, err := store.Put(ctx, validJobPayload())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(cid, "Qm") {
		t.Fatalf("cid = %q", cid)
	}

	got, err := store.Get(ctx, cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Fix kitchen sink" {
		t.Fatalf("got = %+v", got)
	}

	if err := store.Unpin(ctx, cid); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	// Already-unpinned ids are not an error.
	if err := store.Unpin(ctx, cid); err != nil {
		t.Fatalf("second Unpin: %v", err)
	}
	if _, err := store.Get(ctx, cid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after unpin: %v, want ErrNotFound", err)
	}
}

func TestIPFSStorePutError(t *testing.T) {
	fake := &fakeIPFS{addErr: errors.New("connection refused")}
	store, _ := New(Config{Driver: DriverIPFS, IPFSClient: fake})
	if _, err := store.Put(context.Background(), validJobPayload()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

type fakeS3NotFound struct{}

func (fakeS3NotFound) Error() string                  { return "NoSuchKey" }
func (fakeS3NotFound) ErrorCode() string              { return "NoSuchKey" }
func (fakeS3NotFound) ErrorMessage() string           { return "no such key" }
func (fakeS3NotFound) ErrorFault() smithy.ErrorFault  { return smithy.FaultClient }

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*params.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, fakeS3NotFound{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	fake := &fakeS3{}
	store, err := New(Config{Driver: DriverS3, Bucket: "meta", Prefix: "/payloads/", S3Client: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	cid, err := store.Put(ctx, validJobPayload())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := fake.objects["payloads/"+cid]; !ok {
		t.Fatalf("object not stored under prefix, keys = %v", fake.objects)
	}

	got, err := store.Get(ctx, cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Location != "zone-3" {
		t.Fatalf("got = %+v", got)
	}

	if err := store.Unpin(ctx, cid); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if _, err := store.Get(ctx, cid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after unpin: %v, want ErrNotFound", err)
	}
}
