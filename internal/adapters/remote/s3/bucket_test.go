package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
)

// fakeAPI is an in-memory stand-in for the S3 client.
type fakeAPI struct {
	mu      sync.Mutex
	now     time.Time
	objects map[string][]byte
	mtimes  map[string]time.Time
	down    bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		now:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		objects: make(map[string][]byte),
		mtimes:  make(map[string]time.Time),
	}
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	data, _ := io.ReadAll(in.Body)
	f.now = f.now.Add(time.Second)
	f.objects[*in.Key] = data
	f.mtimes[*in.Key] = f.now
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	mtime := f.mtimes[*in.Key]
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), LastModified: &mtime}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	mtime := f.mtimes[*in.Key]
	return &s3.HeadObjectOutput{LastModified: &mtime, ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	delete(f.mtimes, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		mtime := f.mtimes[k]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			LastModified: &mtime,
			Size:         aws.Int64(int64(len(f.objects[k]))),
		})
	}
	return out, nil
}

func TestBucket_UsesPrefix(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	b := NewBucketWithClient(api, Config{Bucket: "focus", Prefix: "dev/"})

	info, err := b.Put(ctx, "records/note/n1.rec", []byte("abc"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Key != "records/note/n1.rec" || info.Size != 3 || !info.LastModified.Equal(api.mtimes["dev/records/note/n1.rec"]) {
		t.Errorf("Put() info = %+v", info)
	}
	if _, ok := api.objects["dev/records/note/n1.rec"]; !ok {
		t.Error("object not stored under prefix")
	}

	list, err := b.List(ctx, "records/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Key != "records/note/n1.rec" {
		t.Errorf("List() = %+v, want prefix stripped", list)
	}

	data, _, err := b.Get(ctx, "records/note/n1.rec")
	if err != nil || string(data) != "abc" {
		t.Errorf("Get() = %q, %v", data, err)
	}
}

func TestBucket_NotFound(t *testing.T) {
	ctx := context.Background()
	b := NewBucketWithClient(newFakeAPI(), Config{Bucket: "focus"})

	if _, _, err := b.Get(ctx, "missing"); !errors.Is(err, domainErrors.ErrObjectNotFound) {
		t.Errorf("Get() error = %v, want ErrObjectNotFound", err)
	}
	if err := b.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestBucket_Ping(t *testing.T) {
	api := newFakeAPI()
	b := NewBucketWithClient(api, Config{Bucket: "focus"})
	if err := b.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	api.down = true
	if err := b.Ping(context.Background()); err == nil {
		t.Error("Ping() succeeded while down")
	}
}

func TestNewBucket_RequiresName(t *testing.T) {
	if _, err := NewBucket(context.Background(), Config{}); err == nil {
		t.Error("NewBucket() accepted an empty bucket name")
	}
}
