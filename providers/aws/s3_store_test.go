package aws

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	getErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]string{}}
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://datasets/chat/train.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "datasets", bucket)
	assert.Equal(t, "chat/train.jsonl", key)

	bucket, key, err = ParseS3URI("s3://models")
	require.NoError(t, err)
	assert.Equal(t, "models", bucket)
	assert.Empty(t, key)

	_, _, err = ParseS3URI("gs://bucket/key")
	assert.ErrorIs(t, err, ErrInvalidURI)
	_, _, err = ParseS3URI("s3:///key")
	assert.ErrorIs(t, err, ErrInvalidURI)
}

func TestS3Store_Download(t *testing.T) {
	fake := newFakeS3()
	fake.objects["datasets/chat/train.jsonl"] = `{"text":"hello"}`
	store := NewS3Store(fake, nil)

	dest := filepath.Join(t.TempDir(), "train.jsonl")
	require.NoError(t, store.Download(context.Background(), "s3://datasets/chat/train.jsonl", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, `{"text":"hello"}`, string(data))
}

func TestS3Store_DownloadErrors(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, nil)
	dest := filepath.Join(t.TempDir(), "x")

	err := store.Download(context.Background(), "s3://datasets/missing.json", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchKey")
	assert.NoFileExists(t, dest)

	err = store.Download(context.Background(), "s3://datasets/", dest)
	assert.ErrorIs(t, err, ErrInvalidURI)
}

func TestS3Store_UploadDir(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "checkpoint-10"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "config.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "checkpoint-10", "model.bin"), []byte("weights"), 0o644))

	fake := newFakeS3()
	store := NewS3Store(fake, nil)
	require.NoError(t, store.UploadDir(context.Background(), src, "s3://models/gpt2/run-1/"))

	keys := make([]string, 0, len(fake.objects))
	for k := range fake.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"models/gpt2/run-1/checkpoint-10/model.bin", "models/gpt2/run-1/config.json"}, keys)
	assert.Equal(t, "weights", fake.objects["models/gpt2/run-1/checkpoint-10/model.bin"])
}

func TestS3Store_UploadDirCancelled(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewS3Store(newFakeS3(), nil).UploadDir(ctx, src, "s3://models/out")
	assert.ErrorIs(t, err, context.Canceled)
}
