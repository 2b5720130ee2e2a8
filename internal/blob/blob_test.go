package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityid/pkg/platform/sentinel"
)

type snapshot struct {
	EUID   string         `json:"euid"`
	Fields map[string]any `json:"fields"`
}

func TestArchive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	archive := NewArchive(mem, "euid/")

	in := snapshot{EUID: "C00001", Fields: map[string]any{"name": "Acme"}}
	key, err := archive.PutJSON(ctx, "tombstones", "C00001", in)
	require.NoError(t, err)
	assert.Equal(t, "euid/tombstones/C00001.json.zst", key)
	assert.Equal(t, []string{key}, mem.Keys())

	stored, err := mem.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(stored, []byte{0x28, 0xb5, 0x2f, 0xfd}), "expected a zstd frame")

	var out snapshot
	require.NoError(t, archive.GetJSON(ctx, key, &out))
	assert.Equal(t, in, out)

	err = archive.GetJSON(ctx, "euid/missing.json.zst", &out)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3_PutGet(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	store := NewS3WithClient(fake, "archive")

	archive := NewArchive(store, "")
	key, err := archive.PutJSON(ctx, "quarantine", "JOD00001", map[string]string{"raw": "{oops"})
	require.NoError(t, err)
	assert.Contains(t, fake.objects, "archive/"+key)
	assert.Equal(t, archiveContentType, fake.types[key])

	var out map[string]string
	require.NoError(t, archive.GetJSON(ctx, key, &out))
	assert.Equal(t, "{oops", out["raw"])

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
