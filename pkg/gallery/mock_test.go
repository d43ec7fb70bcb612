package gallery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/MrCodeEU/facelocker/pkg/recognition"
)

type MockStorage struct {
	ListEnrollmentImagesFunc func(ctx context.Context, identity string) ([][]byte, error)
}

func (m *MockStorage) ListEnrollmentImages(ctx context.Context, identity string) ([][]byte, error) {
	if m.ListEnrollmentImagesFunc != nil {
		return m.ListEnrollmentImagesFunc(ctx, identity)
	}
	return nil, ErrIdentityNotFound
}

type MockExtractor struct {
	ExtractFunc func(ctx context.Context, next recognition.ImageFunc, opts recognition.Options) (recognition.Face, recognition.Embedding, error)
	calls       int
}

func (m *MockExtractor) Extract(ctx context.Context, next recognition.ImageFunc, opts recognition.Options) (recognition.Face, recognition.Embedding, error) {
	m.calls++
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, next, opts)
	}
	return recognition.Face{}, recognition.Embedding{}, recognition.ErrNoFaceDetected
}

// byteExtractor derives an embedding from the first image byte; images
// starting with 0 have no face.
func byteExtractor() *MockExtractor {
	return &MockExtractor{
		ExtractFunc: func(ctx context.Context, next recognition.ImageFunc, opts recognition.Options) (recognition.Face, recognition.Embedding, error) {
			data, err := next(ctx)
			if err != nil {
				return recognition.Face{}, recognition.Embedding{}, err
			}
			if len(data) == 0 || data[0] == 0 {
				return recognition.Face{}, recognition.Embedding{}, recognition.ErrNoFaceDetected
			}
			return recognition.Face{}, embedding(float32(data[0])), nil
		},
	}
}

func embedding(vals ...float32) recognition.Embedding {
	var d recognition.Descriptor
	copy(d[:], vals)
	return recognition.Embedding{Vector: d, Quality: 1}
}

func images(firstBytes ...byte) [][]byte {
	out := make([][]byte, len(firstBytes))
	for i, b := range firstBytes {
		out[i] = []byte{b, 0xD8}
	}
	return out
}

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	s3iface.S3API
	objects  map[string][]byte
	pageSize int
	getErr   map[string]error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, pageSize: 1000, getErr: map[string]error{}}
}

func (f *fakeS3) sortedKeys(prefix string) []string {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) ListObjectsV2WithContext(ctx aws.Context, in *s3.ListObjectsV2Input, _ ...request.Option) (*s3.ListObjectsV2Output, error) {
	prefix := aws.StringValue(in.Prefix)
	keys := f.sortedKeys(prefix)

	if in.Delimiter != nil {
		seen := map[string]bool{}
		out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
		for _, k := range keys {
			rest := strings.TrimPrefix(k, prefix)
			if i := strings.Index(rest, aws.StringValue(in.Delimiter)); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(cp)})
				}
			}
		}
		return out, nil
	}

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == aws.StringValue(in.ContinuationToken) {
				start = i
			}
		}
	}
	end := start + f.pageSize
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, &s3.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	key := aws.StringValue(in.Key)
	if err := f.getErr[key]; err != nil {
		return nil, err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "not found", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(ctx aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	key := aws.StringValue(in.Key)
	if _, ok := f.objects[key]; !ok {
		return nil, errors.New("delete of missing key")
	}
	delete(f.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}
