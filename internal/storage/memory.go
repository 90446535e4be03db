package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryClient is an in-memory Client used for tests and dry runs
type MemoryClient struct {
	mu      sync.Mutex
	objects map[string]memObject
	uploads map[string]map[int][]byte
	nextID  int

	// PartHook, when set, is called before each part upload
	PartHook func(partNumber int) error
}

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// NewMemoryClient returns an empty in-memory store
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		objects: make(map[string]memObject),
		uploads: make(map[string]map[int][]byte),
	}
}

func objectKey(bucket, key string) string { return bucket + "\x00" + key }

// Put stores data directly
func (c *MemoryClient) Put(bucket, key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[objectKey(bucket, key)] = memObject{data: append([]byte(nil), data...), modified: time.Now()}
}

// Bytes returns the content of an object
func (c *MemoryClient) Bytes(bucket, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[objectKey(bucket, key)]
	return obj.data, ok
}

// Keys returns every key in bucket under prefix, sorted
func (c *MemoryClient) Keys(bucket, prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for k := range c.objects {
		b, key, _ := strings.Cut(k, "\x00")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// PendingUploads returns the number of multipart uploads neither completed nor aborted
func (c *MemoryClient) PendingUploads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.uploads)
}

func (c *MemoryClient) info(key string, obj memObject) ObjectInfo {
	sum := md5.Sum(obj.data)
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: obj.modified,
		ContentType:  obj.contentType,
		Metadata:     obj.metadata,
	}
}

func (c *MemoryClient) GetObject(ctx context.Context, bucket, key string) (Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return &memReader{Reader: bytes.NewReader(obj.data), info: c.info(key, obj)}, nil
}

func (c *MemoryClient) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) error {
	data, err := io.ReadAll(io.LimitReader(reader, size))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[objectKey(bucket, key)] = memObject{
		data:        data,
		contentType: opts.ContentType,
		metadata:    opts.Metadata,
		modified:    time.Now(),
	}
	return nil
}

func (c *MemoryClient) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[objectKey(bucket, key)]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return c.info(key, obj), nil
}

func (c *MemoryClient) ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error) {
	var infos []ObjectInfo
	for _, key := range c.Keys(bucket, prefix) {
		if info, err := c.HeadObject(ctx, bucket, key); err == nil {
			infos = append(infos, info)
		}
	}

	objCh := make(chan ObjectInfo)
	errCh := make(chan error, 1)
	go func() {
		defer close(objCh)
		defer close(errCh)
		for _, info := range infos {
			select {
			case objCh <- info:
			case <-ctx.Done():
				return
			}
		}
	}()
	return objCh, errCh
}

func (c *MemoryClient) RemoveObject(ctx context.Context, bucket, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, objectKey(bucket, key))
	return nil
}

func (c *MemoryClient) NewMultipartUpload(ctx context.Context, bucket, key string, opts PutOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := fmt.Sprintf("upload-%d", c.nextID)
	c.uploads[id] = make(map[int][]byte)
	return id, nil
}

func (c *MemoryClient) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (string, error) {
	if c.PartHook != nil {
		if err := c.PartHook(partNumber); err != nil {
			return "", err
		}
	}

	data, err := io.ReadAll(io.LimitReader(reader, size))
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	parts, ok := c.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("upload %s not found", uploadID)
	}
	parts[partNumber] = data
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

func (c *MemoryClient) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	uploaded, ok := c.uploads[uploadID]
	if !ok {
		return fmt.Errorf("upload %s not found", uploadID)
	}

	var buf bytes.Buffer
	for _, part := range parts {
		data, ok := uploaded[part.PartNumber]
		if !ok {
			return fmt.Errorf("upload %s: part %d missing", uploadID, part.PartNumber)
		}
		buf.Write(data)
	}

	delete(c.uploads, uploadID)
	c.objects[objectKey(bucket, key)] = memObject{data: buf.Bytes(), modified: time.Now()}
	return nil
}

func (c *MemoryClient) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.uploads, uploadID)
	return nil
}

type memReader struct {
	*bytes.Reader
	info ObjectInfo
}

func (r *memReader) Close() error               { return nil }
func (r *memReader) Stat() (ObjectInfo, error) { return r.info, nil }
