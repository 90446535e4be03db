package storage

import (
	"context"
	"fmt"
	"sort"
)

// List collects every object under prefix, sorted by key
func List(ctx context.Context, client Client, bucket, prefix string) ([]ObjectInfo, error) {
	objCh, errCh := client.ListObjects(ctx, bucket, prefix)

	var objects []ObjectInfo
	for {
		select {
		case obj, ok := <-objCh:
			if !ok {
				// errCh is closed before objCh, so a pending error is already buffered
				if err := <-errCh; err != nil {
					return nil, fmt.Errorf("error listing %s/%s: %w", bucket, prefix, err)
				}
				sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
				return objects, nil
			}
			objects = append(objects, obj)

		case err := <-errCh:
			if err != nil {
				return nil, fmt.Errorf("error listing %s/%s: %w", bucket, prefix, err)
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// BucketSize returns the total size of the objects in bucket
func BucketSize(ctx context.Context, client Client, bucket string) (int64, error) {
	objects, err := List(ctx, client, bucket, "")
	if err != nil {
		return 0, err
	}

	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	return total, nil
}
