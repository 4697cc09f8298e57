// Package attachment resolves opaque attachment-reference strings against
// object storage. The reply engine stores and round-trips the reference
// strings only; bytes stay in the object store.
package attachment

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/metatavu/metaform-replies/internal/errs"
)

// Info is the metadata of a stored attachment.
type Info struct {
	Ref         string
	FileName    string
	ContentType string
	Size        int64
}

// Attachment is a resolved attachment including its content.
type Attachment struct {
	Info
	Data []byte
}

// Store resolves attachment references uploaded through the file-upload
// collaborator.
type Store interface {
	// Stat returns metadata for a reference, or errs.ErrNotFound.
	Stat(ctx context.Context, ref string) (Info, error)
	// Resolve returns the attachment with its content.
	Resolve(ctx context.Context, ref string) (Attachment, error)
}

// MinioStore serves attachments from an S3-compatible bucket, keyed by the
// reference string.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore constructs a store over an existing minio client.
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

// Stat returns attachment metadata without fetching content.
func (s *MinioStore) Stat(ctx context.Context, ref string) (Info, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Info{}, fmt.Errorf("attachment %q: %w", ref, errs.ErrNotFound)
		}
		return Info{}, fmt.Errorf("stat attachment %q: %w", ref, err)
	}
	return infoFromStat(ref, stat), nil
}

// Resolve fetches the attachment content and metadata.
func (s *MinioStore) Resolve(ctx context.Context, ref string) (Attachment, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment %q: %w", ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Attachment{}, fmt.Errorf("attachment %q: %w", ref, errs.ErrNotFound)
		}
		return Attachment{}, fmt.Errorf("read attachment %q: %w", ref, err)
	}
	stat, err := obj.Stat()
	if err != nil {
		return Attachment{}, fmt.Errorf("stat attachment %q: %w", ref, err)
	}
	return Attachment{Info: infoFromStat(ref, stat), Data: data}, nil
}

func infoFromStat(ref string, stat minio.ObjectInfo) Info {
	fileName := stat.UserMetadata["Filename"]
	if fileName == "" {
		fileName = ref
	}
	return Info{
		Ref:         ref,
		FileName:    fileName,
		ContentType: stat.ContentType,
		Size:        stat.Size,
	}
}

// StaticStore serves attachments from memory, for embedding and tests.
type StaticStore struct {
	attachments map[string]Attachment
}

// NewStaticStore constructs a store over a fixed attachment set.
func NewStaticStore(attachments ...Attachment) *StaticStore {
	m := make(map[string]Attachment, len(attachments))
	for _, a := range attachments {
		m[a.Ref] = a
	}
	return &StaticStore{attachments: m}
}

// Stat returns metadata for a registered reference.
func (s *StaticStore) Stat(_ context.Context, ref string) (Info, error) {
	a, ok := s.attachments[ref]
	if !ok {
		return Info{}, fmt.Errorf("attachment %q: %w", ref, errs.ErrNotFound)
	}
	return a.Info, nil
}

// Resolve returns a registered attachment.
func (s *StaticStore) Resolve(_ context.Context, ref string) (Attachment, error) {
	a, ok := s.attachments[ref]
	if !ok {
		return Attachment{}, fmt.Errorf("attachment %q: %w", ref, errs.ErrNotFound)
	}
	return a, nil
}
