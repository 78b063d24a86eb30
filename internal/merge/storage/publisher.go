package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"video_merge_service/pkg/database"
)

// ObjectPrefix key prefix of merged outputs in the bucket
const ObjectPrefix = "merged/"

// Publisher moves a finished output out of the job workspace to durable
// storage and returns the reference handed to the caller.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// LocalPublisher durable output directory served as static files
type LocalPublisher struct {
	dir    string
	prefix string
}

// NewLocalPublisher outputs go to dir and are referenced as prefix/<name>
func NewLocalPublisher(dir, prefix string) *LocalPublisher {
	return &LocalPublisher{dir: dir, prefix: prefix}
}

// Dir the output directory
func (p *LocalPublisher) Dir() string {
	return p.dir
}

// Publish renames localPath into the output directory. The directory is
// append only: an existing name is never overwritten.
func (p *LocalPublisher) Publish(_ context.Context, localPath string) (string, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	name := filepath.Base(localPath)
	dst := filepath.Join(p.dir, name)
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("output %s already exists", dst)
	}

	err := os.Rename(localPath, dst)
	if errors.Is(err, syscall.EXDEV) {
		err = copyThenRename(localPath, dst)
	}
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	return path.Join(p.prefix, name), nil
}

// copyThenRename moves across filesystems. The copy lands under a hidden
// partial name so a half written file is never visible as an output.
func copyThenRename(src, dst string) error {
	partial := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".partial")

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(partial)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, dst); err != nil {
		os.Remove(partial)
		return err
	}
	return os.Remove(src)
}

// MinIOPublisher uploads outputs to a bucket and returns a presigned URL
type MinIOPublisher struct {
	client database.MinIOClientRepo
	expiry time.Duration
}

// NewMinIOPublisher create a bucket publisher
func NewMinIOPublisher(client database.MinIOClientRepo, expiry time.Duration) *MinIOPublisher {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &MinIOPublisher{client: client, expiry: expiry}
}

// Publish uploads localPath under merged/<name>. The local file stays in the
// workspace and is removed with it.
func (p *MinIOPublisher) Publish(ctx context.Context, localPath string) (string, error) {
	objectName := ObjectPrefix + filepath.Base(localPath)
	if err := p.client.UploadFile(ctx, objectName, localPath, getContentType(objectName)); err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", objectName, p.client.Bucket(), err)
	}
	url, err := p.client.PresignGetURL(ctx, objectName, p.expiry)
	if err != nil {
		return "", err
	}
	return url, nil
}

func getContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
