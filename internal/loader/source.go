package loader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
)

// FileRef 指向某个地区下的一个文件。Path 同时作为分块的来源标识。
type FileRef struct {
	Region string
	Name   string
	Path   string
}

// Source 枚举地区与文件，并读取文件内容。
type Source interface {
	// Regions 按字典序返回所有地区。
	Regions(ctx context.Context) ([]string, error)
	// Files 按字典序返回地区下的普通文件。
	Files(ctx context.Context, region string) ([]FileRef, error)
	Read(ctx context.Context, ref FileRef) ([]byte, error)
}

// FSSource 从本地目录读取：root 下每个子目录是一个地区。
type FSSource struct {
	Root string
}

func (s FSSource) Regions(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("读取根目录 '%s' 失败: %w", s.Root, err)
	}
	var regions []string
	for _, e := range entries {
		if e.IsDir() {
			regions = append(regions, e.Name())
		}
	}
	return regions, nil
}

func (s FSSource) Files(_ context.Context, region string) ([]FileRef, error) {
	dir := filepath.Join(s.Root, region)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取地区目录 '%s' 失败: %w", dir, err)
	}
	var refs []FileRef
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		refs = append(refs, FileRef{Region: region, Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	return refs, nil
}

func (s FSSource) Read(_ context.Context, ref FileRef) ([]byte, error) {
	return os.ReadFile(ref.Path)
}

// MinIOSource 从对象存储读取：<prefix><region>/<file> 形式的对象视为地区文件。
type MinIOSource struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

// NewMinIOSource 根据配置创建 MinIOSource。
func NewMinIOSource(client *minio.Client, cfg config.MinIOConfig) MinIOSource {
	return MinIOSource{Client: client, Bucket: cfg.BucketName, Prefix: cfg.Prefix}
}

// parseObjectKey 拆分对象键；只接受前缀下恰好一层目录的对象。
func parseObjectKey(prefix, key string) (region, name string, ok bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(key, prefix), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (s MinIOSource) list(ctx context.Context, prefix string) ([]FileRef, error) {
	var refs []FileRef
	for obj := range s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: 列举对象失败: %v", model.ErrExternalService, obj.Err)
		}
		region, name, ok := parseObjectKey(s.Prefix, obj.Key)
		if !ok {
			continue
		}
		refs = append(refs, FileRef{Region: region, Name: name, Path: obj.Key})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

func (s MinIOSource) Regions(ctx context.Context) ([]string, error) {
	refs, err := s.list(ctx, s.Prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var regions []string
	for _, r := range refs {
		if _, ok := seen[r.Region]; !ok {
			seen[r.Region] = struct{}{}
			regions = append(regions, r.Region)
		}
	}
	sort.Strings(regions)
	return regions, nil
}

func (s MinIOSource) Files(ctx context.Context, region string) ([]FileRef, error) {
	return s.list(ctx, s.Prefix+region+"/")
}

func (s MinIOSource) Read(ctx context.Context, ref FileRef) ([]byte, error) {
	obj, err := s.Client.GetObject(ctx, s.Bucket, ref.Path, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
