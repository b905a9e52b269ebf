package vectorindex

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BundleKind classifies the bytes of a remote backup bundle. Format sniffing
// is explicit rather than exception-driven: current bundles are tar.gz
// archives of the three artifacts, legacy bundles are a bare index binary.
type BundleKind int

const (
	BundleInvalid BundleKind = iota
	BundleArchive
	BundleLegacyRawIndex
)

func (k BundleKind) String() string {
	switch k {
	case BundleArchive:
		return "archive"
	case BundleLegacyRawIndex:
		return "legacy_raw_index"
	default:
		return "invalid"
	}
}

// ClassifyBundle inspects the leading bytes only; it never parses the whole
// payload.
func ClassifyBundle(data []byte) BundleKind {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		return BundleArchive
	}
	if len(data) >= 4 && string(data[:4]) == indexMagic {
		return BundleLegacyRawIndex
	}
	return BundleInvalid
}

// PackBundle archives the three saved artifacts for the given index name into
// a single tar.gz at bundlePath.
func PackBundle(dir, name, bundlePath string) error {
	artifacts := []string{
		name + indexFileExt,
		name + metadataFileSfx,
		name + chunksFileSfx,
	}

	out, err := os.Create(bundlePath)
	if err != nil {
		return &VectorDBError{Op: "pack", Err: err}
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	tw := tar.NewWriter(gzw)

	for _, artifact := range artifacts {
		if err := addToTar(tw, filepath.Join(dir, artifact), artifact); err != nil {
			tw.Close()
			gzw.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return &VectorDBError{Op: "pack", Err: err}
	}
	if err := gzw.Close(); err != nil {
		return &VectorDBError{Op: "pack", Err: err}
	}
	return nil
}

// UnpackBundle extracts an archive bundle into destDir and returns the index
// name derived from the .index entry.
func UnpackBundle(bundlePath, destDir string) (string, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return "", &VectorDBError{Op: "unpack", Err: err}
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return "", dbErrorf("unpack", "bundle is not a gzip archive: %v", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	var name string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", dbErrorf("unpack", "corrupt bundle archive: %v", err)
		}

		// Flatten entry names; bundles never contain directories.
		entry := filepath.Base(hdr.Name)
		if strings.Contains(entry, "..") {
			return "", dbErrorf("unpack", "bundle entry escapes destination: %q", hdr.Name)
		}
		if strings.HasSuffix(entry, indexFileExt) {
			name = strings.TrimSuffix(entry, indexFileExt)
		}

		dest, err := os.Create(filepath.Join(destDir, entry))
		if err != nil {
			return "", &VectorDBError{Op: "unpack", Err: err}
		}
		if _, err := io.Copy(dest, tr); err != nil {
			dest.Close()
			return "", &VectorDBError{Op: "unpack", Err: err}
		}
		dest.Close()
	}

	if name == "" {
		return "", dbErrorf("unpack", "bundle contains no index binary")
	}
	return name, nil
}

func addToTar(tw *tar.Writer, path, entryName string) error {
	f, err := os.Open(path)
	if err != nil {
		return &VectorDBError{Op: "pack", Err: fmt.Errorf("missing artifact %s: %w", entryName, err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &VectorDBError{Op: "pack", Err: err}
	}

	hdr := &tar.Header{
		Name: entryName,
		Mode: 0644,
		Size: info.Size(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return &VectorDBError{Op: "pack", Err: err}
	}
	if _, err := io.Copy(tw, f); err != nil {
		return &VectorDBError{Op: "pack", Err: err}
	}
	return nil
}
