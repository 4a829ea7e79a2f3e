// Package archive bridges between "bytes at a path" and the tar-stream
// protocol the container runtime's copy APIs speak.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"path"
	"time"

	"github.com/curaious/isobox/pkg/sandbox"
)

// Pack builds a single-entry tar stream holding data under the base name of
// sandboxPath, ready for the runtime's put-archive call at the destination's
// parent directory.
func Pack(sandboxPath string, data []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    path.Base(sandboxPath),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return bytes.NewReader(buf.Bytes()), nil
}

// SplitDir returns the directory component of a sandbox path, defaulting to
// the root when the path has no directory component.
func SplitDir(sandboxPath string) string {
	dir := path.Dir(sandboxPath)
	if dir == "." || dir == "" {
		return "/"
	}
	return dir
}

// Unpack reads the first regular file out of a tar stream returned by the
// runtime's get-archive call.
func Unpack(r io.Reader, sandboxPath string) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, &sandbox.ExtractionError{Path: sandboxPath}
		}
		if err != nil {
			return nil, &sandbox.TransportError{Op: "read archive", Err: err}
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, &sandbox.TransportError{Op: "extract archive", Err: err}
		}
		return data, nil
	}
}
