// Copyright 2024 frappe Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loader

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
)

// extractArchive unpacks the JSON members of a gzipped tarball into a fresh
// temp directory and returns its path. Dot-files and non-JSON members are
// skipped, and member paths are flattened to their base name so a crafted
// archive cannot escape the temp directory. The caller removes the directory.
func extractArchive(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer file.Close()
	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer gzipReader.Close()
	dir, err := os.MkdirTemp("", "frappe_fill_*")
	if err != nil {
		return "", errors.Trace(err)
	}
	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			_ = os.RemoveAll(dir)
			return "", errors.Trace(err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(header.Name)
		if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		if err = writeMember(filepath.Join(dir, name), tarReader); err != nil {
			_ = os.RemoveAll(dir)
			return "", errors.Trace(err)
		}
	}
	return dir, nil
}

func writeMember(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	if _, err = io.Copy(file, reader); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(file.Close())
}
