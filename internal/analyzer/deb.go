package analyzer

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/xi2/xz"

	"github.com/deploymenttheory/go-installer-metadata/internal/logger"
)

// Control-file keys carried through under their own names.
var debControlFields = []string{
	"Package", "Version", "Architecture", "Maintainer", "Description",
	"Depends", "Section", "Priority", "Homepage", "Installed-Size",
	"Source", "Essential",
}

const debMaxControlSize = 1 << 20

// decodeDEB walks the ar archive, decompresses the control member, and reads
// the RFC822-style control file. A missing debian-binary or control member is
// structural; an unknown control compression is an explicit unsupported
// error, never a silent skip.
func decodeDEB(data []byte) (Fields, *Error) {
	arReader := ar.NewReader(bytes.NewReader(data))

	sawDebianBinary := false
	for {
		header, err := arReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, structuralErr("DEB", "unreadable ar archive: %v", err)
		}

		name := path.Clean(strings.TrimSuffix(header.Name, "/"))
		switch {
		case name == "debian-binary":
			sawDebianBinary = true

		case strings.HasPrefix(name, "control.tar"):
			if !sawDebianBinary {
				return nil, structuralErr("DEB", "control member precedes debian-binary")
			}
			ext := filepath.Ext(name)
			if ext == ".tar" {
				ext = ""
			}
			control, derr := readDebControl(arReader, ext)
			if derr != nil {
				return nil, derr
			}
			f := Fields{}
			for key, value := range parseControlFile(control) {
				f.Set(key, value)
			}
			return f, nil
		}
	}

	if !sawDebianBinary {
		return nil, structuralErr("DEB", "no debian-binary member: not a Debian package")
	}
	return nil, structuralErr("DEB", "no control.tar member found")
}

// readDebControl decompresses the control member per its suffix and pulls the
// control file out of the inner tar.
func readDebControl(r io.Reader, compressionExt string) ([]byte, *Error) {
	var controlReader io.Reader = r
	switch compressionExt {
	case ".gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, structuralErr("DEB", "corrupt gzip control member: %v", err)
		}
		defer gz.Close()
		controlReader = gz
	case ".bz2":
		controlReader = bzip2.NewReader(r)
	case ".xz":
		xzReader, err := xz.NewReader(r, 0)
		if err != nil {
			return nil, structuralErr("DEB", "corrupt xz control member: %v", err)
		}
		controlReader = xzReader
	case ".zst":
		zstdReader, err := zstd.NewReader(r)
		if err != nil {
			return nil, structuralErr("DEB", "corrupt zstd control member: %v", err)
		}
		defer zstdReader.Close()
		controlReader = zstdReader
	case "":
		// uncompressed control.tar
	default:
		return nil, unsupportedErr("DEB", "unsupported compression format in control member: %s", compressionExt)
	}

	tarReader := tar.NewReader(controlReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, structuralErr("DEB", "unreadable control tar: %v", err)
		}
		if path.Clean(header.Name) != "control" {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(tarReader, debMaxControlSize))
		if err != nil {
			return nil, structuralErr("DEB", "unreadable control file: %v", err)
		}
		return content, nil
	}
	return nil, structuralErr("DEB", "no control file inside control member")
}

// parseControlFile reads "Key: value" lines, folding continuation lines
// (leading whitespace) into the previous value, and keeps the well-known
// fields.
func parseControlFile(content []byte) map[string]string {
	wanted := map[string]bool{}
	for _, key := range debControlFields {
		wanted[key] = true
	}

	out := map[string]string{}
	var lastKey string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), debMaxControlSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			lastKey = ""
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if lastKey != "" {
				folded := strings.TrimSpace(line)
				if folded == "." {
					folded = ""
				}
				out[lastKey] = strings.TrimRight(out[lastKey]+"\n"+folded, "\n")
			}
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			logger.Debugf("deb: control line without separator: %q", line)
			lastKey = ""
			continue
		}
		key = strings.TrimSpace(key)
		if !wanted[key] {
			lastKey = ""
			continue
		}
		out[key] = strings.TrimSpace(value)
		lastKey = key
	}
	return out
}
