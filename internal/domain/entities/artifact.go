// Package entities defines core domain models and data structures.
package entities

// Archive codecs understood by the packager
const (
	Codec7z     = "7z"
	CodecTarZst = "tar.zst"
	CodecTarLZ4 = "tar.lz4"
)

// Digest algorithms understood by the digester
const (
	DigestSHA256 = "sha256"
	DigestSHA512 = "sha512"
	DigestBLAKE3 = "blake3"
)

// Artifact represents a packed toolchain archive ready for release
type Artifact struct {
	Name  string
	Tag   string
	Path  string
	Codec string
	Size  int64
}

// DigestFile pairs a checksum file with the archive it covers.
// The file holds one line: "<hex-digest>  <archive filename>".
type DigestFile struct {
	Path      string
	Algorithm string
	Sum       string
	// SignaturePath is the detached signature of Path, empty when unsigned
	SignaturePath string
}

// Files returns every path that belongs on the release page
func (d *DigestFile) Files() []string {
	files := []string{d.Path}
	if d.SignaturePath != "" {
		files = append(files, d.SignaturePath)
	}
	return files
}
