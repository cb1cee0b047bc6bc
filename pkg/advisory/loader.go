package advisory

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/cratewatch/cratewatch/pkg/errors"
)

// gzipMagic is the two-byte gzip stream header.
var gzipMagic = []byte{0x1f, 0x8b}

// LoadFile reads an advisory database file: a JSON array of records,
// optionally gzip-compressed. Compression is detected from the stream
// header, not the file name.
func LoadFile(path string) ([]*Record, error) {
	const op = "advisory.LoadFile"

	f, err := os.Open(path)
	if err != nil {
		return nil, &errors.Error{Kind: errors.KindNotFound, Op: op, Message: "open advisory database", Input: path, Err: err}
	}
	defer f.Close()

	records, lerr := Load(f)
	if lerr != nil {
		lerr.Input = path
		return nil, lerr
	}
	return records, nil
}

// Load reads an advisory database from a reader.
func Load(r io.Reader) ([]*Record, *errors.Error) {
	const op = "advisory.Load"

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "read advisory database", Err: err}
	}

	if bytes.HasPrefix(data, gzipMagic) {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "corrupt gzip stream", Err: err}
		}
		defer gz.Close()
		if data, err = io.ReadAll(gz); err != nil {
			return nil, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "decompress advisory database", Err: err}
		}
	}

	var records []*Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "invalid advisory JSON", Err: err}
	}
	return records, nil
}
