// ABOUTME: Binary layout of registry records and the sequential record scanner
// ABOUTME: u64le length prefix, then id[16] | u64le len | name | u64le len | key

package registry

import (
	"bufio"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	lengthPrefixSize = 8
	idSize           = 16

	// smallest record: id plus two empty length-prefixed fields
	minRecordSize = idSize + 2*lengthPrefixSize
)

// errEndOfRecords marks a clean (or truncated-prefix) end of the file.
var errEndOfRecords = errors.New("end of records")

// frame encodes identity as a length-prefixed record ready to append.
func frame(identity *AppIdentity) []byte {
	recordLen := minRecordSize + len(identity.Name) + len(identity.VerifyKey)

	buf := make([]byte, 0, lengthPrefixSize+recordLen)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(recordLen))
	buf = append(buf, identity.ID[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(identity.Name)))
	buf = append(buf, identity.Name...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(identity.VerifyKey)))
	buf = append(buf, identity.VerifyKey...)
	return buf
}

// decodeBody parses the part of a record that follows the id.
func decodeBody(id uuid.UUID, body []byte) (*AppIdentity, error) {
	name, rest, err := readField(body)
	if err != nil {
		return nil, fmt.Errorf("%w: app %s name: %v", ErrCorrupt, id, err)
	}
	key, rest, err := readField(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: app %s key: %v", ErrCorrupt, id, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: app %s has %d trailing bytes", ErrCorrupt, id, len(rest))
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: app %s key is %d bytes", ErrCorrupt, id, len(key))
	}

	return &AppIdentity{
		ID:        id,
		Name:      string(name),
		VerifyKey: ed25519.PublicKey(key),
	}, nil
}

func readField(b []byte) (field, rest []byte, err error) {
	if len(b) < lengthPrefixSize {
		return nil, nil, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint64(b)
	b = b[lengthPrefixSize:]
	if n > uint64(len(b)) {
		return nil, nil, fmt.Errorf("field declares %d bytes, %d remain", n, len(b))
	}
	return b[:n], b[n:], nil
}

// recordScanner walks the records of a registry file front to back.
type recordScanner struct {
	br        *bufio.Reader
	remaining int64
	offset    int64
}

func newRecordScanner(r io.Reader, size int64) *recordScanner {
	return &recordScanner{br: bufio.NewReader(r), remaining: size}
}

// next reads a length prefix and the id that starts the record. It returns
// errEndOfRecords when the prefix cannot be read in full, and ErrCorrupt when
// the prefix promises more bytes than the file holds.
func (s *recordScanner) next() (uuid.UUID, uint64, error) {
	var prefix [lengthPrefixSize]byte
	n, err := io.ReadFull(s.br, prefix[:])
	s.consume(n)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return uuid.Nil, 0, errEndOfRecords
	}
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("reading length prefix: %w", err)
	}

	recordLen := binary.LittleEndian.Uint64(prefix[:])
	start := s.offset - lengthPrefixSize
	if recordLen > uint64(s.remaining) {
		return uuid.Nil, 0, fmt.Errorf("%w: record at offset %d declares %d bytes, %d remain",
			ErrCorrupt, start, recordLen, s.remaining)
	}
	if recordLen < minRecordSize {
		return uuid.Nil, 0, fmt.Errorf("%w: record at offset %d is only %d bytes", ErrCorrupt, start, recordLen)
	}

	var id uuid.UUID
	n, err = io.ReadFull(s.br, id[:])
	s.consume(n)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("%w: reading id at offset %d: %v", ErrCorrupt, start, err)
	}
	return id, recordLen - idSize, nil
}

// skip moves past the rest of the current record.
func (s *recordScanner) skip(bodyLen uint64) error {
	n, err := s.br.Discard(int(bodyLen))
	s.consume(n)
	if err != nil {
		return fmt.Errorf("%w: skipping record: %v", ErrCorrupt, err)
	}
	return nil
}

// body reads the rest of the current record.
func (s *recordScanner) body(bodyLen uint64) ([]byte, error) {
	buf := make([]byte, bodyLen)
	n, err := io.ReadFull(s.br, buf)
	s.consume(n)
	if err != nil {
		return nil, fmt.Errorf("%w: reading record: %v", ErrCorrupt, err)
	}
	return buf, nil
}

func (s *recordScanner) consume(n int) {
	s.offset += int64(n)
	s.remaining -= int64(n)
}
