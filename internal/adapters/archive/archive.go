// Package archive reads and writes ar(5) archives.
//
// Rust rlibs are ar archives whose member names routinely exceed the 16-byte
// header field, so both the GNU long-name table ("//" member, "/offset"
// references) and the BSD inline scheme ("#1/len") are supported. Written
// archives use the GNU scheme, which is what the platform linkers expect.
package archive

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/zerr"
)

const (
	globalHeader = "!<arch>\n"
	headerSize   = 60
	headerMagic  = "`\n"
)

// Member is a single archive entry.
type Member struct {
	Name string
	Data []byte
}

// Read parses the archive at path into its members.
//
// The symbol table ("/" or "__.SYMDEF") and the long-name table ("//") are
// consumed but not returned.
func Read(path string) ([]Member, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerr.Wrap(err, "read archive")
	}
	members, err := Parse(data)
	if err != nil {
		return nil, zerr.With(err, "archive", path)
	}
	return members, nil
}

// Parse parses raw archive bytes into members.
func Parse(data []byte) ([]Member, error) {
	if len(data) < len(globalHeader) || string(data[:len(globalHeader)]) != globalHeader {
		return nil, zerr.New("not an ar archive")
	}

	var members []Member
	var nameTable []byte
	offset := len(globalHeader)

	for offset < len(data) {
		if offset+headerSize > len(data) {
			return nil, zerr.New("truncated archive header")
		}
		header := data[offset : offset+headerSize]
		if string(header[58:60]) != headerMagic {
			return nil, zerr.New("bad archive header magic")
		}

		rawName := strings.TrimRight(string(header[0:16]), " ")
		size, err := strconv.Atoi(strings.TrimSpace(string(header[48:58])))
		if err != nil || size < 0 {
			return nil, zerr.New("bad archive member size")
		}

		offset += headerSize
		if offset+size > len(data) {
			return nil, zerr.New("truncated archive member")
		}
		body := data[offset : offset+size]
		offset += size
		if offset%2 == 1 {
			offset++
		}

		name := rawName
		switch {
		case rawName == "/" || rawName == "__.SYMDEF" || rawName == "__.SYMDEF SORTED":
			continue
		case rawName == "//":
			nameTable = body
			continue
		case strings.HasPrefix(rawName, "#1/"):
			// BSD: the real name is prepended to the body.
			nameLen, err := strconv.Atoi(rawName[3:])
			if err != nil || nameLen > len(body) {
				return nil, zerr.New("bad BSD member name length")
			}
			name = strings.TrimRight(string(body[:nameLen]), "\x00")
			body = body[nameLen:]
		case strings.HasPrefix(rawName, "/"):
			// GNU: reference into the long-name table.
			tableOffset, err := strconv.Atoi(rawName[1:])
			if err != nil || tableOffset >= len(nameTable) {
				return nil, zerr.New("bad long-name reference")
			}
			end := bytes.IndexByte(nameTable[tableOffset:], '\n')
			if end < 0 {
				end = len(nameTable) - tableOffset
			}
			name = strings.TrimSuffix(string(nameTable[tableOffset:tableOffset+end]), "/")
			name = strings.TrimSuffix(name, "\r")
		default:
			name = strings.TrimSuffix(rawName, "/")
		}

		members = append(members, Member{Name: name, Data: body})
	}

	return members, nil
}

// Write creates an archive at path containing the given members, replacing
// any existing file. Long member names go through a GNU "//" table.
func Write(path string, members []Member) error {
	var buf bytes.Buffer
	buf.WriteString(globalHeader)

	nameTable, nameFields := buildNameTable(members)
	if len(nameTable) > 0 {
		writeHeader(&buf, "//", len(nameTable))
		buf.Write(nameTable)
		if len(nameTable)%2 == 1 {
			buf.WriteByte('\n')
		}
	}

	for i, m := range members {
		writeHeader(&buf, nameFields[i], len(m.Data))
		buf.Write(m.Data)
		if len(m.Data)%2 == 1 {
			buf.WriteByte('\n')
		}
	}

	// Atomic replace: a build killed mid-write must not leave a truncated
	// archive that a later build picks up as a valid cache hit.
	if err := domain.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return zerr.Wrap(err, "write archive")
	}
	return nil
}

// buildNameTable returns the GNU long-name table and the per-member header
// name field. Short names get the "name/" form inline.
func buildNameTable(members []Member) ([]byte, []string) {
	var table bytes.Buffer
	fields := make([]string, len(members))
	for i, m := range members {
		inline := m.Name + "/"
		if len(inline) <= 16 {
			fields[i] = inline
			continue
		}
		fields[i] = fmt.Sprintf("/%d", table.Len())
		table.WriteString(m.Name)
		table.WriteString("/\n")
	}
	return table.Bytes(), fields
}

func writeHeader(buf *bytes.Buffer, name string, size int) {
	fmt.Fprintf(buf, "%-16s%-12d%-6d%-6d%-8o%-10d%s", name, 0, 0, 0, 0o644, size, headerMagic)
}
