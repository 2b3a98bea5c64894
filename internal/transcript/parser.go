package transcript

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"sync"
)

// DefaultCwdScanLimit bounds how much of a log ScanCwd reads.
const DefaultCwdScanLimit = 256 * 1024

// Parser tails append-only logs. It keeps one byte offset per path so each
// call to ReadNew returns only records appended since the previous call.
type Parser struct {
	mu      sync.Mutex
	offsets map[string]int64
}

// NewParser creates a parser with an empty offset table.
func NewParser() *Parser {
	return &Parser{offsets: make(map[string]int64)}
}

// ReadNew returns the records appended to path since the last call.
//
// Every newline-terminated line is consumed whether or not it decodes, so a
// permanently malformed line cannot stall the file. A trailing fragment with
// no newline is consumed only if it decodes; otherwise it is assumed to be a
// write in progress and is re-read on the next call. A missing file yields
// nothing and leaves the offset untouched.
func (p *Parser) ReadNew(path string) []*Entry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil
	}
	size := info.Size()

	p.mu.Lock()
	defer p.mu.Unlock()

	off := p.offsets[path]
	if size < off {
		// Replaced or truncated: the old offset means nothing any more.
		off = 0
	}
	if size == off {
		p.offsets[path] = off
		return nil
	}

	buf := make([]byte, size-off)
	n, err := f.ReadAt(buf, off)
	if n == 0 && err != nil {
		return nil
	}
	consumed, entries := decodeChunk(buf[:n])
	p.offsets[path] = off + consumed
	return entries
}

// CatchUp moves the offset for path to the current end of file without
// returning anything, so only data appended afterwards is seen.
func (p *Parser) CatchUp(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.offsets[path] = info.Size()
	p.mu.Unlock()
}

// Offset reports the stored offset for path.
func (p *Parser) Offset(path string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.offsets[path]
	return off, ok
}

// Tracked lists every path with a stored offset.
func (p *Parser) Tracked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	paths := make([]string, 0, len(p.offsets))
	for path := range p.offsets {
		paths = append(paths, path)
	}
	return paths
}

// Forget drops the offset for path.
func (p *Parser) Forget(path string) {
	p.mu.Lock()
	delete(p.offsets, path)
	p.mu.Unlock()
}

// Reset drops every offset.
func (p *Parser) Reset() {
	p.mu.Lock()
	p.offsets = make(map[string]int64)
	p.mu.Unlock()
}

// decodeChunk splits buf on newlines and decodes each line. It returns how
// many bytes of buf were consumed.
func decodeChunk(buf []byte) (int64, []*Entry) {
	var entries []*Entry

	complete := buf
	var tail []byte
	if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
		complete, tail = buf[:i+1], buf[i+1:]
	} else {
		complete, tail = nil, buf
	}

	for _, line := range bytes.Split(complete, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if e, err := Decode(line); err == nil {
			entries = append(entries, e)
		}
	}

	consumed := int64(len(complete))
	trimmed := bytes.TrimSpace(tail)
	switch {
	case len(trimmed) == 0:
		consumed = int64(len(buf))
	default:
		if e, err := Decode(trimmed); err == nil {
			entries = append(entries, e)
			consumed = int64(len(buf))
		}
	}
	return consumed, entries
}

// ScanCwd reads up to limit bytes from the start of path and returns the
// first cwd it finds. It does not touch any parser offsets.
func ScanCwd(path string, limit int64) string {
	if limit <= 0 {
		limit = DefaultCwdScanLimit
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	r := bufio.NewReader(io.LimitReader(f, limit))
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if e, derr := Decode(bytes.TrimSpace(line)); derr == nil && e.Cwd != "" {
				return e.Cwd
			}
		}
		if err != nil {
			return ""
		}
	}
}
