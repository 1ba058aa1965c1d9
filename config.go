package webdav

// Config toggles engine behaviors that spec.md §6.4 leaves to the
// deployment rather than baking into the protocol logic itself. The
// teacher had no equivalent (it hardcoded DAV: 1, 2 and unconditional
// chunked responses); these toggles exist because PyWebDAV3 exposed them
// as config.DAV knobs and real deployments flip them.
type Config struct {
	// LockEmulation advertises "2" in the DAV compliance header and
	// enables LOCK/UNLOCK; when false those two methods answer 405. The If:
	// header is evaluated either way. Some read-only mirrors set this false
	// to advertise Class 1 only.
	LockEmulation bool
	// MimeCheck has the PUT handler sniff and store a Content-Type when
	// the client didn't send one, instead of falling back to
	// application/octet-stream.
	MimeCheck bool
	// ChunkedHTTPResponse is carried in the configuration but not read by
	// the engine: PROPFIND/REPORT always build their whole Multi-Status
	// body in memory and write it in one call, whatever this is set to.
	ChunkedHTTPResponse bool
	// HTTPResponseUseIterator is carried in the configuration but not read
	// by the engine: PROPFIND always resolves the whole set of resources
	// before writing anything, whatever this is set to.
	HTTPResponseUseIterator bool
}

// DefaultConfig matches PyWebDAV3's out-of-the-box config.DAV defaults.
func DefaultConfig() Config {
	return Config{
		LockEmulation:           true,
		MimeCheck:               true,
		ChunkedHTTPResponse:     true,
		HTTPResponseUseIterator: true,
	}
}
