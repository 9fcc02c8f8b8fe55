package upload

// Session is the client side state of one in-flight upload.
// Only the Client mutates the offset, and only after the server confirmed the write.
type Session struct {
	url            string
	declaredLength int64
	offset         int64
	dialect        Dialect
}

// URL returns the upload resource URL assigned by the server.
func (s *Session) URL() string {
	return s.url
}

// DeclaredLength returns the total length committed to at creation.
func (s *Session) DeclaredLength() int64 {
	return s.declaredLength
}

// Offset returns the number of bytes the server has accepted so far.
func (s *Session) Offset() int64 {
	return s.offset
}

// Dialect returns the dialect every request of the session uses.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// Complete reports whether every declared byte has been accepted.
func (s *Session) Complete() bool {
	return s.offset == s.declaredLength
}

func (s *Session) advance(n int64) {
	s.offset += n
}
