package media

import "bytes"

// signature is one known magic-byte pattern. Offset supports formats whose
// marker is not at byte zero (WEBP, MP4).
type signature struct {
	offset int
	magic  []byte
	mime   string
	ext    string
}

var signatures = []signature{
	{0, []byte{0xFF, 0xD8, 0xFF}, "image/jpeg", ".jpg"},
	{0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png", ".png"},
	{0, []byte("GIF87a"), "image/gif", ".gif"},
	{0, []byte("GIF89a"), "image/gif", ".gif"},
	{8, []byte("WEBP"), "image/webp", ".webp"},
	{0, []byte("ID3"), "audio/mpeg", ".mp3"},
	{0, []byte{0xFF, 0xFB}, "audio/mpeg", ".mp3"},
	{0, []byte{0xFF, 0xF3}, "audio/mpeg", ".mp3"},
	{0, []byte("OggS"), "audio/ogg", ".ogg"},
	{4, []byte("ftyp"), "video/mp4", ".mp4"},
	{0, []byte("%PDF"), "application/pdf", ".pdf"},
}

const fallbackMime = "application/octet-stream"

// DetectMime infers the MIME type of raw bytes from known binary
// signatures, defaulting to application/octet-stream.
func DetectMime(data []byte) string {
	mime, _ := detect(data)
	return mime
}

func detect(data []byte) (mime, ext string) {
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(data) >= end && bytes.Equal(data[sig.offset:end], sig.magic) {
			return sig.mime, sig.ext
		}
	}
	return fallbackMime, ".bin"
}
