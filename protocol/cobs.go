package protocol

// appendCOBS appends the COBS encoding of src to dst. The output contains no
// zero byte and no delimiter.
//
// Each block starts with a code byte n: n-1 data bytes follow, and an implicit
// zero comes after them unless n == 0xFF or the block is the last one.
func appendCOBS(dst, src []byte) []byte {
	codeIdx := len(dst)
	dst = append(dst, 0)
	code := byte(1)

	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}

	dst[codeIdx] = code
	return dst
}

// decodeCOBS decodes buf (delimiter already stripped) in place and returns the
// decoded prefix of buf. The write cursor never overtakes the read cursor.
func decodeCOBS(buf []byte) ([]byte, error) {
	out, in := 0, 0
	for in < len(buf) {
		code := int(buf[in])
		if code == 0 {
			return nil, ErrInvalidFrame
		}
		in++

		end := in + code - 1
		if end > len(buf) {
			return nil, ErrInvalidFrame
		}
		out += copy(buf[out:], buf[in:end])
		in = end

		if code != 0xFF && in < len(buf) {
			buf[out] = 0
			out++
		}
	}
	return buf[:out], nil
}
