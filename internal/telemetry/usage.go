package telemetry

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/gjson"
)

// decompressBody undoes Content-Encoding before the telemetry copy is
// gjson-parsed. The bytes handed to the client are never touched by this;
// only the accumulated telemetry copy runs through it.
func decompressBody(contentEncoding string, body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	var (
		out []byte
		err error
	)
	switch contentEncoding {
	case "gzip":
		out, err = decompressGzip(body)
	case "deflate":
		out, err = decompressDeflate(body)
	case "br":
		out, err = decompressBrotli(body)
	case "zstd":
		out, err = decompressZstd(body)
	default:
		return body
	}
	if err != nil {
		return body
	}
	return out
}

func decompressGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func decompressDeflate(data []byte) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(data))
	defer reader.Close()
	return io.ReadAll(reader)
}

func decompressBrotli(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return io.ReadAll(decoder)
}

// ParseUsage extracts token counts from a (possibly compressed) response
// body. A top-level usageMetadata object is used directly; a top-level JSON
// array (the aggregated shape of a streamed response) is scanned from the
// last element backward for the first one containing usageMetadata. Any
// parse failure yields all-nil counts and is never treated as an error.
func ParseUsage(contentEncoding string, body []byte) (promptTokens, candidatesTokens, totalTokens *int64) {
	decoded := decompressBody(contentEncoding, body)
	if !gjson.ValidBytes(decoded) {
		return nil, nil, nil
	}
	root := gjson.ParseBytes(decoded)

	if root.IsArray() {
		var node gjson.Result
		found := false
		for _, elem := range root.Array() {
			if elem.Get("usageMetadata").Exists() {
				node = elem.Get("usageMetadata")
				found = true
			}
		}
		if !found {
			return nil, nil, nil
		}
		return usageFromNode(node)
	}

	node := root.Get("usageMetadata")
	if !node.Exists() {
		return nil, nil, nil
	}
	return usageFromNode(node)
}

func usageFromNode(node gjson.Result) (promptTokens, candidatesTokens, totalTokens *int64) {
	if v := node.Get("promptTokenCount"); v.Exists() {
		n := v.Int()
		promptTokens = &n
	}
	if v := node.Get("candidatesTokenCount"); v.Exists() {
		n := v.Int()
		candidatesTokens = &n
	}
	if v := node.Get("totalTokenCount"); v.Exists() {
		n := v.Int()
		totalTokens = &n
	}
	return
}
