package middleware

import (
	"io"
	"net/http"
	"strings"

	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DecompressMiddleware transparently decodes gzip and zstd request bodies.
// The decoded body is capped at maxBytes so a small compressed payload
// cannot expand without bound.
func DecompressMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		encoding := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if encoding == "" || encoding == "identity" || c.Request.Body == nil {
			c.Next()
			return
		}

		var decoded io.ReadCloser
		switch encoding {
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(c.Request.Body)
			if err != nil {
				response.AbortWithError(c, appErr.Wrapf(err, appErr.InvalidParams, "Invalid gzip body"))
				return
			}
			decoded = zr
		case "zstd":
			opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
			if maxBytes > 0 {
				opts = append(opts, zstd.WithDecoderMaxMemory(uint64(maxBytes)))
			}
			zr, err := zstd.NewReader(c.Request.Body, opts...)
			if err != nil {
				response.AbortWithError(c, appErr.Wrapf(err, appErr.InvalidParams, "Invalid zstd body"))
				return
			}
			decoded = zr.IOReadCloser()
		default:
			response.AbortWithErrorCode(c, appErr.InvalidParams, "Unsupported content encoding")
			return
		}
		defer decoded.Close()

		if maxBytes > 0 {
			decoded = http.MaxBytesReader(c.Writer, decoded, maxBytes)
		}
		c.Request.Body = decoded
		c.Request.Header.Del("Content-Encoding")
		c.Request.Header.Del("Content-Length")
		c.Request.ContentLength = -1
		c.Next()
	}
}
