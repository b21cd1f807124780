package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/camrelay/internal/capture"
	"github.com/loykin/camrelay/internal/manager"
)

// normalizeBase turns " api/ " into "/api"; "" and "/" mount at the root.
func normalizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// writeJSON answers with v. Snapshots are live so they are never cached;
// ?pretty indents the body for curl users.
func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	c.Status(code)
	enc := json.NewEncoder(c.Writer)
	if _, ok := c.GetQuery("pretty"); ok {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

// errorStatus maps a controller error onto an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, manager.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, capture.ErrCaptureStart):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, errorStatus(err), errorResp{Error: err.Error()})
}
