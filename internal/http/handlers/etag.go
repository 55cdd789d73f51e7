package handlers

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// respondProfile writes a profile body with a validator so polling clients
// get a 304 until the user record changes. Bodies are per-user.
func respondProfile(ctx *gin.Context, body gin.H) {
	ctx.Header("Cache-Control", "private, no-cache")

	b, err := json.Marshal(body)
	if err != nil {
		ctx.JSON(http.StatusOK, body)
		return
	}

	sum := sha256.Sum256(b)
	tag := `"` + base64.RawURLEncoding.EncodeToString(sum[:16]) + `"`
	ctx.Header("ETag", tag)

	if etagMatches(ctx.GetHeader("If-None-Match"), tag) {
		ctx.Status(http.StatusNotModified)
		return
	}

	ctx.Data(http.StatusOK, "application/json; charset=utf-8", b)
}

func etagMatches(header, tag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}

	for _, candidate := range strings.Split(header, ",") {
		// weak comparison, W/"x" matches "x"
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == tag {
			return true
		}
	}

	return false
}
