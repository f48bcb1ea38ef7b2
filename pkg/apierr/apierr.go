// Package apierr writes the gateway's single error envelope to a fasthttp
// response: {"detail": "<message>"}.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

type envelope struct {
	Detail string `json:"detail"`
}

// Write writes {"detail": message} with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Detail: message})
	ctx.SetBody(body)
}
