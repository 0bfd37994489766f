package system

import "net/http"

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ErrorReply struct {
	Error *APIError `json:"error"`
}

func (ctx *Context) Fail(status int, err error) {
	ctx.Res.Status = status
	ctx.Res.Error = err
	ctx.Res.Data = &ErrorReply{
		Error: &APIError{
			Code:    status,
			Message: http.StatusText(status),
		},
	}
}
