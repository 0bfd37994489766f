package system

import (
	"net/http"
	"path"

	"go.uber.org/zap"
)

type ContentType int32

const (
	ContentType_Bytes ContentType = iota
	ContentType_JSON
)

type Context struct {
	Req *http.Request
	Res Response
}

type Response struct {
	ContentType ContentType
	Status      int
	Header      http.Header
	Data        interface{}
	Error       error
}

type Handler func(*Context)

type Route struct {
	prefix      string
	server      *AdminServer
	middlewares []Handler
}

func NewRoute(server *AdminServer, prefix string, middlewares ...Handler) *Route {
	return &Route{
		server:      server,
		prefix:      prefix,
		middlewares: middlewares,
	}
}

func (r *Route) Use(handlers ...Handler) {
	r.middlewares = append(r.middlewares, handlers...)
}

// Mount serves a plain http.Handler under the route prefix.
func (r *Route) Mount(apiPath string, h http.Handler) {

	uri := path.Join(r.prefix, apiPath)

	logger.Info("Registered API",
		zap.String("path", uri),
	)

	r.server.mux.Handle(uri, h)
}

func (r *Route) Handle(method string, apiPath string, handlers ...Handler) {

	uri := path.Join(r.prefix, apiPath)

	logger.Info("Registered API",
		zap.String("method", method),
		zap.String("path", uri),
	)

	r.server.mux.HandleFunc(uri, func(w http.ResponseWriter, req *http.Request) {

		logger.Debug("-> " + method + " " + uri)

		if req.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		ctx := &Context{
			Req: req,
		}
		ctx.Res.ContentType = ContentType_JSON
		ctx.Res.Status = http.StatusOK
		ctx.Res.Header = w.Header()

		defer func() {

			if ctx.Res.Data == nil {
				w.WriteHeader(ctx.Res.Status)
				return
			}

			var data []byte
			switch ctx.Res.ContentType {
			case ContentType_JSON:
				buf, err := json.Marshal(ctx.Res.Data)
				if err != nil {
					logger.Error(err.Error())
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				data = buf
				w.Header().Set("Content-Type", "application/json")
			default:
				data, _ = ctx.Res.Data.([]byte)
			}

			w.WriteHeader(ctx.Res.Status)
			w.Write(data)
		}()

		// Default middleware
		for _, middleware := range r.middlewares {
			middleware(ctx)

			if ctx.Res.Error != nil {
				logger.Error(ctx.Res.Error.Error())
				return
			}
		}

		// Customized handlers
		for _, h := range handlers {
			h(ctx)

			if ctx.Res.Error != nil {
				logger.Error(ctx.Res.Error.Error())
				return
			}
		}
	})
}
