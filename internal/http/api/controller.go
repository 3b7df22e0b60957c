package api

import "github.com/gin-gonic/gin"

// Controller wraps a gin group. Routes registered through it receive the
// authenticated operator when the group was mounted with Auth.
type Controller struct {
	Group *gin.RouterGroup
	auth  bool
}

func (c *Controller) handle(method, path string, h HandlerFuncWithAuth) {
	if c.auth {
		c.Group.Handle(method, path, ResolveEndpointWithAuth(h))
		return
	}
	c.Group.Handle(method, path, ResolveEndpoint(func(ctx *gin.Context) (any, *APIError) {
		return h(ctx, nil)
	}))
}

func (c *Controller) GET(path string, h HandlerFuncWithAuth)    { c.handle("GET", path, h) }
func (c *Controller) POST(path string, h HandlerFuncWithAuth)   { c.handle("POST", path, h) }
func (c *Controller) PUT(path string, h HandlerFuncWithAuth)    { c.handle("PUT", path, h) }
func (c *Controller) DELETE(path string, h HandlerFuncWithAuth) { c.handle("DELETE", path, h) }

// Raw registers a plain gin handler, for endpoints that own the connection.
func (c *Controller) Raw(method, path string, h gin.HandlerFunc) {
	c.Group.Handle(method, path, h)
}
