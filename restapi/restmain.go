// Package restapi contains helper functions for quickly and easily setting up
// the cluster REST API.
package restapi

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/strata"
)

// NewRouter creates the HTTP router and uses the registered (REST) methods to
// make endpoint handlers out of them, all under the /api/v1 group.
func NewRouter(cluster strata.Cluster) *gin.Engine {
	api := NewClusterRestApi(cluster)

	RegisterMethod(GET, "/namespaces", api.GetNamespaces)
	RegisterMethod(POST, "/namespaces", api.CreateNamespace)
	RegisterMethod(GET, "/namespaces/:namespace/structures", api.GetStructures)
	RegisterMethod(POST, "/namespaces/:namespace/structures", api.CreateStructure)
	RegisterMethod(DELETE, "/namespaces/:namespace/structures/:structure", api.DeleteStructure)
	RegisterMethod(PUT, "/namespaces/:namespace/structures/:structure/value", api.SetValue)
	RegisterMethod(POST, "/namespaces/:namespace/structures/:structure/commit", api.Commit)

	router := gin.Default()
	v1 := router.Group("/api/v1")
	{
		for _, rm := range RestMethods() {
			switch rm.Verb {
			case GET:
				fallthrough
			case GET_ONE:
				v1.GET(rm.Path, rm.Handler)
			case DELETE:
				v1.DELETE(rm.Path, rm.Handler)
			case POST:
				v1.POST(rm.Path, rm.Handler)
			case PUT:
				v1.PUT(rm.Path, rm.Handler)
			case PATCH:
				v1.PATCH(rm.Path, rm.Handler)
			default:
				panic(fmt.Sprintf("HTTP verb %d not supported", rm.Verb))
			}
		}
	}
	return router
}

// Main creates the router over the given cluster and issues a "router run",
// blocking until the HTTP REST API is signaled to stop, via OS interrupts like
// CTRL-C and such.
func Main(address string, cluster strata.Cluster) error {
	return NewRouter(cluster).Run(address)
}
