package restapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/strata"
)

type clusterRestApi struct {
	cluster strata.Cluster
}

func NewClusterRestApi(cluster strata.Cluster) *clusterRestApi {
	return &clusterRestApi{cluster: cluster}
}

// writeError maps the two failure channels onto HTTP: infrastructure faults
// surface as not found, data-level errors as unprocessable (locked when lock
// acquisition lost). The infra channel is checked first because backends wrap
// error-coded causes (e.g. a namespace identity mismatch) inside
// DistributedError, and those must not leak onto the data channel.
func writeError(c *gin.Context, err error) {
	var de *strata.DistributedError
	if errors.As(err, &de) {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}
	var e strata.Error
	if errors.As(err, &e) {
		status := http.StatusUnprocessableEntity
		if e.Code == strata.LockAcquisitionFailure {
			status = http.StatusLocked
		}
		c.IndentedJSON(status, gin.H{"code": int(e.Code), "message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusNotFound, gin.H{"message": err.Error()})
}

type createNamespaceRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateNamespace mints a namespace identity, registers it with the cluster
// and responds with the registered namespace (including its new ID).
func (cra *clusterRestApi) CreateNamespace(c *gin.Context) {
	var req createNamespaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	ns := strata.NewNamespace(req.Name)
	if err := cra.cluster.CreateNamespace(c.Request.Context(), ns); err != nil {
		writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, ns)
}

// GetNamespaces responds with the list of registered namespaces as JSON.
func (cra *clusterRestApi) GetNamespaces(c *gin.Context) {
	nss, err := cra.cluster.Namespaces(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, nss)
}

// GetStructures responds with the structure descriptors of one namespace.
func (cra *clusterRestApi) GetStructures(c *gin.Context) {
	ns, err := cra.findNamespace(c)
	if err != nil {
		writeError(c, err)
		return
	}
	infos, err := cra.cluster.Structures(c.Request.Context(), ns)
	if err != nil {
		writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, infos)
}

// CreateStructure finalizes the posted options against the namespace and
// registers the resulting structure.
func (cra *clusterRestApi) CreateStructure(c *gin.Context) {
	ns, err := cra.findNamespace(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var opts strata.StructureOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	st, err := ns.StructureWithOptions(opts)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := cra.cluster.CreateStructure(c.Request.Context(), st); err != nil {
		writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, st)
}

// DeleteStructure drops the structure and its materialized value.
func (cra *clusterRestApi) DeleteStructure(c *gin.Context) {
	st, err := cra.findStructure(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := cra.cluster.DropStructure(c.Request.Context(), st); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setValueRequest struct {
	Value any `json:"value"`
}

// SetValue writes the structure's materialized value.
func (cra *clusterRestApi) SetValue(c *gin.Context) {
	st, err := cra.findStructure(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req setValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err := cra.cluster.SetValue(c.Request.Context(), st, req.Value); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// commitStep is one pipeline stage in a commit request. Op is one of "get"
// (map lookup, Key required), "some" (optional unwrap) and "field" (record
// field access, Name required).
type commitStep struct {
	Op   string `json:"op" binding:"required"`
	Key  any    `json:"key,omitempty"`
	Name string `json:"name,omitempty"`
}

type commitRequest struct {
	Steps []commitStep `json:"steps"`
}

// Commit builds a typed pipeline from the posted steps, rooted at the
// structure's access, and commits it. Build-time rejections (type mismatches,
// unknown fields) come back before the cluster is touched.
func (cra *clusterRestApi) Commit(c *gin.Context) {
	st, err := cra.findStructure(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req commitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	tx := st.Access()
	for _, step := range req.Steps {
		switch step.Op {
		case "get":
			tx, err = tx.Get(step.Key)
		case "some":
			tx, err = tx.Some()
		case "field":
			tx, err = tx.Field(step.Name)
		default:
			err = fmt.Errorf("unknown step op %q", step.Op)
		}
		if err != nil {
			writeError(c, err)
			return
		}
	}
	v, err := cra.cluster.Commit(c.Request.Context(), tx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"value": v})
}

func (cra *clusterRestApi) findNamespace(c *gin.Context) (strata.Namespace, error) {
	name := c.Param("namespace")
	nss, err := cra.cluster.Namespaces(c.Request.Context())
	if err != nil {
		return strata.Namespace{}, err
	}
	for _, ns := range nss {
		if ns.Name == name {
			return ns, nil
		}
	}
	return strata.Namespace{}, fmt.Errorf("namespace %q not found", name)
}

// findStructure rebuilds a finalized Structure from its registration so the
// value & commit handlers can target it.
func (cra *clusterRestApi) findStructure(c *gin.Context) (*strata.Structure, error) {
	ns, err := cra.findNamespace(c)
	if err != nil {
		return nil, err
	}
	name := c.Param("structure")
	infos, err := cra.cluster.Structures(c.Request.Context(), ns)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Name == name {
			return ns.StructureWithOptions(strata.StructureOptions{
				Name:            info.Name,
				Schema:          info.Schema,
				Description:     info.Description,
				ValueValidation: info.ValueValidation,
			})
		}
	}
	return nil, fmt.Errorf("structure %q not found in namespace %q", name, ns.Name)
}
