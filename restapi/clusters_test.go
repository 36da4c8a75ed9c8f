package restapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/strata"
)

// The two failure channels must stay distinct on the wire: an error-coded
// cause wrapped inside a DistributedError is still an infrastructure fault and
// must not surface as a data-level 422.
func TestWriteErrorKeepsChannelsDistinct(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeError(c, &strata.DistributedError{
		Op: "commit",
		Err: strata.Error{
			Code: strata.NamespaceMismatch,
			Err:  fmt.Errorf("namespace %q is registered under a different identity", "dev"),
		},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("wrapped infra fault got %d want %d", w.Code, http.StatusNotFound)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	writeError(c, strata.Error{Code: strata.AbsentValue, Err: fmt.Errorf("optional value is absent")})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("data-level error got %d want %d", w.Code, http.StatusUnprocessableEntity)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	writeError(c, strata.Error{Code: strata.LockAcquisitionFailure, Err: fmt.Errorf("lock is held by another owner")})
	if w.Code != http.StatusLocked {
		t.Fatalf("lost lock got %d want %d", w.Code, http.StatusLocked)
	}
}
