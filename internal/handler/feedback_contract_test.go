package handler_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

func TestSubmissionFeedbackContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "submission_feedback.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	a := newTestApp(t)

	for _, tc := range []struct {
		category string
		userID   uint
	}{
		{category: "normal", userID: studentID},
		{category: "ultimate_submission", userID: partnerID},
		{category: "staff_viewer", userID: staffID},
		{category: "max", userID: adminID},
	} {
		t.Run(tc.category, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/submissions/%d/results?feedback_category=%s", a.submission.ID, tc.category), nil)
			req.Header.Set("X-User-ID", strconv.FormatUint(uint64(tc.userID), 10))

			resp, err := a.app.Test(req, -1)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			resp.Body.Close()

			var payload interface{}
			require.NoError(t, json.Unmarshal(body, &payload))
			require.NoError(t, schema.Validate(payload))
		})
	}
}
