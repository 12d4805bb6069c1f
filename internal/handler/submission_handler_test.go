package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-autograder-api/internal/dto"
	"github.com/noah-isme/gema-autograder-api/internal/models"
)

func (a *testApp) submit(t *testing.T, userID uint, files map[string]string) (*http.Response, dto.SubmissionResponse) {
	t.Helper()

	body, contentType := multipartBody(t, files)
	resp, payload := a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/groups/%d/submissions", a.group.ID), userID, body, contentType)

	var submission dto.SubmissionResponse
	if resp.StatusCode == http.StatusCreated {
		require.NoError(t, json.Unmarshal(payload.Data, &submission))
	}
	return resp, submission
}

func TestSubmissionHandlerCreateAndList(t *testing.T) {
	a := newTestApp(t)

	resp, created := a.submit(t, studentID, map[string]string{"main.cpp": "int main() { return 0; }\n"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, string(models.SubmissionStatusReceived), created.Status)
	require.Equal(t, []string{"main.cpp"}, created.SubmittedFilenames)
	require.Equal(t, studentID, created.SubmitterID)

	resp, _ = a.submit(t, partnerID, map[string]string{"main.cpp": "int main() { return 1; }\n"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "the group already has a submission in the queue")

	resp, body := a.get(t, fmt.Sprintf("/api/v1/groups/%d/submissions", a.group.ID), partnerID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed []dto.SubmissionWithResultsResponse
	require.NoError(t, json.Unmarshal(body.Data, &listed))
	require.Len(t, listed, 2)
	require.Equal(t, created.ID, listed[0].ID, "newest first")
	require.NotNil(t, listed[1].Results)
	require.Equal(t, 4, listed[1].Results.TotalPoints)
}

func TestSubmissionHandlerCreateRejectsBadRequests(t *testing.T) {
	a := newTestApp(t)

	resp, _ := a.submit(t, loneID, map[string]string{"main.cpp": "int main() {}\n"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = a.submit(t, studentID, map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.submit(t, studentID, map[string]string{"photo.png": "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/groups/%d/submissions", a.group.ID), studentID, strings.NewReader(`{}`), fiber.MIMEApplicationJSON)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/api/v1/groups/4242/submissions", studentID, bytes.NewReader(nil), "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmissionHandlerRemoveFromQueue(t *testing.T) {
	a := newTestApp(t)

	_, created := a.submit(t, studentID, map[string]string{"main.cpp": "int main() {}\n"})
	path := fmt.Sprintf("/api/v1/submissions/%d/remove-from-queue", created.ID)

	resp, _ := a.do(t, http.MethodPost, path, loneID, nil, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := a.do(t, http.MethodPost, path, partnerID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var removed dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(body.Data, &removed))
	require.Equal(t, string(models.SubmissionStatusRemovedFromQueue), removed.Status)

	resp, _ = a.do(t, http.MethodPost, path, partnerID, nil, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmissionHandlerUpdateLimitsRequiresAdmin(t *testing.T) {
	a := newTestApp(t)
	path := fmt.Sprintf("/api/v1/submissions/%d", a.submission.ID)
	payload := map[string]bool{"count_towards_total_limit": false}

	resp, _ := a.sendJSON(t, http.MethodPatch, path, staffID, payload)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := a.sendJSON(t, http.MethodPatch, path, adminID, payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(body.Data, &updated))
	require.False(t, updated.CountTowardsTotalLimit)
	require.True(t, updated.CountTowardsDailyLimit)
}

func TestSubmissionHandlerInternalStatusRequiresSystemRole(t *testing.T) {
	a := newTestApp(t)
	_, created := a.submit(t, studentID, map[string]string{"main.cpp": "int main() {}\n"})
	path := fmt.Sprintf("/api/v1/internal/submissions/%d/status", created.ID)

	update := func(role, payload string) (*http.Response, envelope) {
		req := httptest.NewRequest(http.MethodPatch, path, strings.NewReader(payload))
		req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
		if role != "" {
			req.Header.Set("X-User-Role", role)
		}
		return a.send(t, req)
	}

	resp, _ := update("", `{"status":"queued"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = update("student", `{"status":"queued"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := update("system", `{"status":"done"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.JSONEq(t, `{"Status":"oneof"}`, string(body.Details))

	resp, _ = update("system", `{"status":"finished_grading"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "received cannot jump to finished_grading")

	resp, body = update("system", `{"status":"queued"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var queued dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(body.Data, &queued))
	require.Equal(t, string(models.SubmissionStatusQueued), queued.Status)
}
