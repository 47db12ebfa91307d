package services

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"label_pizza/utils"
	"label_pizza/workspace/cascade"
	"label_pizza/workspace/consensus"
	"label_pizza/workspace/records"
	"label_pizza/workspace/schema"

	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

// workspaceError attaches the status code for errors returned by the workspace
// packages. Errors that already carry a code keep it.
func workspaceError(err error) error {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return err
	}

	switch {
	case errors.Is(err, cascade.ErrPlanChanged), errors.Is(err, schema.ErrCascadeNotConfirmed):
		return CodedError(err, http.StatusPreconditionFailed)
	case errors.Is(err, schema.ErrNotFound):
		return CodedError(err, http.StatusNotFound)
	case errors.Is(err, schema.ErrConflict), errors.Is(err, schema.ErrDuplicateGroundTruth):
		return CodedError(err, http.StatusConflict)
	case errors.Is(err, schema.ErrImmutableField), errors.Is(err, schema.ErrInvalidRecord):
		return CodedError(err, http.StatusUnprocessableEntity)
	case errors.Is(err, schema.ErrRoleCapabilityMissing):
		return CodedError(err, http.StatusForbidden)
	case errors.Is(err, schema.ErrStoreUnavailable):
		return CodedError(err, http.StatusServiceUnavailable)
	}
	return CodedError(err, http.StatusInternalServerError)
}

func writeError(w http.ResponseWriter, action string, err error) {
	err = workspaceError(err)
	code := GetResponseCode(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "action", action, "error", err)
	}
	http.Error(w, fmt.Sprintf("%v: %v", action, err), code)
}

func collectionParam(r *http.Request) (records.Collection, error) {
	param, err := utils.URLParam(r, "collection")
	if err != nil {
		return "", CodedError(err, http.StatusBadRequest)
	}
	c, err := records.ParseCollection(param)
	if err != nil {
		return "", CodedError(err, http.StatusNotFound)
	}
	return c, nil
}

func isYamlBody(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	return strings.Contains(contentType, "yaml")
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, CodedError(fmt.Errorf("error reading request body: %w", err), http.StatusBadRequest)
	}
	return data, nil
}

// targetRequest names one (video, question) pair of the project in the url.
type targetRequest struct {
	Video    string `json:"video"`
	Question string `json:"question"`
}

func (t targetRequest) load(txn *gorm.DB, r *http.Request) (consensus.Target, error) {
	projectName, err := utils.URLParam(r, "project")
	if err != nil {
		return consensus.Target{}, CodedError(err, http.StatusBadRequest)
	}
	if t.Video == "" || t.Question == "" {
		return consensus.Target{}, CodedError(errors.New("video and question must be specified"), http.StatusBadRequest)
	}
	return consensus.LoadTarget(txn, projectName, t.Video, t.Question)
}

func targetFromQuery(r *http.Request) targetRequest {
	return targetRequest{Video: r.URL.Query().Get("video"), Question: r.URL.Query().Get("question")}
}
