package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/jcoop32/applied/stream"
	"github.com/sirupsen/logrus"
)

// StatusUpdate is the wire form of one executor-side progress report. The
// same shape travels inbound (remote executor -> /api/worker/callback) and
// outbound (this process acting as a runner -> the dispatcher's callback
// URL). Redelivery is harmless: the record store drops writes that target a
// terminal task.
type StatusUpdate struct {
	TaskID      string            `json:"task_id"`
	Status      models.TaskStatus `json:"status"`
	LogLine     string            `json:"log_line,omitempty"`
	Result      models.JSONMap    `json:"result,omitempty"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorDetail string            `json:"error_detail,omitempty"`
}

// Reporter is where an executor writes task progress: the local record
// store when the task runs in-process, or HTTP callbacks when this process
// executes on behalf of a remote dispatcher.
type Reporter interface {
	Claim(taskID string) (bool, error)
	Log(taskID, line string)
	Complete(taskID string, result map[string]interface{}) error
	Fail(taskID, errKind, message, detail string) error
	Cancelled(taskID string) (bool, error)
}

// StoreReporter writes transitions into the task record store and fans
// them out through the broadcaster.
type StoreReporter struct{}

func (StoreReporter) Claim(taskID string) (bool, error) {
	ok, err := tasks.Claim(taskID)
	if ok {
		stream.PublishStatus(taskID, models.StatusRunning)
	}
	return ok, err
}

func (StoreReporter) Log(taskID, line string) {
	ok, err := tasks.AppendLog(taskID, line)
	if err != nil {
		logrus.WithField("task_id", taskID).WithError(err).Warn("failed to append task log")
		return
	}
	if ok {
		stream.PublishLog(taskID, line)
	}
}

func (StoreReporter) Complete(taskID string, result map[string]interface{}) error {
	ok, err := tasks.Complete(taskID, models.JSONMap(result))
	if err != nil {
		return err
	}
	if ok {
		stream.PublishStatus(taskID, models.StatusCompleted)
	}
	return nil
}

func (StoreReporter) Fail(taskID, errKind, message, detail string) error {
	ok, err := tasks.Fail(taskID, errKind, message, detail)
	if err != nil {
		return err
	}
	if ok {
		stream.PublishStatus(taskID, models.StatusFailed)
	}
	return nil
}

func (StoreReporter) Cancelled(taskID string) (bool, error) {
	ok, err := tasks.CancelRunning(taskID)
	if ok {
		stream.PublishStatus(taskID, models.StatusCancelled)
	}
	return ok, err
}

// CallbackReporter delivers progress over HTTP to the dispatching service.
// Status-update delivery is idempotent on the receiving side, so unlike the
// task-start call it is safe to retry with backoff.
type CallbackReporter struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewCallbackReporter(url, secret string) *CallbackReporter {
	return &CallbackReporter{
		URL:    url,
		Secret: secret,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

const callbackMaxRetries = 3

func (r *CallbackReporter) deliver(update StatusUpdate) error {
	op := func() error {
		body, err := json.Marshal(update)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequest(http.MethodPost, r.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Worker-Secret", r.Secret)
		resp, err := r.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("callback returned %d: %s", resp.StatusCode, raw)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("callback rejected: %d %s", resp.StatusCode, raw))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), callbackMaxRetries))
}

func (r *CallbackReporter) Claim(taskID string) (bool, error) {
	err := r.deliver(StatusUpdate{TaskID: taskID, Status: models.StatusRunning})
	return err == nil, err
}

func (r *CallbackReporter) Log(taskID, line string) {
	if err := r.deliver(StatusUpdate{TaskID: taskID, Status: models.StatusRunning, LogLine: line}); err != nil {
		logrus.WithField("task_id", taskID).WithError(err).Warn("failed to deliver log callback")
	}
}

func (r *CallbackReporter) Complete(taskID string, result map[string]interface{}) error {
	return r.deliver(StatusUpdate{TaskID: taskID, Status: models.StatusCompleted, Result: models.JSONMap(result)})
}

func (r *CallbackReporter) Fail(taskID, errKind, message, detail string) error {
	return r.deliver(StatusUpdate{
		TaskID:      taskID,
		Status:      models.StatusFailed,
		ErrorKind:   errKind,
		Error:       message,
		ErrorDetail: detail,
	})
}

func (r *CallbackReporter) Cancelled(taskID string) (bool, error) {
	err := r.deliver(StatusUpdate{TaskID: taskID, Status: models.StatusCancelled})
	return err == nil, err
}
