package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jcoop32/applied/agent"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/jcoop32/applied/stream"
	"github.com/sirupsen/logrus"
)

// A cold-starting runner may be slow to accept work but then legitimately
// run for a long time. The connect timeout and the header-read timeout
// bound the handoff only; the task's overall lifetime is bounded by the
// watchdog, and the two must never be conflated.
const (
	runnerConnectTimeout = 5 * time.Second
	runnerReadTimeout    = 30 * time.Second
)

// RunnerClient hands tasks to a remote runner service over HTTP. The start
// call is never retried: retrying a side-effecting dispatch risks a real
// job application being submitted twice. The task id inside the payload
// lets the runner reject a duplicate start on its side instead.
type RunnerClient struct {
	Endpoint    string
	Secret      string
	CallbackURL string
	Client      *http.Client
}

func NewRunnerClient(endpoint, secret, callbackURL string) *RunnerClient {
	return &RunnerClient{
		Endpoint:    endpoint,
		Secret:      secret,
		CallbackURL: callbackURL,
		Client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: runnerConnectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: runnerReadTimeout,
			},
		},
	}
}

func (c *RunnerClient) Configured() bool {
	return c != nil && c.Endpoint != "" && c.Secret != ""
}

// Dispatch hands one QUEUED task to the runner. Called on its own
// goroutine; a failed handoff is recorded into the task, never thrown back
// to the original caller.
func (c *RunnerClient) Dispatch(task *models.Task) {
	log := logrus.WithFields(logrus.Fields{"task_id": task.ID, "target": models.TargetRemoteRunner})
	if err := c.send(task); err != nil {
		log.WithError(err).Warn("remote runner dispatch failed")
		ok, ferr := tasks.Fail(task.ID, models.ErrKindDispatch,
			"Could not hand the task to the remote runner. Please retry.",
			fmt.Sprintf("%+v", err))
		if ferr != nil {
			log.WithError(ferr).Error("failed to record dispatch failure")
			return
		}
		if ok {
			stream.PublishStatus(task.ID, models.StatusFailed)
		}
		return
	}
	log.Info("task handed to remote runner")
}

// send performs the single, unretried start call. The payload is
// self-contained: the runner resolves everything from it, including where
// to deliver status callbacks.
func (c *RunnerClient) send(task *models.Task) error {
	spec := agent.TaskSpec{
		TaskID:      task.ID,
		Kind:        task.Kind,
		OwnerID:     task.OwnerID,
		SubjectKey:  task.SubjectKey,
		Params:      task.Params,
		CallbackURL: c.CallbackURL,
	}
	body, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.Endpoint+"/api/worker/task", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-Secret", c.Secret)
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("runner returned %d: %s", resp.StatusCode, raw)
	}
	return nil
}

// CancelTask asks the runner to cancel a task, bounded by ctx (the grace
// period). Returns whether the runner acknowledged.
func (c *RunnerClient) CancelTask(ctx context.Context, taskID string) (bool, error) {
	body, err := json.Marshal(map[string]string{"task_id": taskID})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/api/worker/cancel", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-Secret", c.Secret)
	resp, err := c.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK, nil
}
