package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jcoop32/applied/agent"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/jcoop32/applied/stream"
	"github.com/sirupsen/logrus"
)

const (
	researchWorkflow = "research_agent.yml"
	applyWorkflow    = "apply_agent.yml"
)

// ActionsClient dispatches tasks to a GitHub Actions workflow. The workflow
// job downloads what it needs from the self-contained payload and reports
// back through the status callback endpoint; GitHub only acknowledges the
// dispatch (204), so the task stays QUEUED until the job claims it.
type ActionsClient struct {
	Token   string
	Owner   string
	Repo    string
	Ref     string
	APIBase string
	Client  *http.Client

	CallbackURL string
}

func NewActionsClient(token, owner, repo, callbackURL string) *ActionsClient {
	return &ActionsClient{
		Token:       token,
		Owner:       owner,
		Repo:        repo,
		Ref:         "main",
		APIBase:     "https://api.github.com",
		Client:      &http.Client{Timeout: 30 * time.Second},
		CallbackURL: callbackURL,
	}
}

func (c *ActionsClient) Configured() bool {
	return c != nil && c.Token != "" && c.Owner != "" && c.Repo != ""
}

func workflowFor(kind models.TaskKind) string {
	if kind == models.KindApply {
		return applyWorkflow
	}
	return researchWorkflow
}

func (c *ActionsClient) Dispatch(task *models.Task) {
	log := logrus.WithFields(logrus.Fields{"task_id": task.ID, "target": models.TargetRemoteActions})
	if err := c.send(task); err != nil {
		log.WithError(err).Warn("workflow dispatch failed")
		ok, ferr := tasks.Fail(task.ID, models.ErrKindDispatch,
			"Could not start the cloud agent. Please retry.",
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
	log.Info("workflow dispatch accepted")
}

func (c *ActionsClient) send(task *models.Task) error {
	spec := agent.TaskSpec{
		TaskID:      task.ID,
		Kind:        task.Kind,
		OwnerID:     task.OwnerID,
		SubjectKey:  task.SubjectKey,
		Params:      task.Params,
		CallbackURL: c.CallbackURL,
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]interface{}{
		"ref": c.Ref,
		"inputs": map[string]string{
			"task":    string(task.Kind),
			"payload": string(payload),
		},
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches",
		c.APIBase, c.Owner, c.Repo, workflowFor(task.Kind))
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("workflow dispatch returned %d: %s", resp.StatusCode, raw)
	}
	return nil
}
