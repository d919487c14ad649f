/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package notification raises operator-visible alerts: an error log line and, when a
// webhook is configured, a Slack message.
package notification

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/request"
)

const sendTimeout = 5 * time.Second

// Notifier sends alerts to Slack.
type Notifier struct {
	WebhookURL string
	// Source names this process in the alert header, e.g. "sorter line 3".
	Source string
	Client *http.Client

	wg sync.WaitGroup
}

// NewNotifier creates a notifier. An empty webhook only logs.
func NewNotifier(webhookURL, source string) *Notifier {
	if source == "" {
		source = "Sorting Rule Engine"
	}
	return &Notifier{WebhookURL: webhookURL, Source: source}
}

// SlackNotification sends an error message to the Slack webhook and waits for the answer.
//
// Parameters:
// - ctx context.Context: Bounds the HTTP call.
// - systemError error: The error to be reported via Slack.
//
// Returns:
// - error: An error if the payload could not be built or the webhook call failed.
func (n *Notifier) SlackNotification(ctx context.Context, systemError error) error {
	data := map[string]interface{}{
		"blocks": []interface{}{
			map[string]interface{}{
				"type": "header",
				"text": map[string]interface{}{
					"type":  "plain_text",
					"text":  fmt.Sprintf("Alert from %s", n.Source),
					"emoji": true,
				},
			},
			section("Error", systemError.Error()),
			section("Time", time.Now().Format(time.RFC822)),
		},
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, payload)
	if err != nil {
		return err
	}

	// Slack answers "ok" as plain text, so the body is not decoded.
	_, err = request.Call(n.Client, req, nil)
	return err
}

func section(title, text string) map[string]interface{} {
	return map[string]interface{}{
		"type": "section",
		"fields": []interface{}{
			map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s:*\n%s", title, text),
			},
		},
	}
}

// NotifyError logs the error and sends it to Slack, if configured, without blocking.
func (n *Notifier) NotifyError(systemError error) {
	logrus.WithField("alert", true).Error(systemError)
	if n == nil || n.WebhookURL == "" {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.SlackNotification(ctx, systemError); err != nil {
			logrus.Warnf("failed to send slack alert: %v", err)
		}
	}()
}

// Wait blocks until alerts in flight have been sent.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}
